package model

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/kevinykuo/condrop/pkg/autodiff"
)

// TrainConfig contains configuration for gradient-based training.
type TrainConfig struct {
	LearningRate float64
	Epochs       int
	Optimizer    string // "adam", "adamw" or "sgd"
	WeightDecay  float64
	ClipGradNorm float64
	LogEvery     int // epochs between progress lines; 0 disables logging
	Seed         int64
}

// NewTrainConfig creates a default training configuration.
func NewTrainConfig() *TrainConfig {
	return &TrainConfig{
		LearningRate: 1e-3,
		Epochs:       200,
		Optimizer:    "adam",
		WeightDecay:  0,
		ClipGradNorm: 10,
		LogEvery:     20,
		Seed:         1,
	}
}

// Trainer runs full-batch gradient descent on a heteroscedastic model.
type Trainer struct {
	Model     *Heteroscedastic
	Config    *TrainConfig
	Optimizer autodiff.Optimizer
	Params    map[string]*autodiff.Tensor
	BestLoss  float64

	rng  *rand.Rand
	step int
}

// NewTrainer creates a trainer for the given model.
func NewTrainer(m *Heteroscedastic, cfg *TrainConfig) (*Trainer, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: trainer needs a model", autodiff.ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = NewTrainConfig()
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("%w: epochs must be positive, got %d", autodiff.ErrInvalidConfig, cfg.Epochs)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("%w: learning rate must be positive, got %v", autodiff.ErrInvalidConfig, cfg.LearningRate)
	}

	var opt autodiff.Optimizer
	switch cfg.Optimizer {
	case "adam", "adamw", "":
		opt = autodiff.NewAdamOptimizer(cfg.LearningRate, cfg.WeightDecay)
	case "sgd":
		opt = autodiff.NewSGDOptimizer(cfg.LearningRate, cfg.WeightDecay)
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", autodiff.ErrInvalidConfig, cfg.Optimizer)
	}

	return &Trainer{
		Model:     m,
		Config:    cfg,
		Optimizer: opt,
		Params:    m.Parameters(),
		BestLoss:  math.Inf(1),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// ZeroGradients clears the accumulated gradients of every parameter.
func (t *Trainer) ZeroGradients() {
	for _, p := range t.Params {
		if p.Grad != nil && p.RequiresGrad {
			p.Grad.Zero()
		}
	}
}

// TrainStep runs one forward/backward/update cycle over the full batch and
// returns the composite loss value. A NaN or Inf loss propagates as
// ErrNumericalDivergence without updating the parameters.
func (t *Trainer) TrainStep(x, y *autodiff.Tensor) (float64, error) {
	if x == nil || y == nil {
		return 0, fmt.Errorf("%w: training inputs cannot be nil", autodiff.ErrInvalidConfig)
	}

	t.ZeroGradients()

	output, reg, err := t.Model.Forward(x, true, t.rng)
	if err != nil {
		return 0, fmt.Errorf("forward pass: %w", err)
	}

	loss, err := t.Model.Loss(output, reg, y)
	if err != nil {
		return 0, err
	}

	lossValue, err := loss.Item()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(lossValue) || math.IsInf(lossValue, 0) {
		return 0, fmt.Errorf("%w: composite loss at step %d is %v",
			autodiff.ErrNumericalDivergence, t.step, lossValue)
	}

	if err := loss.Backward(); err != nil {
		return 0, fmt.Errorf("backward pass: %w", err)
	}

	autodiff.ClipGradNorm(t.Params, t.Config.ClipGradNorm)
	t.Optimizer.Step(t.Params)
	t.step++

	return lossValue, nil
}

// Fit trains for the configured number of epochs on the full batch,
// logging progress and the learned dropout rates along the way.
func (t *Trainer) Fit(x, y *autodiff.Tensor) error {
	for epoch := 1; epoch <= t.Config.Epochs; epoch++ {
		loss, err := t.TrainStep(x, y)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if loss < t.BestLoss {
			t.BestLoss = loss
		}
		if t.Config.LogEvery > 0 && epoch%t.Config.LogEvery == 0 {
			log.Printf("epoch %d/%d loss=%.4f rates=%s", epoch, t.Config.Epochs, loss, t.rateSummary())
		}
	}
	return nil
}

func (t *Trainer) rateSummary() string {
	s := ""
	for i, w := range t.Model.Wrappers() {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%.3f", w.Rate())
	}
	return "[" + s + "]"
}
