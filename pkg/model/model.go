// Package model assembles concrete-dropout layers into a heteroscedastic
// regression network with separate mean and log-variance output heads.
package model

import (
	"fmt"
	"math/rand"

	"github.com/kevinykuo/condrop/pkg/autodiff"
	"github.com/kevinykuo/condrop/pkg/condrop"
)

// Config describes the network architecture and the dropout wrapper
// settings shared by every layer.
type Config struct {
	InputDim     int  `json:"input_dim"`
	HiddenDim    int  `json:"hidden_dim"`
	HiddenLayers int  `json:"hidden_layers"`
	OutputDim    int  `json:"output_dim"`
	MCDropout    bool `json:"mc_dropout"`

	WeightRegularizer  float64 `json:"weight_regularizer"`
	DropoutRegularizer float64 `json:"dropout_regularizer"`
	InitMin            float64 `json:"init_min"`
	InitMax            float64 `json:"init_max"`
}

// NewConfig returns a default architecture for 1-D regression.
func NewConfig() Config {
	return Config{
		InputDim:           1,
		HiddenDim:          64,
		HiddenLayers:       3,
		OutputDim:          1,
		MCDropout:          true,
		WeightRegularizer:  1e-6,
		DropoutRegularizer: 1e-5,
		InitMin:            0.1,
		InitMax:            0.1,
	}
}

// Heteroscedastic is a trunk of concrete-dropout dense layers feeding two
// parallel wrapped heads. Its output concatenates the heads along the
// feature axis, mean columns first, then log-variance columns.
type Heteroscedastic struct {
	Config     Config
	Trunk      []*condrop.ConcreteDropout
	MeanHead   *condrop.ConcreteDropout
	LogVarHead *condrop.ConcreteDropout
}

// New builds the network. All weights are initialized from rng, so a fixed
// seed reproduces the same model.
func New(cfg Config, rng *rand.Rand) (*Heteroscedastic, error) {
	if cfg.InputDim <= 0 || cfg.HiddenDim <= 0 || cfg.OutputDim <= 0 || cfg.HiddenLayers <= 0 {
		return nil, fmt.Errorf("%w: model dimensions must be positive, got input=%d hidden=%d layers=%d output=%d",
			autodiff.ErrInvalidConfig, cfg.InputDim, cfg.HiddenDim, cfg.HiddenLayers, cfg.OutputDim)
	}

	dropCfg := condrop.Config{
		WeightRegularizer:  cfg.WeightRegularizer,
		DropoutRegularizer: cfg.DropoutRegularizer,
		InitMin:            cfg.InitMin,
		InitMax:            cfg.InitMax,
		MCDropout:          cfg.MCDropout,
	}

	trunk := make([]*condrop.ConcreteDropout, cfg.HiddenLayers)
	inDim := cfg.InputDim
	for i := range trunk {
		name := fmt.Sprintf("trunk_%d", i)
		layer, err := condrop.NewDense(inDim, cfg.HiddenDim, autodiff.ReLU, rng, name)
		if err != nil {
			return nil, err
		}
		trunk[i], err = condrop.New(layer, dropCfg, rng, name)
		if err != nil {
			return nil, err
		}
		inDim = cfg.HiddenDim
	}

	meanDense, err := condrop.NewDense(cfg.HiddenDim, cfg.OutputDim, nil, rng, "mean_head")
	if err != nil {
		return nil, err
	}
	meanHead, err := condrop.New(meanDense, dropCfg, rng, "mean_head")
	if err != nil {
		return nil, err
	}

	logVarDense, err := condrop.NewDense(cfg.HiddenDim, cfg.OutputDim, nil, rng, "logvar_head")
	if err != nil {
		return nil, err
	}
	logVarHead, err := condrop.New(logVarDense, dropCfg, rng, "logvar_head")
	if err != nil {
		return nil, err
	}

	return &Heteroscedastic{
		Config:     cfg,
		Trunk:      trunk,
		MeanHead:   meanHead,
		LogVarHead: logVarHead,
	}, nil
}

// Forward runs the trunk and both heads and returns the concatenated output
// (mean columns first) together with the summed regularization terms from
// every wrapper.
func (m *Heteroscedastic) Forward(x *autodiff.Tensor, training bool, noise condrop.UniformSource) (*autodiff.Tensor, *autodiff.Tensor, error) {
	if x == nil {
		return nil, nil, fmt.Errorf("input tensor cannot be nil")
	}
	if x.Data.Cols != m.Config.InputDim {
		return nil, nil, fmt.Errorf("%w: model expects %d input features, got %d",
			autodiff.ErrInvalidConfig, m.Config.InputDim, x.Data.Cols)
	}

	h := x
	var regTotal *autodiff.Tensor
	addReg := func(reg *autodiff.Tensor) error {
		if regTotal == nil {
			regTotal = reg
			return nil
		}
		var err error
		regTotal, err = autodiff.Add(regTotal, reg)
		return err
	}

	for i, layer := range m.Trunk {
		var reg *autodiff.Tensor
		var err error
		h, reg, err = layer.Forward(h, training, noise)
		if err != nil {
			return nil, nil, fmt.Errorf("trunk layer %d: %w", i, err)
		}
		if err = addReg(reg); err != nil {
			return nil, nil, fmt.Errorf("trunk layer %d reg: %w", i, err)
		}
	}

	meanOut, meanReg, err := m.MeanHead.Forward(h, training, noise)
	if err != nil {
		return nil, nil, fmt.Errorf("mean head: %w", err)
	}
	if err = addReg(meanReg); err != nil {
		return nil, nil, fmt.Errorf("mean head reg: %w", err)
	}

	logVarOut, logVarReg, err := m.LogVarHead.Forward(h, training, noise)
	if err != nil {
		return nil, nil, fmt.Errorf("logvar head: %w", err)
	}
	if err = addReg(logVarReg); err != nil {
		return nil, nil, fmt.Errorf("logvar head reg: %w", err)
	}

	out, err := autodiff.ConcatCols(meanOut, logVarOut)
	if err != nil {
		return nil, nil, fmt.Errorf("head concat: %w", err)
	}

	return out, regTotal, nil
}

// Loss combines the heteroscedastic Gaussian NLL with the summed wrapper
// regularization terms.
func (m *Heteroscedastic) Loss(output, reg, targets *autodiff.Tensor) (*autodiff.Tensor, error) {
	if targets == nil {
		return nil, fmt.Errorf("targets tensor cannot be nil")
	}
	if targets.Data.Cols != m.Config.OutputDim {
		return nil, fmt.Errorf("%w: targets have %d columns, model output dim is %d",
			autodiff.ErrInvalidConfig, targets.Data.Cols, m.Config.OutputDim)
	}

	nll, err := autodiff.GaussianNLL(output, targets)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nll, nil
	}

	total, err := autodiff.Add(nll, reg)
	if err != nil {
		return nil, fmt.Errorf("combining nll and regularization: %w", err)
	}
	return total, nil
}

// Parameters returns every learnable tensor in the model keyed by name.
func (m *Heteroscedastic) Parameters() map[string]*autodiff.Tensor {
	params := make(map[string]*autodiff.Tensor)
	for _, layer := range m.Trunk {
		for name, p := range layer.Parameters() {
			params[name] = p
		}
	}
	for name, p := range m.MeanHead.Parameters() {
		params[name] = p
	}
	for name, p := range m.LogVarHead.Parameters() {
		params[name] = p
	}
	return params
}

// Wrappers returns all concrete-dropout wrappers, trunk first, then the mean
// and log-variance heads.
func (m *Heteroscedastic) Wrappers() []*condrop.ConcreteDropout {
	ws := make([]*condrop.ConcreteDropout, 0, len(m.Trunk)+2)
	ws = append(ws, m.Trunk...)
	return append(ws, m.MeanHead, m.LogVarHead)
}
