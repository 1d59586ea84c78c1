package model

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/kevinykuo/condrop/pkg/autodiff"
)

func smallConfig() Config {
	return Config{
		InputDim:           1,
		HiddenDim:          4,
		HiddenLayers:       2,
		OutputDim:          1,
		MCDropout:          true,
		WeightRegularizer:  1e-6,
		DropoutRegularizer: 1e-5,
		InitMin:            0.1,
		InitMax:            0.1,
	}
}

func newTestModel(t *testing.T, cfg Config, seed int64) *Heteroscedastic {
	t.Helper()
	m, err := New(cfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func batchTensor(t *testing.T, rows, cols int, data []float64) *autodiff.Tensor {
	t.Helper()
	mtx, err := autodiff.NewMatrixFrom(rows, cols, data)
	if err != nil {
		t.Fatalf("NewMatrixFrom: %v", err)
	}
	tr, err := autodiff.NewTensor(mtx, nil)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	return tr
}

func TestNewRejectsBadDimensions(t *testing.T) {
	bad := []Config{
		{InputDim: 0, HiddenDim: 4, HiddenLayers: 1, OutputDim: 1, InitMin: 0.1, InitMax: 0.1},
		{InputDim: 1, HiddenDim: 0, HiddenLayers: 1, OutputDim: 1, InitMin: 0.1, InitMax: 0.1},
		{InputDim: 1, HiddenDim: 4, HiddenLayers: 0, OutputDim: 1, InitMin: 0.1, InitMax: 0.1},
		{InputDim: 1, HiddenDim: 4, HiddenLayers: 1, OutputDim: 0, InitMin: 0.1, InitMax: 0.1},
	}
	for i, cfg := range bad {
		if _, err := New(cfg, rand.New(rand.NewSource(1))); !errors.Is(err, autodiff.ErrInvalidConfig) {
			t.Errorf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

func TestForwardOutputShape(t *testing.T) {
	cfg := smallConfig()
	cfg.OutputDim = 2
	m := newTestModel(t, cfg, 1)

	x := batchTensor(t, 3, 1, []float64{0.5, -1.0, 2.0})
	rng := rand.New(rand.NewSource(7))

	out, reg, err := m.Forward(x, true, rng)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	rows, cols := out.Shape()
	if rows != 3 || cols != 2*cfg.OutputDim {
		t.Errorf("output shape = %dx%d, want 3x%d", rows, cols, 2*cfg.OutputDim)
	}
	if reg == nil {
		t.Fatal("Forward returned nil regularization term")
	}
	if r, c := reg.Shape(); r != 1 || c != 1 {
		t.Errorf("regularization shape = %dx%d, want 1x1", r, c)
	}
}

func TestForwardRejectsWrongFeatureCount(t *testing.T) {
	m := newTestModel(t, smallConfig(), 1)
	x := batchTensor(t, 2, 3, []float64{1, 2, 3, 4, 5, 6})
	_, _, err := m.Forward(x, true, rand.New(rand.NewSource(7)))
	if !errors.Is(err, autodiff.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

// The first OutputDim columns must come from the mean head and the rest from
// the log-variance head. Backpropagating through only the mean columns must
// therefore reach the mean head's kernel and leave the log-variance head's
// kernel untouched.
func TestHeadConcatenationOrder(t *testing.T) {
	m := newTestModel(t, smallConfig(), 3)

	x := batchTensor(t, 2, 1, []float64{0.5, -0.3})
	out, _, err := m.Forward(x, true, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	meanCols, err := autodiff.SliceCols(out, 0, m.Config.OutputDim)
	if err != nil {
		t.Fatalf("SliceCols: %v", err)
	}
	loss, err := autodiff.Sum(meanCols)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward: %v", err)
	}

	meanKernel := m.MeanHead.Layer.Kernel
	any := false
	for i := 0; i < meanKernel.Grad.Rows; i++ {
		for j := 0; j < meanKernel.Grad.Cols; j++ {
			if meanKernel.Grad.At(i, j) != 0 {
				any = true
			}
		}
	}
	if !any {
		t.Error("mean-head kernel received no gradient through the mean columns")
	}

	logVarKernel := m.LogVarHead.Layer.Kernel
	for i := 0; i < logVarKernel.Grad.Rows; i++ {
		for j := 0; j < logVarKernel.Grad.Cols; j++ {
			if g := logVarKernel.Grad.At(i, j); g != 0 {
				t.Fatalf("log-variance kernel grad[%d,%d] = %v through mean columns, want 0", i, j, g)
			}
		}
	}
}

func TestLossRejectsTargetWidthMismatch(t *testing.T) {
	m := newTestModel(t, smallConfig(), 1)

	x := batchTensor(t, 2, 1, []float64{0.5, -0.3})
	out, reg, err := m.Forward(x, true, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	targets := batchTensor(t, 2, 2, []float64{1, 2, 3, 4})
	if _, err := m.Loss(out, reg, targets); !errors.Is(err, autodiff.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLossIncludesRegularization(t *testing.T) {
	m := newTestModel(t, smallConfig(), 1)

	x := batchTensor(t, 2, 1, []float64{0.5, -0.3})
	targets := batchTensor(t, 2, 1, []float64{0.4, -0.2})

	out, reg, err := m.Forward(x, true, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	withReg, err := m.Loss(out, reg, targets)
	if err != nil {
		t.Fatalf("Loss: %v", err)
	}
	withoutReg, err := m.Loss(out, nil, targets)
	if err != nil {
		t.Fatalf("Loss without reg: %v", err)
	}

	a, _ := withReg.Item()
	b, _ := withoutReg.Item()
	r, _ := reg.Item()
	if math.Abs((a-b)-r) > 1e-12 {
		t.Errorf("loss difference %v does not equal regularization term %v", a-b, r)
	}
}

func TestParametersIncludeEveryLogit(t *testing.T) {
	m := newTestModel(t, smallConfig(), 1)
	params := m.Parameters()

	// 2 trunk layers + 2 heads, each with kernel, bias and p_logit.
	if want := 4 * 3; len(params) != want {
		t.Errorf("got %d parameters, want %d", len(params), want)
	}
	for _, w := range m.Wrappers() {
		if _, ok := params[w.PLogit.Name]; !ok {
			t.Errorf("parameter map is missing %q", w.PLogit.Name)
		}
	}
}

func TestTrainStepReducesLoss(t *testing.T) {
	m := newTestModel(t, smallConfig(), 2)

	// Simple linear data with modest noise-free targets.
	n := 32
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = -2 + 4*float64(i)/float64(n-1)
		ys[i] = 0.5 * xs[i]
	}
	x := batchTensor(t, n, 1, xs)
	y := batchTensor(t, n, 1, ys)

	cfg := NewTrainConfig()
	cfg.LearningRate = 1e-2
	cfg.LogEvery = 0
	tr, err := NewTrainer(m, cfg)
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}

	first, err := tr.TrainStep(x, y)
	if err != nil {
		t.Fatalf("TrainStep: %v", err)
	}
	var last float64
	for i := 0; i < 150; i++ {
		last, err = tr.TrainStep(x, y)
		if err != nil {
			t.Fatalf("TrainStep %d: %v", i, err)
		}
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %v, last %v", first, last)
	}
}

func TestNewTrainerValidation(t *testing.T) {
	m := newTestModel(t, smallConfig(), 1)

	if _, err := NewTrainer(nil, NewTrainConfig()); !errors.Is(err, autodiff.ErrInvalidConfig) {
		t.Errorf("nil model: expected ErrInvalidConfig, got %v", err)
	}

	cfg := NewTrainConfig()
	cfg.Optimizer = "lbfgs"
	if _, err := NewTrainer(m, cfg); !errors.Is(err, autodiff.ErrInvalidConfig) {
		t.Errorf("unknown optimizer: expected ErrInvalidConfig, got %v", err)
	}

	cfg = NewTrainConfig()
	cfg.Epochs = 0
	if _, err := NewTrainer(m, cfg); !errors.Is(err, autodiff.ErrInvalidConfig) {
		t.Errorf("zero epochs: expected ErrInvalidConfig, got %v", err)
	}
}
