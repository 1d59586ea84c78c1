package autodiff

import (
	"errors"
	"math"
	"testing"
)

func TestGaussianNLLExactAtTarget(t *testing.T) {
	// When predicted means equal the targets the residual term vanishes and
	// the loss reduces to the mean over the batch of the summed log-variances.
	output := tensorFrom(t, 2, 4, []float64{
		1.0, -2.0, 0.3, -0.5,
		0.5, 4.0, 1.2, 0.8,
	}, false)
	targets := tensorFrom(t, 2, 2, []float64{
		1.0, -2.0,
		0.5, 4.0,
	}, false)

	loss, err := GaussianNLL(output, targets)
	if err != nil {
		t.Fatalf("GaussianNLL failed: %v", err)
	}
	got, err := loss.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}

	want := ((0.3 - 0.5) + (1.2 + 0.8)) / 2.0
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("loss = %v, want %v", got, want)
	}
}

func TestGaussianNLLWidthMismatch(t *testing.T) {
	output := tensorFrom(t, 2, 3, []float64{1, 2, 3, 4, 5, 6}, false)
	targets := tensorFrom(t, 2, 2, []float64{1, 2, 3, 4}, false)

	_, err := GaussianNLL(output, targets)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestGaussianNLLBatchMismatch(t *testing.T) {
	output := tensorFrom(t, 3, 2, []float64{1, 2, 3, 4, 5, 6}, false)
	targets := tensorFrom(t, 2, 1, []float64{1, 2}, false)

	_, err := GaussianNLL(output, targets)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestGaussianNLLDivergentLogVariance(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		output := tensorFrom(t, 1, 2, []float64{0.5, bad}, false)
		targets := tensorFrom(t, 1, 1, []float64{0.4}, false)

		_, err := GaussianNLL(output, targets)
		if !errors.Is(err, ErrNumericalDivergence) {
			t.Errorf("logVar=%v: expected ErrNumericalDivergence, got %v", bad, err)
		}
	}
}

func TestGaussianNLLGradient(t *testing.T) {
	outData := []float64{
		0.8, -0.3, 0.2, -0.4,
		1.5, 0.7, -0.6, 0.9,
	}
	tgtData := []float64{
		1.0, 0.0,
		1.2, 0.5,
	}

	output := tensorFrom(t, 2, 4, outData, true)
	targets := tensorFrom(t, 2, 2, tgtData, false)

	loss, err := GaussianNLL(output, targets)
	if err != nil {
		t.Fatalf("GaussianNLL failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	num := numericGrad(func(vals []float64) float64 {
		ov := tensorFrom(t, 2, 4, vals, false)
		tv := tensorFrom(t, 2, 2, tgtData, false)
		lv, _ := GaussianNLL(ov, tv)
		v, _ := lv.Item()
		return v
	}, outData)
	assertClose(t, flatten(output.Grad), num, gradTol, "dGaussianNLL")
}

func TestMSELossValueAndGradient(t *testing.T) {
	predData := []float64{1.0, 2.0, 3.0, 4.0}
	tgtData := []float64{0.5, 2.5, 2.0, 5.0}

	preds := tensorFrom(t, 2, 2, predData, true)
	targets := tensorFrom(t, 2, 2, tgtData, false)

	loss, err := MSELoss(preds, targets)
	if err != nil {
		t.Fatalf("MSELoss failed: %v", err)
	}
	got, _ := loss.Item()
	want := (0.25 + 0.25 + 1.0 + 1.0) / 4.0
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("loss = %v, want %v", got, want)
	}

	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	num := numericGrad(func(vals []float64) float64 {
		pv := tensorFrom(t, 2, 2, vals, false)
		tv := tensorFrom(t, 2, 2, tgtData, false)
		lv, _ := MSELoss(pv, tv)
		v, _ := lv.Item()
		return v
	}, predData)
	assertClose(t, flatten(preds.Grad), num, gradTol, "dMSE")
}

func TestMSELossDimensionMismatch(t *testing.T) {
	preds := tensorFrom(t, 2, 2, []float64{1, 2, 3, 4}, false)
	targets := tensorFrom(t, 2, 1, []float64{1, 2}, false)

	_, err := MSELoss(preds, targets)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
