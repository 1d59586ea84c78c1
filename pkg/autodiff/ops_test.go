package autodiff

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
)

const gradTol = 1e-5

func tensorFrom(t *testing.T, rows, cols int, data []float64, requiresGrad bool) *Tensor {
	t.Helper()
	m, err := NewMatrixFrom(rows, cols, data)
	if err != nil {
		t.Fatalf("NewMatrixFrom: %v", err)
	}
	tr, err := NewTensor(m, &TensorConfig{RequiresGrad: requiresGrad})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	return tr
}

func numericGrad(f func(vals []float64) float64, at []float64) []float64 {
	x := make([]float64, len(at))
	copy(x, at)
	return fd.Gradient(nil, f, x, &fd.Settings{Formula: fd.Central})
}

func flatten(m *Matrix) []float64 {
	out := make([]float64, 0, m.Rows*m.Cols)
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

func assertClose(t *testing.T, got, want []float64, tol float64, label string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length mismatch %d vs %d", label, len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Errorf("%s[%d] = %v, want %v (tol %v)", label, i, got[i], want[i], tol)
		}
	}
}

func TestMatMulForward(t *testing.T) {
	a := tensorFrom(t, 2, 3, []float64{1, 2, 3, 4, 5, 6}, false)
	b := tensorFrom(t, 3, 2, []float64{1, 0, 0, 1, 1, 1}, false)

	c, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}

	want := []float64{4, 5, 10, 11}
	assertClose(t, flatten(c.Data), want, 1e-12, "matmul")
}

func TestMatMulDimensionMismatch(t *testing.T) {
	a := tensorFrom(t, 2, 3, []float64{1, 2, 3, 4, 5, 6}, false)
	b := tensorFrom(t, 2, 2, []float64{1, 0, 0, 1}, false)
	if _, err := MatMul(a, b); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestMatMulGradient(t *testing.T) {
	aData := []float64{0.5, -1.2, 2.0, 0.3, 1.1, -0.7}
	bData := []float64{1.5, -0.4, 0.8, 0.2, -1.0, 0.6}

	a := tensorFrom(t, 2, 3, aData, true)
	b := tensorFrom(t, 3, 2, bData, true)

	c, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	loss, err := Sum(c)
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	numA := numericGrad(func(vals []float64) float64 {
		av := tensorFrom(t, 2, 3, vals, false)
		bv := tensorFrom(t, 3, 2, bData, false)
		cv, _ := MatMul(av, bv)
		lv, _ := Sum(cv)
		v, _ := lv.Item()
		return v
	}, aData)
	assertClose(t, flatten(a.Grad), numA, gradTol, "dA")

	numB := numericGrad(func(vals []float64) float64 {
		av := tensorFrom(t, 2, 3, aData, false)
		bv := tensorFrom(t, 3, 2, vals, false)
		cv, _ := MatMul(av, bv)
		lv, _ := Sum(cv)
		v, _ := lv.Item()
		return v
	}, bData)
	assertClose(t, flatten(b.Grad), numB, gradTol, "dB")
}

func TestMultiplyGradient(t *testing.T) {
	aData := []float64{1.5, -2.0, 0.25, 3.0}
	bData := []float64{0.5, 1.0, -4.0, 2.0}

	a := tensorFrom(t, 2, 2, aData, true)
	b := tensorFrom(t, 2, 2, bData, true)

	c, err := Multiply(a, b)
	if err != nil {
		t.Fatalf("Multiply failed: %v", err)
	}
	loss, _ := Sum(c)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// d(sum(a*b))/da = b and vice versa.
	assertClose(t, flatten(a.Grad), bData, 1e-12, "dA")
	assertClose(t, flatten(b.Grad), aData, 1e-12, "dB")
}

func TestAddRowVectorGradient(t *testing.T) {
	aData := []float64{1, 2, 3, 4, 5, 6}
	bData := []float64{0.5, -0.5}

	a := tensorFrom(t, 3, 2, aData, true)
	b := tensorFrom(t, 1, 2, bData, true)

	c, err := AddRowVector(a, b)
	if err != nil {
		t.Fatalf("AddRowVector failed: %v", err)
	}
	if got := c.Data.At(2, 1); got != 5.5 {
		t.Errorf("c.At(2,1) = %v, want 5.5", got)
	}

	loss, _ := Sum(c)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// Bias gradient is the column sum of the upstream gradient.
	assertClose(t, flatten(b.Grad), []float64{3, 3}, 1e-12, "dBias")
	assertClose(t, flatten(a.Grad), []float64{1, 1, 1, 1, 1, 1}, 1e-12, "dA")
}

func TestReLUGradient(t *testing.T) {
	data := []float64{-1.5, 2.0, -0.1, 3.0}
	a := tensorFrom(t, 2, 2, data, true)

	c, err := ReLU(a)
	if err != nil {
		t.Fatalf("ReLU failed: %v", err)
	}
	assertClose(t, flatten(c.Data), []float64{0, 2, 0, 3}, 1e-12, "relu")

	loss, _ := Sum(c)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	assertClose(t, flatten(a.Grad), []float64{0, 1, 0, 1}, 1e-12, "dReLU")
}

func TestExpGradient(t *testing.T) {
	data := []float64{0.5, -1.0}
	a := tensorFrom(t, 1, 2, data, true)

	c, err := Exp(a)
	if err != nil {
		t.Fatalf("Exp failed: %v", err)
	}
	loss, _ := Sum(c)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	want := []float64{math.Exp(0.5), math.Exp(-1.0)}
	assertClose(t, flatten(a.Grad), want, 1e-12, "dExp")
}

func TestSquareAndMeanGradient(t *testing.T) {
	data := []float64{1.0, -2.0, 3.0, 0.5}
	a := tensorFrom(t, 2, 2, data, true)

	sq, err := Square(a)
	if err != nil {
		t.Fatalf("Square failed: %v", err)
	}
	loss, err := Mean(sq)
	if err != nil {
		t.Fatalf("Mean failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	num := numericGrad(func(vals []float64) float64 {
		av := tensorFrom(t, 2, 2, vals, false)
		sv, _ := Square(av)
		lv, _ := Mean(sv)
		v, _ := lv.Item()
		return v
	}, data)
	assertClose(t, flatten(a.Grad), num, gradTol, "dMeanSquare")
}

func TestConcatAndSliceColsRoundTrip(t *testing.T) {
	a := tensorFrom(t, 2, 2, []float64{1, 2, 3, 4}, true)
	b := tensorFrom(t, 2, 1, []float64{5, 6}, true)

	c, err := ConcatCols(a, b)
	if err != nil {
		t.Fatalf("ConcatCols failed: %v", err)
	}
	assertClose(t, flatten(c.Data), []float64{1, 2, 5, 3, 4, 6}, 1e-12, "concat")

	left, err := SliceCols(c, 0, 2)
	if err != nil {
		t.Fatalf("SliceCols failed: %v", err)
	}
	assertClose(t, flatten(left.Data), []float64{1, 2, 3, 4}, 1e-12, "slice left")

	right, err := SliceCols(c, 2, 1)
	if err != nil {
		t.Fatalf("SliceCols failed: %v", err)
	}
	assertClose(t, flatten(right.Data), []float64{5, 6}, 1e-12, "slice right")

	// Gradient through a slice flows only to the sliced columns.
	loss, _ := Sum(right)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	assertClose(t, flatten(a.Grad), []float64{0, 0, 0, 0}, 1e-12, "dA through slice")
	assertClose(t, flatten(b.Grad), []float64{1, 1}, 1e-12, "dB through slice")
}

func TestSliceColsBounds(t *testing.T) {
	a := tensorFrom(t, 2, 3, []float64{1, 2, 3, 4, 5, 6}, false)
	for _, args := range [][2]int{{-1, 2}, {0, 0}, {2, 2}} {
		if _, err := SliceCols(a, args[0], args[1]); err == nil {
			t.Errorf("SliceCols(%d, %d) did not return an error", args[0], args[1])
		}
	}
}

func TestBackwardRequiresScalar(t *testing.T) {
	a := tensorFrom(t, 2, 2, []float64{1, 2, 3, 4}, true)
	if err := a.Backward(); err == nil {
		t.Error("Backward on non-scalar tensor did not return an error")
	}
}
