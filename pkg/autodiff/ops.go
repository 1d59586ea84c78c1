package autodiff

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MatMul performs matrix multiplication with gradient tracking.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("input tensors cannot be nil")
	}
	if a.Data.Cols != b.Data.Rows {
		return nil, fmt.Errorf("matrix dimensions don't match for multiplication: a(%dx%d), b(%dx%d)",
			a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad || b.RequiresGrad,
		Name:         "matmul_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, b.Data.Cols, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	result.Data.Dense.Mul(a.Data.Dense, b.Data.Dense)

	if result.RequiresGrad {
		result.Children = append(result.Children, a, b)
		result.BackwardFn = func() {
			if a.RequiresGrad {
				// dL/dA = dL/dC * B^T
				var dA mat.Dense
				dA.Mul(result.Grad.Dense, b.Data.Dense.T())
				a.Grad.Dense.Add(a.Grad.Dense, &dA)
			}
			if b.RequiresGrad {
				// dL/dB = A^T * dL/dC
				var dB mat.Dense
				dB.Mul(a.Data.Dense.T(), result.Grad.Dense)
				b.Grad.Dense.Add(b.Grad.Dense, &dB)
			}
		}
	}

	return result, nil
}

// Add performs element-wise addition with gradient tracking.
func Add(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("input tensors cannot be nil")
	}
	if a.Data.Rows != b.Data.Rows || a.Data.Cols != b.Data.Cols {
		return nil, fmt.Errorf("matrix dimensions don't match for addition: a(%dx%d), b(%dx%d)",
			a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad || b.RequiresGrad,
		Name:         "add_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	result.Data.Dense.Add(a.Data.Dense, b.Data.Dense)

	if result.RequiresGrad {
		result.Children = append(result.Children, a, b)
		result.BackwardFn = func() {
			if a.RequiresGrad {
				a.Grad.Dense.Add(a.Grad.Dense, result.Grad.Dense)
			}
			if b.RequiresGrad {
				b.Grad.Dense.Add(b.Grad.Dense, result.Grad.Dense)
			}
		}
	}

	return result, nil
}

// AddRowVector adds a 1xN row vector b to every row of a with gradient
// tracking. Used for bias terms.
func AddRowVector(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("input tensors cannot be nil")
	}
	if b.Data.Rows != 1 || a.Data.Cols != b.Data.Cols {
		return nil, fmt.Errorf("row vector dimensions don't match: a(%dx%d), b(%dx%d)",
			a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad || b.RequiresGrad,
		Name:         "add_row_vector_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < a.Data.Cols; j++ {
			result.Data.Set(i, j, a.Data.At(i, j)+b.Data.At(0, j))
		}
	}

	if result.RequiresGrad {
		result.Children = append(result.Children, a, b)
		result.BackwardFn = func() {
			if a.RequiresGrad {
				a.Grad.Dense.Add(a.Grad.Dense, result.Grad.Dense)
			}
			if b.RequiresGrad {
				for j := 0; j < a.Data.Cols; j++ {
					sum := 0.0
					for i := 0; i < a.Data.Rows; i++ {
						sum += result.Grad.At(i, j)
					}
					b.Grad.Set(0, j, b.Grad.At(0, j)+sum)
				}
			}
		}
	}

	return result, nil
}

// Subtract performs element-wise subtraction with gradient tracking.
func Subtract(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("input tensors cannot be nil")
	}
	if a.Data.Rows != b.Data.Rows || a.Data.Cols != b.Data.Cols {
		return nil, fmt.Errorf("matrix dimensions don't match for subtraction: a(%dx%d), b(%dx%d)",
			a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad || b.RequiresGrad,
		Name:         "subtract_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	result.Data.Dense.Sub(a.Data.Dense, b.Data.Dense)

	if result.RequiresGrad {
		result.Children = append(result.Children, a, b)
		result.BackwardFn = func() {
			if a.RequiresGrad {
				a.Grad.Dense.Add(a.Grad.Dense, result.Grad.Dense)
			}
			if b.RequiresGrad {
				b.Grad.Dense.Sub(b.Grad.Dense, result.Grad.Dense)
			}
		}
	}

	return result, nil
}

// Multiply performs element-wise multiplication (Hadamard product) with
// gradient tracking.
func Multiply(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("input tensors cannot be nil")
	}
	if a.Data.Rows != b.Data.Rows || a.Data.Cols != b.Data.Cols {
		return nil, fmt.Errorf("matrix dimensions don't match for element-wise multiplication: a(%dx%d), b(%dx%d)",
			a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad || b.RequiresGrad,
		Name:         "multiply_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	result.Data.Dense.MulElem(a.Data.Dense, b.Data.Dense)

	if result.RequiresGrad {
		result.Children = append(result.Children, a, b)
		result.BackwardFn = func() {
			for i := 0; i < a.Data.Rows; i++ {
				for j := 0; j < a.Data.Cols; j++ {
					g := result.Grad.At(i, j)
					if a.RequiresGrad {
						a.Grad.Set(i, j, a.Grad.At(i, j)+g*b.Data.At(i, j))
					}
					if b.RequiresGrad {
						b.Grad.Set(i, j, b.Grad.At(i, j)+g*a.Data.At(i, j))
					}
				}
			}
		}
	}

	return result, nil
}

// ScalarMultiply multiplies a tensor by a scalar value with gradient tracking.
func ScalarMultiply(a *Tensor, scalar float64) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad,
		Name:         "scalar_multiply_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	result.Data.Dense.Scale(scalar, a.Data.Dense)

	if result.RequiresGrad {
		result.Children = append(result.Children, a)
		result.BackwardFn = func() {
			var scaled mat.Dense
			scaled.Scale(scalar, result.Grad.Dense)
			a.Grad.Dense.Add(a.Grad.Dense, &scaled)
		}
	}

	return result, nil
}

// ReLU applies the ReLU activation function with gradient tracking.
func ReLU(a *Tensor) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad,
		Name:         "relu_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < a.Data.Cols; j++ {
			if v := a.Data.At(i, j); v > 0 {
				result.Data.Set(i, j, v)
			}
		}
	}

	if result.RequiresGrad {
		result.Children = append(result.Children, a)
		result.BackwardFn = func() {
			for i := 0; i < a.Data.Rows; i++ {
				for j := 0; j < a.Data.Cols; j++ {
					if a.Data.At(i, j) > 0 {
						a.Grad.Set(i, j, a.Grad.At(i, j)+result.Grad.At(i, j))
					}
				}
			}
		}
	}

	return result, nil
}

// Exp applies the element-wise exponential with gradient tracking.
func Exp(a *Tensor) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad,
		Name:         "exp_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < a.Data.Cols; j++ {
			result.Data.Set(i, j, math.Exp(a.Data.At(i, j)))
		}
	}

	if result.RequiresGrad {
		result.Children = append(result.Children, a)
		result.BackwardFn = func() {
			for i := 0; i < a.Data.Rows; i++ {
				for j := 0; j < a.Data.Cols; j++ {
					a.Grad.Set(i, j, a.Grad.At(i, j)+result.Grad.At(i, j)*result.Data.At(i, j))
				}
			}
		}
	}

	return result, nil
}

// Square applies the element-wise square with gradient tracking.
func Square(a *Tensor) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad,
		Name:         "square_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	result.Data.Dense.MulElem(a.Data.Dense, a.Data.Dense)

	if result.RequiresGrad {
		result.Children = append(result.Children, a)
		result.BackwardFn = func() {
			for i := 0; i < a.Data.Rows; i++ {
				for j := 0; j < a.Data.Cols; j++ {
					a.Grad.Set(i, j, a.Grad.At(i, j)+result.Grad.At(i, j)*2*a.Data.At(i, j))
				}
			}
		}
	}

	return result, nil
}

// Sum returns the sum of all elements as a 1x1 tensor with gradient tracking.
func Sum(a *Tensor) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad,
		Name:         "sum_result",
	}

	result, err := NewZerosTensor(1, 1, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	result.Data.Set(0, 0, mat.Sum(a.Data.Dense))

	if result.RequiresGrad {
		result.Children = append(result.Children, a)
		result.BackwardFn = func() {
			g := result.Grad.At(0, 0)
			for i := 0; i < a.Data.Rows; i++ {
				for j := 0; j < a.Data.Cols; j++ {
					a.Grad.Set(i, j, a.Grad.At(i, j)+g)
				}
			}
		}
	}

	return result, nil
}

// Mean returns the mean of all elements as a 1x1 tensor with gradient tracking.
func Mean(a *Tensor) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad,
		Name:         "mean_result",
	}

	result, err := NewZerosTensor(1, 1, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	totalElements := float64(a.Data.Rows * a.Data.Cols)
	result.Data.Set(0, 0, mat.Sum(a.Data.Dense)/totalElements)

	if result.RequiresGrad {
		result.Children = append(result.Children, a)
		result.BackwardFn = func() {
			g := result.Grad.At(0, 0) / totalElements
			for i := 0; i < a.Data.Rows; i++ {
				for j := 0; j < a.Data.Cols; j++ {
					a.Grad.Set(i, j, a.Grad.At(i, j)+g)
				}
			}
		}
	}

	return result, nil
}

// ConcatCols concatenates two tensors along the column axis with gradient
// tracking. a's columns come first.
func ConcatCols(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("input tensors cannot be nil")
	}
	if a.Data.Rows != b.Data.Rows {
		return nil, fmt.Errorf("row counts don't match for column concat: a(%dx%d), b(%dx%d)",
			a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad || b.RequiresGrad,
		Name:         "concat_cols_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols+b.Data.Cols, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < a.Data.Cols; j++ {
			result.Data.Set(i, j, a.Data.At(i, j))
		}
		for j := 0; j < b.Data.Cols; j++ {
			result.Data.Set(i, a.Data.Cols+j, b.Data.At(i, j))
		}
	}

	if result.RequiresGrad {
		result.Children = append(result.Children, a, b)
		result.BackwardFn = func() {
			for i := 0; i < a.Data.Rows; i++ {
				if a.RequiresGrad {
					for j := 0; j < a.Data.Cols; j++ {
						a.Grad.Set(i, j, a.Grad.At(i, j)+result.Grad.At(i, j))
					}
				}
				if b.RequiresGrad {
					for j := 0; j < b.Data.Cols; j++ {
						b.Grad.Set(i, j, b.Grad.At(i, j)+result.Grad.At(i, a.Data.Cols+j))
					}
				}
			}
		}
	}

	return result, nil
}

// SliceCols extracts n columns starting at column start with gradient
// tracking.
func SliceCols(a *Tensor, start, n int) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}
	if start < 0 || n <= 0 || start+n > a.Data.Cols {
		return nil, fmt.Errorf("invalid column slice [%d:%d) for %dx%d tensor",
			start, start+n, a.Data.Rows, a.Data.Cols)
	}

	config := &TensorConfig{
		RequiresGrad: a.RequiresGrad,
		Name:         "slice_cols_result",
	}

	result, err := NewZerosTensor(a.Data.Rows, n, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < n; j++ {
			result.Data.Set(i, j, a.Data.At(i, start+j))
		}
	}

	if result.RequiresGrad {
		result.Children = append(result.Children, a)
		result.BackwardFn = func() {
			for i := 0; i < a.Data.Rows; i++ {
				for j := 0; j < n; j++ {
					a.Grad.Set(i, start+j, a.Grad.At(i, start+j)+result.Grad.At(i, j))
				}
			}
		}
	}

	return result, nil
}
