package autodiff

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a 2D matrix of float64 values backed by a gonum dense matrix.
type Matrix struct {
	Rows  int
	Cols  int
	Dense *mat.Dense
}

// NewMatrix creates a new zero matrix with the specified dimensions.
func NewMatrix(rows, cols int) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid matrix dimensions: rows=%d, cols=%d (must be positive)", rows, cols)
	}

	return &Matrix{
		Rows:  rows,
		Cols:  cols,
		Dense: mat.NewDense(rows, cols, nil),
	}, nil
}

// MustNewMatrix creates a new zero matrix with the specified dimensions.
// Panics if dimensions are invalid (use in non-production code only).
func MustNewMatrix(rows, cols int) *Matrix {
	m, err := NewMatrix(rows, cols)
	if err != nil {
		panic(err)
	}
	return m
}

// NewMatrixFrom creates a matrix from row-major data. The slice is copied.
func NewMatrixFrom(rows, cols int, data []float64) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid matrix dimensions: rows=%d, cols=%d (must be positive)", rows, cols)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("data length %d doesn't match dimensions %dx%d", len(data), rows, cols)
	}

	backing := make([]float64, len(data))
	copy(backing, data)

	return &Matrix{
		Rows:  rows,
		Cols:  cols,
		Dense: mat.NewDense(rows, cols, backing),
	}, nil
}

// NewRandomMatrix creates a matrix with small uniform random values for
// training stability.
func NewRandomMatrix(rows, cols int, rng *rand.Rand) (*Matrix, error) {
	m, err := NewMatrix(rows, cols)
	if err != nil {
		return nil, err
	}

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Dense.Set(i, j, rng.Float64()*0.2-0.1)
		}
	}

	return m, nil
}

// NewXavierMatrix creates a matrix initialized with Xavier/Glorot uniform
// values, treating rows as the fan-in and cols as the fan-out.
func NewXavierMatrix(rows, cols int, rng *rand.Rand) (*Matrix, error) {
	m, err := NewMatrix(rows, cols)
	if err != nil {
		return nil, err
	}

	limit := math.Sqrt(6.0 / float64(rows+cols))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Dense.Set(i, j, 2*rng.Float64()*limit-limit)
		}
	}

	return m, nil
}

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) float64 {
	return m.Dense.At(i, j)
}

// Set assigns the element at row i, column j.
func (m *Matrix) Set(i, j int, v float64) {
	m.Dense.Set(i, j, v)
}

// Raw returns the underlying row-major backing slice. Mutations are visible
// to the matrix.
func (m *Matrix) Raw() []float64 {
	return m.Dense.RawMatrix().Data
}

// Zero resets every element to 0.
func (m *Matrix) Zero() {
	m.Dense.Zero()
}

// Clone returns a deep copy of the matrix.
func (m *Matrix) Clone() (*Matrix, error) {
	if m == nil {
		return nil, fmt.Errorf("cannot clone nil matrix")
	}

	clone, err := NewMatrix(m.Rows, m.Cols)
	if err != nil {
		return nil, err
	}
	clone.Dense.Copy(m.Dense)
	return clone, nil
}

// HasBadValues reports whether the matrix contains a NaN or Inf, and if so
// the position of the first one found.
func (m *Matrix) HasBadValues() (bool, int, int) {
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			v := m.Dense.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true, i, j
			}
		}
	}
	return false, 0, 0
}
