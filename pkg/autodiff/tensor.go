package autodiff

import (
	"fmt"
)

// Tensor represents a matrix with gradient tracking capabilities.
type Tensor struct {
	Data         *Matrix
	Grad         *Matrix
	RequiresGrad bool
	BackwardFn   func()
	Children     []*Tensor
	Name         string // Optional name for debugging
}

// TensorConfig holds configuration options for creating a tensor.
type TensorConfig struct {
	RequiresGrad bool
	Name         string
}

// DefaultTensorConfig returns the default configuration for tensors.
func DefaultTensorConfig() *TensorConfig {
	return &TensorConfig{
		RequiresGrad: false,
		Name:         "",
	}
}

// NewTensor creates a new tensor from a matrix with the specified configuration.
func NewTensor(data *Matrix, config *TensorConfig) (*Tensor, error) {
	if data == nil {
		return nil, fmt.Errorf("data matrix cannot be nil")
	}

	if config == nil {
		config = DefaultTensorConfig()
	}

	var grad *Matrix
	var err error

	if config.RequiresGrad {
		grad, err = NewMatrix(data.Rows, data.Cols)
		if err != nil {
			return nil, fmt.Errorf("failed to create gradient matrix: %w", err)
		}
	}

	return &Tensor{
		Data:         data,
		Grad:         grad,
		RequiresGrad: config.RequiresGrad,
		BackwardFn:   nil,
		Children:     make([]*Tensor, 0),
		Name:         config.Name,
	}, nil
}

// NewZerosTensor creates a new tensor filled with zeros.
func NewZerosTensor(rows, cols int, config *TensorConfig) (*Tensor, error) {
	data, err := NewMatrix(rows, cols)
	if err != nil {
		return nil, err
	}
	return NewTensor(data, config)
}

// NewScalarTensor creates a 1x1 tensor holding the given value.
func NewScalarTensor(value float64, config *TensorConfig) (*Tensor, error) {
	data, err := NewMatrix(1, 1)
	if err != nil {
		return nil, err
	}
	data.Set(0, 0, value)
	return NewTensor(data, config)
}

// Shape returns the (rows, cols) of the tensor.
func (t *Tensor) Shape() (int, int) {
	return t.Data.Rows, t.Data.Cols
}

// Item returns the value of a 1x1 tensor.
func (t *Tensor) Item() (float64, error) {
	if t.Data.Rows != 1 || t.Data.Cols != 1 {
		return 0, fmt.Errorf("Item requires a 1x1 tensor, got %dx%d", t.Data.Rows, t.Data.Cols)
	}
	return t.Data.At(0, 0), nil
}

// ZeroGrad zeros out the gradient.
func (t *Tensor) ZeroGrad() error {
	if !t.RequiresGrad {
		return fmt.Errorf("cannot zero gradient for tensor that doesn't require gradients")
	}
	if t.Grad == nil {
		return fmt.Errorf("gradient matrix is nil")
	}

	t.Grad.Zero()
	return nil
}

// Backward computes gradients for every tensor in the graph rooted at t.
// The receiver must be a 1x1 tensor (a scalar loss).
func (t *Tensor) Backward() error {
	if t.Data.Rows != 1 || t.Data.Cols != 1 {
		return fmt.Errorf("backward requires a scalar tensor, got %dx%d", t.Data.Rows, t.Data.Cols)
	}
	if t.Grad == nil {
		return fmt.Errorf("gradient matrix is nil for tensor %q", t.Name)
	}
	t.Grad.Set(0, 0, 1.0)

	// Topological sort for the backward pass
	visited := make(map[*Tensor]bool)
	topo := make([]*Tensor, 0)

	var buildTopo func(node *Tensor) error
	buildTopo = func(node *Tensor) error {
		if node == nil {
			return fmt.Errorf("cannot build topology for nil tensor")
		}
		if visited[node] {
			return nil
		}
		visited[node] = true

		for _, child := range node.Children {
			if child == nil {
				return fmt.Errorf("nil child in tensor %q", node.Name)
			}
			if err := buildTopo(child); err != nil {
				return err
			}
		}

		topo = append(topo, node)
		return nil
	}

	if err := buildTopo(t); err != nil {
		return fmt.Errorf("failed to build topology: %w", err)
	}

	// Each BackwardFn accumulates into its children's gradients.
	for i := len(topo) - 1; i >= 0; i-- {
		if topo[i].BackwardFn != nil {
			topo[i].BackwardFn()
		}
	}

	return nil
}

// Clone creates a deep copy of the tensor's data and gradient. The clone is
// detached from the computation graph.
func (t *Tensor) Clone() (*Tensor, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot clone nil tensor")
	}

	dataClone, err := t.Data.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone data matrix: %w", err)
	}

	var gradClone *Matrix
	if t.Grad != nil {
		gradClone, err = t.Grad.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone gradient matrix: %w", err)
		}
	}

	return &Tensor{
		Data:         dataClone,
		Grad:         gradClone,
		RequiresGrad: t.RequiresGrad,
		Name:         t.Name + "_clone",
	}, nil
}
