package condrop

import (
	"fmt"
	"math/rand"

	"github.com/kevinykuo/condrop/pkg/autodiff"
)

// ActivationFunc is an element-wise activation applied after the affine
// transform. A nil activation means a linear layer.
type ActivationFunc func(*autodiff.Tensor) (*autodiff.Tensor, error)

// Dense is a fully connected layer with a learnable kernel and bias. It is
// the differentiable transform wrapped by ConcreteDropout.
type Dense struct {
	InputDim   int
	OutputDim  int
	Kernel     *autodiff.Tensor // InputDim x OutputDim
	Bias       *autodiff.Tensor // 1 x OutputDim
	Activation ActivationFunc
	Name       string
}

// NewDense creates a dense layer with Xavier-initialized kernel and zero bias.
func NewDense(inputDim, outputDim int, activation ActivationFunc, rng *rand.Rand, name string) (*Dense, error) {
	if inputDim <= 0 || outputDim <= 0 {
		return nil, fmt.Errorf("%w: dense layer %q needs positive dimensions, got input=%d output=%d",
			autodiff.ErrInvalidConfig, name, inputDim, outputDim)
	}

	kernelData, err := autodiff.NewXavierMatrix(inputDim, outputDim, rng)
	if err != nil {
		return nil, fmt.Errorf("kernel init for %q: %w", name, err)
	}
	kernel, err := autodiff.NewTensor(kernelData, &autodiff.TensorConfig{RequiresGrad: true, Name: name + "_kernel"})
	if err != nil {
		return nil, fmt.Errorf("kernel tensor for %q: %w", name, err)
	}

	bias, err := autodiff.NewZerosTensor(1, outputDim, &autodiff.TensorConfig{RequiresGrad: true, Name: name + "_bias"})
	if err != nil {
		return nil, fmt.Errorf("bias tensor for %q: %w", name, err)
	}

	return &Dense{
		InputDim:   inputDim,
		OutputDim:  outputDim,
		Kernel:     kernel,
		Bias:       bias,
		Activation: activation,
		Name:       name,
	}, nil
}

// Forward applies the affine transform and, if configured, the activation.
func (d *Dense) Forward(x *autodiff.Tensor) (*autodiff.Tensor, error) {
	if x == nil {
		return nil, fmt.Errorf("dense %q: input tensor cannot be nil", d.Name)
	}
	if x.Data.Cols != d.InputDim {
		return nil, fmt.Errorf("%w: dense %q expects %d input features, got %d",
			autodiff.ErrInvalidConfig, d.Name, d.InputDim, x.Data.Cols)
	}

	h, err := autodiff.MatMul(x, d.Kernel)
	if err != nil {
		return nil, fmt.Errorf("dense %q matmul: %w", d.Name, err)
	}
	h, err = autodiff.AddRowVector(h, d.Bias)
	if err != nil {
		return nil, fmt.Errorf("dense %q bias add: %w", d.Name, err)
	}
	if d.Activation != nil {
		h, err = d.Activation(h)
		if err != nil {
			return nil, fmt.Errorf("dense %q activation: %w", d.Name, err)
		}
	}
	return h, nil
}

// Parameters returns the layer's learnable tensors keyed by name.
func (d *Dense) Parameters() map[string]*autodiff.Tensor {
	return map[string]*autodiff.Tensor{
		d.Kernel.Name: d.Kernel,
		d.Bias.Name:   d.Bias,
	}
}
