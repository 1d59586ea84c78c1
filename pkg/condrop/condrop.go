package condrop

import (
	"fmt"
	"math"

	"github.com/kevinykuo/condrop/pkg/autodiff"
)

// UniformSource yields uniform random numbers in [0, 1). *math/rand.Rand
// satisfies it.
type UniformSource interface {
	Float64() float64
}

// Config holds the construction parameters of a ConcreteDropout wrapper.
type Config struct {
	// WeightRegularizer scales the kernel penalty. It grows as the dropout
	// rate rises, compensating for the implicit weight scaling dropout
	// induces.
	WeightRegularizer float64
	// DropoutRegularizer scales the negative Bernoulli entropy of the
	// dropout rate, letting p move away from its init only as warranted by
	// the data.
	DropoutRegularizer float64
	// InitMin and InitMax bound the initial dropout rate. Both must lie in
	// the open interval (0, 1) with InitMin <= InitMax.
	InitMin float64
	InitMax float64
	// MCDropout keeps the relaxation active at inference time so repeated
	// forward passes sample the posterior. When false the wrapper is
	// stochastic only while training.
	MCDropout bool
	// Temperature of the concrete relaxation. Zero means the 0.1 default.
	Temperature float64
	// Eps is the numerical-stability constant inside the relaxation's
	// logarithms. Zero means the 1e-7 default.
	Eps float64
}

// DefaultConfig returns the usual concrete-dropout settings.
func DefaultConfig() Config {
	return Config{
		WeightRegularizer:  1e-6,
		DropoutRegularizer: 1e-5,
		InitMin:            0.1,
		InitMax:            0.1,
		MCDropout:          true,
		Temperature:        0.1,
		Eps:                1e-7,
	}
}

// ConcreteDropout wraps a dense transform and learns its dropout rate by
// gradient descent. The rate lives as a logit so the sigmoid keeps it inside
// the open interval (0, 1) at all times; it is never assigned directly.
type ConcreteDropout struct {
	Layer  *Dense
	PLogit *autodiff.Tensor // 1x1, learnable
	Config Config
	Name   string
}

// New wraps layer in a ConcreteDropout. The dropout-rate logit is drawn
// uniformly from [logit(InitMin), logit(InitMax)].
func New(layer *Dense, cfg Config, rng UniformSource, name string) (*ConcreteDropout, error) {
	if layer == nil {
		return nil, fmt.Errorf("%w: concrete dropout %q needs a wrapped layer", autodiff.ErrInvalidConfig, name)
	}
	if cfg.InitMin <= 0 || cfg.InitMax >= 1 || cfg.InitMin > cfg.InitMax {
		return nil, fmt.Errorf("%w: init bounds must satisfy 0 < InitMin <= InitMax < 1, got [%v, %v]",
			autodiff.ErrInvalidConfig, cfg.InitMin, cfg.InitMax)
	}
	if cfg.WeightRegularizer < 0 || cfg.DropoutRegularizer < 0 {
		return nil, fmt.Errorf("%w: regularizer coefficients must be non-negative, got weight=%v dropout=%v",
			autodiff.ErrInvalidConfig, cfg.WeightRegularizer, cfg.DropoutRegularizer)
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-7
	}

	lo := logit(cfg.InitMin)
	hi := logit(cfg.InitMax)
	pLogit, err := autodiff.NewScalarTensor(lo+rng.Float64()*(hi-lo),
		&autodiff.TensorConfig{RequiresGrad: true, Name: name + "_p_logit"})
	if err != nil {
		return nil, fmt.Errorf("p_logit tensor for %q: %w", name, err)
	}

	return &ConcreteDropout{
		Layer:  layer,
		PLogit: pLogit,
		Config: cfg,
		Name:   name,
	}, nil
}

// Rate returns the current dropout rate sigmoid(p_logit).
func (cd *ConcreteDropout) Rate() float64 {
	return sigmoid(cd.PLogit.Data.At(0, 0))
}

// Forward applies the concrete relaxation to x (when training, or always
// under MCDropout), runs the wrapped layer, and returns the layer output
// together with this wrapper's regularization term. The regularization term
// depends on the current dropout rate, so it is re-derived on every call
// rather than cached; callers sum the terms from all wrappers into the loss.
func (cd *ConcreteDropout) Forward(x *autodiff.Tensor, training bool, noise UniformSource) (*autodiff.Tensor, *autodiff.Tensor, error) {
	if x == nil {
		return nil, nil, fmt.Errorf("concrete dropout %q: input tensor cannot be nil", cd.Name)
	}

	h := x
	if training || cd.Config.MCDropout {
		if noise == nil {
			return nil, nil, fmt.Errorf("concrete dropout %q: noise source cannot be nil for a stochastic pass", cd.Name)
		}
		var err error
		h, err = cd.relax(x, noise)
		if err != nil {
			return nil, nil, fmt.Errorf("concrete dropout %q relaxation: %w", cd.Name, err)
		}
	}

	out, err := cd.Layer.Forward(h)
	if err != nil {
		return nil, nil, err
	}

	reg, err := cd.regularization()
	if err != nil {
		return nil, nil, fmt.Errorf("concrete dropout %q regularizer: %w", cd.Name, err)
	}

	return out, reg, nil
}

// Parameters returns the wrapper's learnable tensors, its own logit included.
func (cd *ConcreteDropout) Parameters() map[string]*autodiff.Tensor {
	params := cd.Layer.Parameters()
	params[cd.PLogit.Name] = cd.PLogit
	return params
}

// relax applies the concrete relaxation of Bernoulli dropout: a soft,
// differentiable mask drawn from uniform noise, followed by
// inverse-probability scaling so the expected activation magnitude is
// unchanged. A hard 0/1 mask would have no gradient w.r.t. the rate logit;
// the relaxation is what makes the rate learnable.
func (cd *ConcreteDropout) relax(x *autodiff.Tensor, noise UniformSource) (*autodiff.Tensor, error) {
	rows, cols := x.Shape()
	eps := cd.Config.Eps
	temp := cd.Config.Temperature
	p := sigmoid(cd.PLogit.Data.At(0, 0))
	keepScale := 1.0 / (1.0 - p)
	pTerm := math.Log(p+eps) - math.Log(1.0-p+eps)

	result, err := autodiff.NewZerosTensor(rows, cols, &autodiff.TensorConfig{
		RequiresGrad: x.RequiresGrad || cd.PLogit.RequiresGrad,
		Name:         cd.Name + "_relaxed",
	})
	if err != nil {
		return nil, err
	}

	drop, err := autodiff.NewMatrix(rows, cols)
	if err != nil {
		return nil, err
	}

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			u := noise.Float64()
			z := (pTerm + math.Log(u+eps) - math.Log(1.0-u+eps)) / temp
			d := sigmoid(z)
			drop.Set(i, j, d)
			result.Data.Set(i, j, x.Data.At(i, j)*(1.0-d)*keepScale)
		}
	}

	if result.RequiresGrad {
		pLogit := cd.PLogit
		result.Children = append(result.Children, x, pLogit)
		result.BackwardFn = func() {
			// dz/dp is constant across elements.
			dzdp := (1.0/(p+eps) + 1.0/(1.0-p+eps)) / temp
			dpdLogit := p * (1.0 - p)
			pGrad := 0.0
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					g := result.Grad.At(i, j)
					d := drop.At(i, j)
					mask := 1.0 - d
					if x.RequiresGrad {
						x.Grad.Set(i, j, x.Grad.At(i, j)+g*mask*keepScale)
					}
					if pLogit.RequiresGrad {
						dMaskdp := -d * (1.0 - d) * dzdp
						dOutdp := x.Data.At(i, j) * (dMaskdp*keepScale + mask*keepScale*keepScale)
						pGrad += g * dOutdp
					}
				}
			}
			if pLogit.RequiresGrad {
				pLogit.Grad.Set(0, 0, pLogit.Grad.At(0, 0)+pGrad*dpdLogit)
			}
		}
	}

	return result, nil
}

// regularization evaluates the wrapper's contribution to the model loss at
// the current dropout rate:
//
//	weightReg * sum(kernel^2) / (1 - p)
//	  + inputDim * dropoutReg * (p*log(p) + (1-p)*log(1-p))
//
// The second term is the negative entropy of a Bernoulli(p) variable scaled
// by the input width. The whole expression is differentiable in both the
// kernel and the rate logit.
func (cd *ConcreteDropout) regularization() (*autodiff.Tensor, error) {
	kernel := cd.Layer.Kernel
	p := sigmoid(cd.PLogit.Data.At(0, 0))
	inputDim := float64(cd.Layer.InputDim)
	wr := cd.Config.WeightRegularizer
	dr := cd.Config.DropoutRegularizer

	sumSq := 0.0
	for i := 0; i < kernel.Data.Rows; i++ {
		for j := 0; j < kernel.Data.Cols; j++ {
			w := kernel.Data.At(i, j)
			sumSq += w * w
		}
	}

	value := wr*sumSq/(1.0-p) + inputDim*dr*(p*math.Log(p)+(1.0-p)*math.Log(1.0-p))

	result, err := autodiff.NewScalarTensor(value, &autodiff.TensorConfig{
		RequiresGrad: kernel.RequiresGrad || cd.PLogit.RequiresGrad,
		Name:         cd.Name + "_reg",
	})
	if err != nil {
		return nil, err
	}

	if result.RequiresGrad {
		pLogit := cd.PLogit
		result.Children = append(result.Children, kernel, pLogit)
		result.BackwardFn = func() {
			g := result.Grad.At(0, 0)
			if kernel.RequiresGrad {
				scale := g * wr * 2.0 / (1.0 - p)
				for i := 0; i < kernel.Data.Rows; i++ {
					for j := 0; j < kernel.Data.Cols; j++ {
						kernel.Grad.Set(i, j, kernel.Grad.At(i, j)+scale*kernel.Data.At(i, j))
					}
				}
			}
			if pLogit.RequiresGrad {
				dRegdp := wr*sumSq/((1.0-p)*(1.0-p)) + inputDim*dr*math.Log(p/(1.0-p))
				pLogit.Grad.Set(0, 0, pLogit.Grad.At(0, 0)+g*dRegdp*p*(1.0-p))
			}
		}
	}

	return result, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func logit(q float64) float64 {
	return math.Log(q) - math.Log(1.0-q)
}
