package autodiff

import "math"

// Optimizer updates a named set of parameters in place from their
// accumulated gradients.
type Optimizer interface {
	Step(params map[string]*Tensor)
}

// AdamOptimizer implements the Adam optimization algorithm.
type AdamOptimizer struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
	M            map[string]*Matrix
	V            map[string]*Matrix
	T            int
}

// NewAdamOptimizer creates a new Adam optimizer.
func NewAdamOptimizer(lr float64, weightDecay float64) *AdamOptimizer {
	return &AdamOptimizer{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  weightDecay,
		M:            make(map[string]*Matrix),
		V:            make(map[string]*Matrix),
		T:            0,
	}
}

// Step performs one optimization step.
func (opt *AdamOptimizer) Step(params map[string]*Tensor) {
	opt.T++
	bc1 := 1.0 - math.Pow(opt.Beta1, float64(opt.T))
	bc2 := 1.0 - math.Pow(opt.Beta2, float64(opt.T))

	for name, param := range params {
		if param.Grad == nil || !param.RequiresGrad {
			continue
		}
		if _, exists := opt.M[name]; !exists {
			opt.M[name], _ = NewMatrix(param.Data.Rows, param.Data.Cols)
			opt.V[name], _ = NewMatrix(param.Data.Rows, param.Data.Cols)
		}
		for i := 0; i < param.Data.Rows; i++ {
			for j := 0; j < param.Data.Cols; j++ {
				gradVal := param.Grad.At(i, j)
				if opt.WeightDecay > 0 {
					gradVal += opt.WeightDecay * param.Data.At(i, j)
				}
				opt.M[name].Set(i, j, opt.Beta1*opt.M[name].At(i, j)+(1.0-opt.Beta1)*gradVal)
				opt.V[name].Set(i, j, opt.Beta2*opt.V[name].At(i, j)+(1.0-opt.Beta2)*gradVal*gradVal)
				mCorrected := opt.M[name].At(i, j) / bc1
				vCorrected := opt.V[name].At(i, j) / bc2
				param.Data.Set(i, j, param.Data.At(i, j)-opt.LearningRate*mCorrected/(math.Sqrt(vCorrected)+opt.Epsilon))
			}
		}
	}
}

// SGDOptimizer implements stochastic gradient descent with momentum.
type SGDOptimizer struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Velocity     map[string]*Matrix
}

// NewSGDOptimizer creates a new SGD optimizer.
func NewSGDOptimizer(lr float64, weightDecay float64) *SGDOptimizer {
	return &SGDOptimizer{
		LearningRate: lr,
		Momentum:     0.9,
		WeightDecay:  weightDecay,
		Velocity:     make(map[string]*Matrix),
	}
}

// Step performs one optimization step.
func (opt *SGDOptimizer) Step(params map[string]*Tensor) {
	for name, param := range params {
		if param.Grad == nil || !param.RequiresGrad {
			continue
		}
		if _, exists := opt.Velocity[name]; !exists {
			opt.Velocity[name], _ = NewMatrix(param.Data.Rows, param.Data.Cols)
		}
		for i := 0; i < param.Data.Rows; i++ {
			for j := 0; j < param.Data.Cols; j++ {
				gradVal := param.Grad.At(i, j)
				if opt.WeightDecay > 0 {
					gradVal += opt.WeightDecay * param.Data.At(i, j)
				}
				opt.Velocity[name].Set(i, j, opt.Momentum*opt.Velocity[name].At(i, j)-opt.LearningRate*gradVal)
				param.Data.Set(i, j, param.Data.At(i, j)+opt.Velocity[name].At(i, j))
			}
		}
	}
}

// ClipGradNorm rescales all gradients so their global L2 norm does not
// exceed maxNorm. Returns the norm before clipping.
func ClipGradNorm(params map[string]*Tensor, maxNorm float64) float64 {
	totalNormSq := 0.0
	for _, param := range params {
		if param.Grad == nil || !param.RequiresGrad {
			continue
		}
		for i := 0; i < param.Grad.Rows; i++ {
			for j := 0; j < param.Grad.Cols; j++ {
				g := param.Grad.At(i, j)
				totalNormSq += g * g
			}
		}
	}
	totalNorm := math.Sqrt(totalNormSq)

	if maxNorm > 0 && totalNorm > maxNorm {
		clipFactor := maxNorm / (totalNorm + 1e-6)
		for _, param := range params {
			if param.Grad == nil || !param.RequiresGrad {
				continue
			}
			for i := 0; i < param.Grad.Rows; i++ {
				for j := 0; j < param.Grad.Cols; j++ {
					param.Grad.Set(i, j, param.Grad.At(i, j)*clipFactor)
				}
			}
		}
	}
	return totalNorm
}
