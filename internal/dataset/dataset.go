// Package dataset generates synthetic heteroscedastic regression data for
// the demo binary and end-to-end tests.
package dataset

import (
	"fmt"
	"math"

	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kevinykuo/condrop/pkg/autodiff"
)

// Heteroscedastic draws n points of 1-D regression data whose noise level
// grows with |x|: inputs are uniform on [-4, 4], targets follow
//
//	y = x*sin(x) + eps,  eps ~ N(0, (0.1 + 0.15*|x|)^2)
//
// so a well-calibrated model should report larger aleatoric uncertainty at
// the edges of the input range.
func Heteroscedastic(n int, seed uint64) (*autodiff.Matrix, *autodiff.Matrix, error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("%w: dataset size must be positive, got %d", autodiff.ErrInvalidConfig, n)
	}

	src := xrand.NewSource(seed)
	uniform := distuv.Uniform{Min: -4, Max: 4, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	x, err := autodiff.NewMatrix(n, 1)
	if err != nil {
		return nil, nil, err
	}
	y, err := autodiff.NewMatrix(n, 1)
	if err != nil {
		return nil, nil, err
	}

	for i := 0; i < n; i++ {
		xi := uniform.Rand()
		sigma := NoiseStd(xi)
		x.Set(i, 0, xi)
		y.Set(i, 0, Mean(xi)+sigma*noise.Rand())
	}

	return x, y, nil
}

// Mean is the noise-free regression target.
func Mean(x float64) float64 {
	return x * math.Sin(x)
}

// NoiseStd is the input-dependent noise standard deviation.
func NoiseStd(x float64) float64 {
	if x < 0 {
		x = -x
	}
	return 0.1 + 0.15*x
}
