// Package uncertainty turns repeated stochastic forward passes of a trained
// concrete-dropout model into calibrated predictive uncertainty estimates.
package uncertainty

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/stat"
	gtensor "gorgonia.org/tensor"

	"github.com/kevinykuo/condrop/pkg/autodiff"
	"github.com/kevinykuo/condrop/pkg/model"
)

// Config controls the Monte Carlo sampling procedure.
type Config struct {
	// Samples is the number of stochastic forward passes. Higher values
	// reduce Monte Carlo estimation variance at linear cost.
	Samples int
	// Workers bounds the number of concurrent sampling goroutines. Zero
	// means one per CPU.
	Workers int
	// Seed derives the per-worker noise streams.
	Seed int64
}

// NewConfig returns the default sampling configuration.
func NewConfig() Config {
	return Config{
		Samples: 50,
		Workers: runtime.GOMAXPROCS(0),
		Seed:    1,
	}
}

// Report holds per-input-row uncertainty statistics. For models with more
// than one output dimension each statistic is averaged across dimensions.
// A report is immutable once computed.
type Report struct {
	Rows int
	// PredictiveMean is the ensemble average of the mean head.
	PredictiveMean []float64
	// EpistemicVariance is the sample variance of the mean head across
	// stochastic passes: disagreement among dropout masks, i.e. model
	// uncertainty.
	EpistemicVariance []float64
	// AleatoricVariance is the ensemble average of exp(logVar): the noise
	// variance the network itself was trained to output.
	AleatoricVariance []float64
	// Warnings carries non-fatal degenerate-statistics notes, such as a
	// sample count too small for stable variance estimates.
	Warnings []string
}

// EpistemicStd returns the epistemic standard deviation for row i.
func (r *Report) EpistemicStd(i int) float64 {
	return math.Sqrt(r.EpistemicVariance[i])
}

// AleatoricStd returns the aleatoric standard deviation for row i.
func (r *Report) AleatoricStd(i int) float64 {
	return math.Sqrt(r.AleatoricVariance[i])
}

// TotalBand returns the half-width of the overall uncertainty band for row
// i. The convention here is the sum of the two standard deviations,
// sqrt(epistemic) + sqrt(aleatoric), not the square root of the summed
// variances.
func (r *Report) TotalBand(i int) float64 {
	return r.EpistemicStd(i) + r.AleatoricStd(i)
}

// Estimator runs Monte Carlo dropout sampling over a trained model. The
// model's weights are read-only during estimation, so passes run
// concurrently; each worker draws from its own noise stream and writes to
// disjoint ensemble slots.
type Estimator struct {
	Model  *model.Heteroscedastic
	Config Config
}

// NewEstimator validates the configuration and builds an estimator.
func NewEstimator(m *model.Heteroscedastic, cfg Config) (*Estimator, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: estimator needs a model", autodiff.ErrInvalidConfig)
	}
	if cfg.Samples < 1 {
		return nil, fmt.Errorf("%w: sample count must be at least 1, got %d",
			autodiff.ErrInvalidConfig, cfg.Samples)
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Estimator{Model: m, Config: cfg}, nil
}

// Estimate runs the configured number of stochastic forward passes over x
// and aggregates them into a Report. The sample ensemble lives in a
// [S, n, 2*outputDim] tensor that is discarded after aggregation.
func (e *Estimator) Estimate(x *autodiff.Matrix) (*Report, error) {
	if x == nil || x.Rows == 0 {
		return nil, fmt.Errorf("%w: estimation input batch is empty", autodiff.ErrInvalidConfig)
	}
	if x.Cols != e.Model.Config.InputDim {
		return nil, fmt.Errorf("%w: input has %d features, model expects %d",
			autodiff.ErrInvalidConfig, x.Cols, e.Model.Config.InputDim)
	}

	samples := e.Config.Samples
	rows := x.Rows
	outputDim := e.Model.Config.OutputDim
	width := 2 * outputDim

	ensemble := gtensor.New(gtensor.Of(gtensor.Float64), gtensor.WithShape(samples, rows, width))
	backing := ensemble.Data().([]float64)

	workers := e.Config.Workers
	if workers > samples {
		workers = samples
	}

	jobs := make(chan int)
	errs := make([]error, samples)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(e.Config.Seed + int64(workerID)))
			for k := range jobs {
				errs[k] = e.samplePass(x, rng, backing[k*rows*width:(k+1)*rows*width])
			}
		}(w)
	}
	for k := 0; k < samples; k++ {
		jobs <- k
	}
	close(jobs)
	wg.Wait()

	for k, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", k, err)
		}
	}

	report := &Report{
		Rows:              rows,
		PredictiveMean:    make([]float64, rows),
		EpistemicVariance: make([]float64, rows),
		AleatoricVariance: make([]float64, rows),
	}
	if samples < 2 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("sample count %d is too small for variance estimation; epistemic variance reported as 0", samples))
	}

	meansAcrossK := make([]float64, samples)
	for i := 0; i < rows; i++ {
		var predictive, epistemic, aleatoric float64
		for d := 0; d < outputDim; d++ {
			noiseVar := 0.0
			for k := 0; k < samples; k++ {
				base := (k*rows + i) * width
				meansAcrossK[k] = backing[base+d]
				noiseVar += math.Exp(backing[base+outputDim+d])
			}
			predictive += stat.Mean(meansAcrossK, nil)
			if samples >= 2 {
				epistemic += stat.Variance(meansAcrossK, nil)
			}
			aleatoric += noiseVar / float64(samples)
		}
		dims := float64(outputDim)
		report.PredictiveMean[i] = predictive / dims
		report.EpistemicVariance[i] = epistemic / dims
		report.AleatoricVariance[i] = aleatoric / dims
	}

	return report, nil
}

// samplePass runs one stochastic forward pass and writes the raw output
// into the ensemble slot. NaN or Inf in the output is surfaced, never
// clamped.
func (e *Estimator) samplePass(x *autodiff.Matrix, rng *rand.Rand, slot []float64) error {
	input, err := autodiff.NewTensor(x, &autodiff.TensorConfig{Name: "mc_input"})
	if err != nil {
		return err
	}

	output, _, err := e.Model.Forward(input, false, rng)
	if err != nil {
		return err
	}

	if bad, i, j := output.Data.HasBadValues(); bad {
		return fmt.Errorf("%w: output at row %d, col %d is %v",
			autodiff.ErrNumericalDivergence, i, j, output.Data.At(i, j))
	}

	width := output.Data.Cols
	for i := 0; i < output.Data.Rows; i++ {
		for j := 0; j < width; j++ {
			slot[i*width+j] = output.Data.At(i, j)
		}
	}
	return nil
}
