package autodiff

import (
	"fmt"
	"math"
)

// GaussianNLL computes the heteroscedastic Gaussian negative log-likelihood
// with gradient tracking.
//
// output holds the concatenated dual-head prediction: the first outputDim
// columns are the predicted means, the remaining outputDim columns the
// predicted log-variances. For each row the loss is
//
//	sum_d( exp(-logVar_d) * (y_d - mean_d)^2 + logVar_d )
//
// and the result is the mean over the batch. Operating on the log-variance
// keeps the precision term exp(-logVar) away from division by zero, and the
// bare logVar term penalizes inflating the predicted variance without bound.
//
// NaN or Inf in the log-variance columns is surfaced as
// ErrNumericalDivergence, never clamped.
func GaussianNLL(output, targets *Tensor) (*Tensor, error) {
	if output == nil || targets == nil {
		return nil, fmt.Errorf("output and targets tensors cannot be nil")
	}

	outputDim := targets.Data.Cols
	if output.Data.Cols != 2*outputDim {
		return nil, fmt.Errorf("%w: output width %d doesn't match 2*outputDim=%d",
			ErrInvalidConfig, output.Data.Cols, 2*outputDim)
	}
	if output.Data.Rows != targets.Data.Rows {
		return nil, fmt.Errorf("%w: batch size mismatch: output has %d rows, targets %d",
			ErrInvalidConfig, output.Data.Rows, targets.Data.Rows)
	}

	batch := output.Data.Rows

	config := &TensorConfig{
		RequiresGrad: output.RequiresGrad,
		Name:         "gaussian_nll_result",
	}

	result, err := NewZerosTensor(1, 1, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	loss := 0.0
	for i := 0; i < batch; i++ {
		for d := 0; d < outputDim; d++ {
			mean := output.Data.At(i, d)
			logVar := output.Data.At(i, outputDim+d)
			if math.IsNaN(logVar) || math.IsInf(logVar, 0) {
				return nil, fmt.Errorf("%w: log-variance at row %d, dim %d is %v",
					ErrNumericalDivergence, i, d, logVar)
			}
			diff := targets.Data.At(i, d) - mean
			loss += math.Exp(-logVar)*diff*diff + logVar
		}
	}
	loss /= float64(batch)

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return nil, fmt.Errorf("%w: loss evaluated to %v", ErrNumericalDivergence, loss)
	}
	result.Data.Set(0, 0, loss)

	if result.RequiresGrad {
		result.Children = append(result.Children, output)
		result.BackwardFn = func() {
			g := result.Grad.At(0, 0) / float64(batch)
			for i := 0; i < batch; i++ {
				for d := 0; d < outputDim; d++ {
					mean := output.Data.At(i, d)
					logVar := output.Data.At(i, outputDim+d)
					precision := math.Exp(-logVar)
					diff := targets.Data.At(i, d) - mean

					// d/dMean: -2 * precision * (y - mean)
					output.Grad.Set(i, d, output.Grad.At(i, d)-g*2*precision*diff)
					// d/dLogVar: 1 - precision * (y - mean)^2
					output.Grad.Set(i, outputDim+d,
						output.Grad.At(i, outputDim+d)+g*(1-precision*diff*diff))
				}
			}
		}
	}

	return result, nil
}

// MSELoss computes the mean squared error loss with gradient tracking. Kept
// as a homoscedastic baseline next to GaussianNLL.
func MSELoss(predictions, targets *Tensor) (*Tensor, error) {
	if predictions == nil || targets == nil {
		return nil, fmt.Errorf("predictions and targets tensors cannot be nil")
	}
	if predictions.Data.Rows != targets.Data.Rows || predictions.Data.Cols != targets.Data.Cols {
		return nil, fmt.Errorf("%w: predictions and targets dimensions don't match: predictions(%dx%d), targets(%dx%d)",
			ErrInvalidConfig, predictions.Data.Rows, predictions.Data.Cols, targets.Data.Rows, targets.Data.Cols)
	}

	config := &TensorConfig{
		RequiresGrad: predictions.RequiresGrad,
		Name:         "mse_loss_result",
	}

	result, err := NewZerosTensor(1, 1, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create result tensor: %w", err)
	}

	totalElements := predictions.Data.Rows * predictions.Data.Cols
	loss := 0.0
	for i := 0; i < predictions.Data.Rows; i++ {
		for j := 0; j < predictions.Data.Cols; j++ {
			diff := predictions.Data.At(i, j) - targets.Data.At(i, j)
			loss += diff * diff
		}
	}
	loss /= float64(totalElements)

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return nil, fmt.Errorf("%w: loss evaluated to %v", ErrNumericalDivergence, loss)
	}
	result.Data.Set(0, 0, loss)

	if result.RequiresGrad {
		result.Children = append(result.Children, predictions)
		result.BackwardFn = func() {
			g := result.Grad.At(0, 0)
			for i := 0; i < predictions.Data.Rows; i++ {
				for j := 0; j < predictions.Data.Cols; j++ {
					diff := 2.0 * (predictions.Data.At(i, j) - targets.Data.At(i, j)) / float64(totalElements)
					predictions.Grad.Set(i, j, predictions.Grad.At(i, j)+g*diff)
				}
			}
		}
	}

	return result, nil
}
