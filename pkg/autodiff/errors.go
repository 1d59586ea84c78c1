package autodiff

import "errors"

// ErrInvalidConfig marks fatal configuration errors detected before any
// computation proceeds (bad dimensions, bad hyperparameter ranges).
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrNumericalDivergence marks NaN or Inf values surfacing in a loss or a
// model output. Divergence is never clamped internally; it always propagates
// to the caller with the location of the offending value.
var ErrNumericalDivergence = errors.New("numerical divergence")
