package fit

import (
	"errors"
	"fmt"
	"math"

	"github.com/jhs/lcfit/internal/lightcurve"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNonFinite is returned by CheckFinite when a value is NaN or infinite.
	ErrNonFinite = errors.New("non-finite value")
	// ErrLengthMismatch is the panic value for arrays of different lengths.
	ErrLengthMismatch = errors.New("array lengths must match")
)

// MeanSquaredError computes the weighted mean squared error. A zero weight sum yields 0.
// Mismatched lengths are a programming error and panic.
func MeanSquaredError(observed, weights, modeled []float64) float64 {
	if len(observed) != len(weights) || len(observed) != len(modeled) {
		panic(fmt.Errorf("%w: observed %d, weights %d, modeled %d",
			ErrLengthMismatch, len(observed), len(weights), len(modeled)))
	}

	var sum, weightSum float64
	for i := range observed {
		d := observed[i] - modeled[i]
		sum += weights[i] * d * d
		weightSum += weights[i]
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

// SolutionMeanSquaredError compares a solution's modeled flux to observed flux
func SolutionMeanSquaredError(observed, weights []float64, solution *Solution) float64 {
	return MeanSquaredError(observed, weights, solution.ProduceModeledFlux())
}

// LightCurveMeanSquaredError compares a solution to a light curve's flux
func LightCurveMeanSquaredError(lc lightcurve.LightCurve, weights []float64, solution *Solution) float64 {
	return SolutionMeanSquaredError(lc.FluxArray(), weights, solution)
}

// CheckFinite returns ErrNonFinite for the first NaN or infinite value.
func CheckFinite(values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w at index %d: %v", ErrNonFinite, i, v)
		}
	}
	return nil
}

// LossFunction is the objective optimized over raw parameter vectors: weighted MSE plus
// Lambda times the squared distance of the parameters' standard deviation from 1.
type LossFunction struct {
	Sampler  *SolutionSampler
	Observed []float64
	Weights  []float64
	Lambda   float64
}

// Evaluate decodes params and scores them. Undecodable or non-finite results are +Inf.
func (l LossFunction) Evaluate(params []float64) float64 {
	solution, err := l.Sampler.ParametersAsSolution(params)
	if err != nil {
		return math.Inf(1)
	}

	loss := SolutionMeanSquaredError(l.Observed, l.Weights, solution)
	if l.Lambda != 0 && len(params) > 0 {
		d := stat.PopStdDev(params, nil) - 1
		loss += l.Lambda * d * d
	}

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return math.Inf(1)
	}
	return loss
}
