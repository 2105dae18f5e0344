package lightcurve

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrNotAscending is returned when samples are not ordered by time.
var ErrNotAscending = errors.New("light curve timestamps must be ascending")

// Point is a single flux observation
type Point struct {
	Timestamp float64 `json:"timestamp"`
	Flux      float64 `json:"flux"`
}

// LightCurve is a time-ascending sequence of flux observations
type LightCurve []Point

// Validate checks ordering and finiteness of the samples.
func (lc LightCurve) Validate() error {
	if len(lc) == 0 {
		return errors.New("light curve is empty")
	}
	for i, p := range lc {
		if math.IsNaN(p.Flux) || math.IsInf(p.Flux, 0) ||
			math.IsNaN(p.Timestamp) || math.IsInf(p.Timestamp, 0) {
			return fmt.Errorf("sample %d is not finite: %+v", i, p)
		}
		if i > 0 && p.Timestamp < lc[i-1].Timestamp {
			return fmt.Errorf("%w: sample %d", ErrNotAscending, i)
		}
	}
	return nil
}

// FluxArray returns the flux values in order
func (lc LightCurve) FluxArray() []float64 {
	flux := make([]float64, len(lc))
	for i, p := range lc {
		flux[i] = p.Flux
	}
	return flux
}

// Timestamps returns the timestamps in order
func (lc LightCurve) Timestamps() []float64 {
	ts := make([]float64, len(lc))
	for i, p := range lc {
		ts[i] = p.Timestamp
	}
	return ts
}

// FromArrays pairs timestamps with flux values.
func FromArrays(timestamps, flux []float64) (LightCurve, error) {
	if len(timestamps) != len(flux) {
		return nil, fmt.Errorf("length mismatch: %d timestamps, %d flux values", len(timestamps), len(flux))
	}
	lc := make(LightCurve, len(flux))
	for i := range flux {
		lc[i] = Point{Timestamp: timestamps[i], Flux: flux[i]}
	}
	return lc, nil
}

// Median returns the median of values (0 for empty input).
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// CenterOfMassAsFraction returns where in the time span the transit center falls,
// as a fraction in [0, 1]. Samples are weighted by their absolute deviation from the
// median flux. A flat or degenerate curve yields 0.5.
func (lc LightCurve) CenterOfMassAsFraction() float64 {
	n := len(lc)
	if n < 2 {
		return 0.5
	}
	span := lc[n-1].Timestamp - lc[0].Timestamp
	if span <= 0 {
		return 0.5
	}

	flux := lc.FluxArray()
	baseline := Median(flux)
	weights := make([]float64, n)
	var total float64
	for i, f := range flux {
		weights[i] = math.Abs(f - baseline)
		total += weights[i]
	}
	if total == 0 {
		return 0.5
	}

	com := stat.Mean(lc.Timestamps(), weights)
	return (com - lc[0].Timestamp) / span
}
