package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/jhs/lcfit/internal/field"
)

const (
	// MaxFastInclination is the largest |inclination| (radians) the fast simulator accepts.
	MaxFastInclination = 0.1
	// MaxFastOrbitalAngle is the largest |orbital angle| (radians) the fast simulator
	// approximates. Wider samples are integrated exactly.
	MaxFastOrbitalAngle = 0.1
)

var (
	// ErrAngleUnsupported is matched by AngleUnsupportedError.
	ErrAngleUnsupported = errors.New("angle unsupported by fast simulator")
	// ErrInvalidConfig indicates a geometry configuration that cannot be simulated.
	ErrInvalidConfig = errors.New("invalid simulator config")
)

// AngleUnsupportedError reports an inclination outside the fast simulator's small-angle range.
type AngleUnsupportedError struct {
	Angle float64
}

func (e *AngleUnsupportedError) Error() string {
	return fmt.Sprintf("angle unsupported by fast simulator: %g radians (max %g)", e.Angle, MaxFastInclination)
}

func (e *AngleUnsupportedError) Is(target error) bool {
	if target == ErrAngleUnsupported {
		return true
	}
	_, ok := target.(*AngleUnsupportedError)
	return ok
}

// Simulator turns a field and an orbit radius into a modeled flux curve aligned to a
// fixed timestamp sequence.
type Simulator interface {
	ProduceModeledFlux(f field.Field, orbitRadius float64) []float64
	Timestamps() []float64
}

// Config holds the geometry shared by both simulators
type Config struct {
	Timestamps    []float64
	LimbDarkening LimbDarkening
	Inclination   float64 // Radians away from edge-on
	OrbitalPeriod float64
	PeakFraction  float64 // Fraction of the timestamp span where the transit center falls
	WidthPixels   int
	HeightPixels  int
}

// Validate checks the config for values that cannot be simulated.
func (c Config) Validate() error {
	if len(c.Timestamps) == 0 {
		return fmt.Errorf("%w: no timestamps", ErrInvalidConfig)
	}
	for i, t := range c.Timestamps {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("%w: timestamp %d is not finite", ErrInvalidConfig, i)
		}
		if i > 0 && t < c.Timestamps[i-1] {
			return fmt.Errorf("%w: timestamps not ascending at index %d", ErrInvalidConfig, i)
		}
	}
	if c.OrbitalPeriod <= 0 {
		return fmt.Errorf("%w: orbital period must be positive", ErrInvalidConfig)
	}
	if c.WidthPixels <= 0 || c.HeightPixels <= 0 {
		return fmt.Errorf("%w: pixel grid must be positive, got %dx%d", ErrInvalidConfig, c.WidthPixels, c.HeightPixels)
	}
	if c.PeakFraction < 0 || c.PeakFraction > 1 || math.IsNaN(c.PeakFraction) {
		return fmt.Errorf("%w: peak fraction %g outside [0, 1]", ErrInvalidConfig, c.PeakFraction)
	}
	return nil
}

// peakTimestamp returns the timestamp at which the orbital angle is zero
func (c Config) peakTimestamp() float64 {
	first := c.Timestamps[0]
	last := c.Timestamps[len(c.Timestamps)-1]
	return first + c.PeakFraction*(last-first)
}

// orbitalAngles converts every timestamp to an orbital angle.
func (c Config) orbitalAngles() []float64 {
	peak := c.peakTimestamp()
	angles := make([]float64, len(c.Timestamps))
	for i, t := range c.Timestamps {
		angles[i] = 2 * math.Pi * (t - peak) / c.OrbitalPeriod
	}
	return angles
}

// New creates the requested simulator. When the fast simulator cannot handle the
// inclination, the angular simulator is returned and fellBack is true.
func New(cfg Config, angular bool) (s Simulator, fellBack bool, err error) {
	if angular {
		s, err := NewAngular(cfg)
		return s, false, err
	}

	fast, err := NewFast(cfg)
	if err == nil {
		if fast.ExactSamples() > 0 {
			slog.Debug("Fast simulator integrates wide-angle samples exactly",
				"samples", fast.ExactSamples(), "max_angle", MaxFastOrbitalAngle)
		}
		return fast, false, nil
	}
	if !errors.Is(err, ErrAngleUnsupported) {
		return nil, false, err
	}

	slog.Warn("Fast simulator unsupported, falling back to angular integration", "error", err)
	ang, err := NewAngular(cfg)
	return ang, true, err
}

// Timestamps returns n evenly spaced timestamps from start to end inclusive.
func Timestamps(start, end float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	ts := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := range ts {
		ts[i] = start + float64(i)*step
	}
	return ts
}

func copyFloats(values []float64) []float64 {
	return append([]float64(nil), values...)
}
