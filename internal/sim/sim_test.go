package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/jhs/lcfit/internal/field"
)

// halfDisc is opaque (-0.5) on its right half and inert (0) on its left half
func halfDisc(radius float64) field.Field {
	return field.Func{
		Bbox: field.Rect{X: -1.5, Y: -1.0, Width: 3.0, Height: 2.0},
		Fn: func(x, y, z float64) float64 {
			if math.Sqrt(x*x+y*y) >= radius {
				return math.NaN()
			}
			if x >= 0 {
				return -0.5
			}
			return 0
		},
	}
}

func agreementConfig(timestamps []float64, period float64) Config {
	return Config{
		Timestamps:    timestamps,
		LimbDarkening: NewLimbDarkening(0.90, -0.2, 0.1),
		Inclination:   0.002,
		OrbitalPeriod: period,
		PeakFraction:  0.5,
		WidthPixels:   150,
		HeightPixels:  150,
	}
}

func TestFastMatchesAngular(t *testing.T) {
	orbitRadius := 200.0
	period := 200.0
	viewportAngle := math.Atan(1.0/orbitRadius) * 2
	timeSpan := period * viewportAngle / math.Pi
	timestamps := Timestamps(-timeSpan/2, timeSpan/2, 51)

	cfg := agreementConfig(timestamps, period)
	angular, err := NewAngular(cfg)
	if err != nil {
		t.Fatalf("NewAngular failed: %v", err)
	}
	fast, err := NewFast(cfg)
	if err != nil {
		t.Fatalf("NewFast failed: %v", err)
	}

	f := halfDisc(0.5)
	flux1 := angular.ProduceModeledFlux(f, orbitRadius)
	flux2 := fast.ProduceModeledFlux(f, orbitRadius)

	if len(flux1) != len(timestamps) || len(flux2) != len(timestamps) {
		t.Fatalf("Expected %d samples, got %d and %d", len(timestamps), len(flux1), len(flux2))
	}

	minFlux := 1.0
	for i := range flux1 {
		if d := math.Abs(flux1[i] - flux2[i]); d > 0.003 {
			t.Errorf("Sample %d: angular=%f fast=%f differ by %f", i, flux1[i], flux2[i], d)
		}
		minFlux = math.Min(minFlux, flux1[i])
	}

	// The body must actually transit
	if minFlux > 0.99 {
		t.Errorf("Expected a visible transit, min flux %f", minFlux)
	}
}

func TestUniformDiscDepth(t *testing.T) {
	// No limb darkening: depth equals the occulted area fraction
	cfg := Config{
		Timestamps:    []float64{-1, 0, 1},
		LimbDarkening: NewLimbDarkening(),
		Inclination:   0,
		OrbitalPeriod: 1000,
		PeakFraction:  0.5,
		WidthPixels:   200,
		HeightPixels:  200,
	}
	disc := field.Disc{Radius: 0.5, Opacity: -1}

	for _, angular := range []bool{true, false} {
		s, fellBack, err := New(cfg, angular)
		if err != nil {
			t.Fatalf("New(angular=%v) failed: %v", angular, err)
		}
		if fellBack {
			t.Errorf("Unexpected fallback at zero inclination")
		}

		flux := s.ProduceModeledFlux(disc, 10)
		if math.Abs(flux[1]-0.75) > 0.005 {
			t.Errorf("angular=%v: central flux %f, want ~0.75", angular, flux[1])
		}
	}
}

func TestAngleUnsupported(t *testing.T) {
	cfg := agreementConfig([]float64{0, 1}, 10)
	cfg.Inclination = 0.3

	_, err := NewFast(cfg)
	if !errors.Is(err, ErrAngleUnsupported) {
		t.Fatalf("Expected ErrAngleUnsupported, got %v", err)
	}
	var angleErr *AngleUnsupportedError
	if !errors.As(err, &angleErr) || angleErr.Angle != 0.3 {
		t.Errorf("Expected AngleUnsupportedError carrying 0.3, got %v", err)
	}

	s, fellBack, err := New(cfg, false)
	if err != nil {
		t.Fatalf("New with fallback failed: %v", err)
	}
	if !fellBack {
		t.Error("Expected fallback to angular simulator")
	}
	if _, ok := s.(*AngularSimulator); !ok {
		t.Errorf("Expected *AngularSimulator, got %T", s)
	}
}

func TestConfigValidate(t *testing.T) {
	base := agreementConfig([]float64{0, 1, 2}, 10)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no timestamps", func(c *Config) { c.Timestamps = nil }},
		{"descending", func(c *Config) { c.Timestamps = []float64{2, 1} }},
		{"zero period", func(c *Config) { c.OrbitalPeriod = 0 }},
		{"zero pixels", func(c *Config) { c.WidthPixels = 0 }},
		{"peak fraction", func(c *Config) { c.PeakFraction = 1.5 }},
		{"infinite timestamp", func(c *Config) { c.Timestamps = []float64{0, math.Inf(1)} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Errorf("Base config should validate: %v", err)
	}
}

func TestBodyBehindStarHasNoEffect(t *testing.T) {
	cfg := Config{
		Timestamps:    []float64{0, 50, 100},
		LimbDarkening: NewLimbDarkening(0.6),
		OrbitalPeriod: 100,
		PeakFraction:  0, // t=50 is half an orbit later
		WidthPixels:   50,
		HeightPixels:  50,
	}
	s, err := NewAngular(cfg)
	if err != nil {
		t.Fatalf("NewAngular failed: %v", err)
	}

	flux := s.ProduceModeledFlux(field.Disc{Radius: 0.5, Opacity: -1}, 5)
	if flux[1] != 1 {
		t.Errorf("Expected unocculted flux at opposition, got %f", flux[1])
	}
	if flux[0] >= 1 {
		t.Errorf("Expected transit at t=0, got %f", flux[0])
	}
}

func TestTimestamps(t *testing.T) {
	ts := Timestamps(-1, 1, 5)
	want := []float64{-1, -0.5, 0, 0.5, 1}
	for i := range want {
		if math.Abs(ts[i]-want[i]) > 1e-12 {
			t.Errorf("ts[%d] = %f, want %f", i, ts[i], want[i])
		}
	}
	if len(Timestamps(0, 1, 0)) != 0 {
		t.Error("Expected no timestamps for n=0")
	}
}

func TestFastIntegratesWideAnglesExactly(t *testing.T) {
	cfg := Config{
		Timestamps:    Timestamps(-0.4, 0.4, 41),
		LimbDarkening: NewLimbDarkening(0.6),
		OrbitalPeriod: 10,
		PeakFraction:  0.5,
		WidthPixels:   60,
		HeightPixels:  60,
	}
	angular, err := NewAngular(cfg)
	if err != nil {
		t.Fatalf("NewAngular failed: %v", err)
	}
	fast, err := NewFast(cfg)
	if err != nil {
		t.Fatalf("NewFast failed: %v", err)
	}

	wide := 0
	for _, theta := range cfg.orbitalAngles() {
		if math.Abs(theta) > MaxFastOrbitalAngle {
			wide++
		}
	}
	if wide == 0 || fast.ExactSamples() != wide {
		t.Fatalf("Expected %d exact samples, got %d", wide, fast.ExactSamples())
	}

	f := halfDisc(0.5)
	want := angular.ProduceModeledFlux(f, 5)
	got := fast.ProduceModeledFlux(f, 5)
	for i, theta := range cfg.orbitalAngles() {
		if math.Abs(theta) > MaxFastOrbitalAngle && got[i] != want[i] {
			t.Errorf("Sample %d at angle %f: fast=%v angular=%v", i, theta, got[i], want[i])
		}
	}
}
