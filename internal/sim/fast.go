package sim

import (
	"math"

	"github.com/jhs/lcfit/internal/field"
)

// FastSimulator rasterizes the field once per call and slides the foreshortened
// raster across the star. Samples whose orbital angle exceeds MaxFastOrbitalAngle
// are integrated exactly, as the angular simulator does. Only valid for small
// inclinations.
type FastSimulator struct {
	cfg       Config
	angles    []float64
	totalFlux float64
	exact     *AngularSimulator
	wide      int
}

// NewFast creates the approximate simulator, or an *AngleUnsupportedError when the
// inclination falls outside the small-angle range.
func NewFast(cfg Config) (*FastSimulator, error) {
	if math.Abs(cfg.Inclination) > MaxFastInclination {
		return nil, &AngleUnsupportedError{Angle: cfg.Inclination}
	}
	exact, err := NewAngular(cfg)
	if err != nil {
		return nil, err
	}

	wide := 0
	for _, theta := range exact.angles {
		if math.Abs(theta) > MaxFastOrbitalAngle {
			wide++
		}
	}

	return &FastSimulator{
		cfg:       exact.cfg,
		angles:    exact.angles,
		totalFlux: exact.totalFlux,
		exact:     exact,
		wide:      wide,
	}, nil
}

// Timestamps returns the timestamps the modeled flux is aligned to
func (s *FastSimulator) Timestamps() []float64 { return copyFloats(s.cfg.Timestamps) }

// ExactSamples is the number of timestamps integrated by the angular method
func (s *FastSimulator) ExactSamples() int { return s.wide }

type rasterCell struct {
	x     float64
	value float64
}

// ProduceModeledFlux returns relative flux (1 = unocculted star) per timestamp.
func (s *FastSimulator) ProduceModeledFlux(f field.Field, orbitRadius float64) []float64 {
	raster := field.Rasterize(f, s.cfg.WidthPixels, s.cfg.HeightPixels)

	// Keep only cells with an effect, grouped by row
	rows := make([][]rasterCell, len(raster.Values))
	for row, line := range raster.Values {
		for col, value := range line {
			if math.IsNaN(value) || value == 0 {
				continue
			}
			rows[row] = append(rows[row], rasterCell{x: raster.X(col), value: value})
		}
	}

	ld := s.cfg.LimbDarkening
	sinI := math.Sin(s.cfg.Inclination)
	cosI := math.Cos(s.cfg.Inclination)
	flux := make([]float64, len(s.angles))

	for i, theta := range s.angles {
		if math.Abs(theta) > MaxFastOrbitalAngle {
			flux[i] = s.exact.fluxAt(f, raster.Box, theta, orbitRadius)
			continue
		}

		flux[i] = 1
		cosT := math.Cos(theta)
		cx := orbitRadius * math.Sin(theta)
		if cx+raster.Box.MaxX()*cosT < -1 || cx+raster.Box.X*cosT > 1 {
			continue
		}
		cy := orbitRadius * cosT * sinI
		dA := raster.DX * raster.DY * cosT * cosI

		var sum float64
		for row, cells := range rows {
			y := cy + raster.Y(row)*cosI
			if y < -1 || y > 1 {
				continue
			}
			for _, c := range cells {
				x := cx + c.x*cosT
				if x < -1 || x > 1 {
					continue
				}
				if c.value < 0 {
					sum += c.value * ld.Intensity(x, y) * dA
				} else {
					sum += c.value * dA
				}
			}
		}
		flux[i] += sum / s.totalFlux
	}

	return flux
}
