package sim

import (
	"math"

	"github.com/jhs/lcfit/internal/field"
)

// AngularSimulator integrates the field over the visible stellar disc at every timestamp,
// re-projecting the body through the orbital angle and inclination each time.
type AngularSimulator struct {
	cfg       Config
	angles    []float64
	totalFlux float64
	dx, dy    float64
}

// NewAngular creates the exact simulator. The sky grid of WidthPixels x HeightPixels
// covers the [-1, 1] x [-1, 1] viewport around the star.
func NewAngular(cfg Config) (*AngularSimulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Timestamps = copyFloats(cfg.Timestamps)

	return &AngularSimulator{
		cfg:       cfg,
		angles:    cfg.orbitalAngles(),
		totalFlux: cfg.LimbDarkening.TotalFlux(),
		dx:        2.0 / float64(cfg.WidthPixels),
		dy:        2.0 / float64(cfg.HeightPixels),
	}, nil
}

// Timestamps returns the timestamps the modeled flux is aligned to
func (s *AngularSimulator) Timestamps() []float64 { return copyFloats(s.cfg.Timestamps) }

// ProduceModeledFlux returns relative flux (1 = unocculted star) per timestamp.
func (s *AngularSimulator) ProduceModeledFlux(f field.Field, orbitRadius float64) []float64 {
	box := f.BoundingBox()
	flux := make([]float64, len(s.angles))
	for i, theta := range s.angles {
		flux[i] = s.fluxAt(f, box, theta, orbitRadius)
	}
	return flux
}

// fluxAt re-projects the body at orbital angle theta and integrates it.
func (s *AngularSimulator) fluxAt(f field.Field, box field.Rect, theta, orbitRadius float64) float64 {
	cosT := math.Cos(theta)
	if cosT <= 0 {
		// Body is behind the star or beside it
		return 1
	}
	cx := orbitRadius * math.Sin(theta)
	cy := orbitRadius * cosT * math.Sin(s.cfg.Inclination)
	return 1 + s.integrate(f, box, cx, cy, cosT, math.Cos(s.cfg.Inclination))/s.totalFlux
}

// integrate sums the field's contribution over sky pixels covered by the projected box.
func (s *AngularSimulator) integrate(f field.Field, box field.Rect, cx, cy, cosT, cosI float64) float64 {
	minCol, maxCol := pixelRange(cx+box.X*cosT, cx+box.MaxX()*cosT, s.dx, s.cfg.WidthPixels)
	minRow, maxRow := pixelRange(cy+box.Y*cosI, cy+box.MaxY()*cosI, s.dy, s.cfg.HeightPixels)
	if minCol > maxCol || minRow > maxRow {
		return 0
	}

	ld := s.cfg.LimbDarkening
	dA := s.dx * s.dy
	var sum float64

	for row := minRow; row <= maxRow; row++ {
		y := -1 + (float64(row)+0.5)*s.dy
		v := (y - cy) / cosI
		for col := minCol; col <= maxCol; col++ {
			x := -1 + (float64(col)+0.5)*s.dx
			u := (x - cx) / cosT
			if !box.Contains(u, v) {
				continue
			}
			value := f.FluxOrOpacity(u, v, 0)
			if math.IsNaN(value) || value == 0 {
				continue
			}
			if value < 0 {
				sum += value * ld.Intensity(x, y) * dA
			} else {
				sum += value * dA
			}
		}
	}

	return sum
}

// pixelRange returns the inclusive range of viewport pixels whose centers may fall in [lo, hi].
func pixelRange(lo, hi, step float64, n int) (int, int) {
	first := int(math.Floor((lo + 1) / step))
	last := int(math.Ceil((hi + 1) / step))
	if first < 0 {
		first = 0
	}
	if last > n-1 {
		last = n - 1
	}
	return first, last
}
