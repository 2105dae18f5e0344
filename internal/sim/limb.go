package sim

import "math"

// LimbDarkening holds power-series coefficients a_1..a_n of
// I(mu) = 1 - sum_k a_k (1 - mu)^k, with mu = sqrt(1 - r^2).
type LimbDarkening struct {
	Coefficients []float64
}

// NewLimbDarkening creates a limb darkening model from its coefficients.
func NewLimbDarkening(coefficients ...float64) LimbDarkening {
	return LimbDarkening{Coefficients: append([]float64(nil), coefficients...)}
}

// Intensity returns the stellar surface brightness at sky point (x, y), zero off the disc.
func (ld LimbDarkening) Intensity(x, y float64) float64 {
	r2 := x*x + y*y
	if r2 >= 1 {
		return 0
	}
	mu := math.Sqrt(1 - r2)
	oneMinusMu := 1 - mu

	b := 1.0
	term := 1.0
	for _, a := range ld.Coefficients {
		term *= oneMinusMu
		b -= a * term
	}
	return b
}

// TotalFlux returns the disc-integrated flux of the unocculted star.
// Uses the closed form of the integral of mu*(1-mu)^k over [0, 1].
func (ld LimbDarkening) TotalFlux() float64 {
	sum := 0.5
	for i, a := range ld.Coefficients {
		k := float64(i + 1)
		sum -= a / ((k + 1) * (k + 2))
	}
	return 2 * math.Pi * sum
}
