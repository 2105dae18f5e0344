package fit

import (
	"sync"

	"github.com/jhs/lcfit/internal/field"
	"github.com/jhs/lcfit/internal/sim"
)

// Solution is the decoded, immutable form of a parameter vector
type Solution struct {
	params      []float64
	field       *field.NNField
	outputBias  float64
	orbitRadius float64
	simulator   sim.Simulator

	fluxOnce sync.Once
	flux     []float64
}

// Parameters returns a copy of the vector this solution was decoded from
func (s *Solution) Parameters() []float64 {
	return append([]float64(nil), s.params...)
}

// Field returns the ensemble field
func (s *Solution) Field() *field.NNField { return s.field }

// OrbitRadius returns the decoded orbit radius in stellar radii
func (s *Solution) OrbitRadius() float64 { return s.orbitRadius }

// OutputBias returns the bias added to the ensemble activation
func (s *Solution) OutputBias() float64 { return s.outputBias }

// ProduceModeledFlux runs the simulator once and returns a copy of the cached curve.
// It panics if the solution was decoded without a simulator.
func (s *Solution) ProduceModeledFlux() []float64 {
	s.fluxOnce.Do(func() {
		if s.simulator == nil {
			panic("fit: solution has no simulator")
		}
		s.flux = s.simulator.ProduceModeledFlux(s.field, s.orbitRadius)
	})
	return append([]float64(nil), s.flux...)
}
