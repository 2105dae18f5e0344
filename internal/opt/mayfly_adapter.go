package opt

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// minMayflyPopulation is the smallest population the mayfly library accepts
const minMayflyPopulation = 20

// MayflyAdapter exposes the mayfly library as an Optimizer
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64

	// Progress is reported once per popSize evaluations under the "mayfly" stage
	Progress ProgressFunc
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	if popSize < minMayflyPopulation {
		popSize = minMayflyPopulation
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Search runs the mayfly library inside the box enclosing lower and upper
func (m *MayflyAdapter) Search(eval Objective, lower, upper []float64) (*Result, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, fmt.Errorf("%w: bounds have lengths %d and %d", ErrInvalidConfig, len(lower), len(upper))
	}

	config := mayfly.NewDefaultConfig()

	evaluations := 0
	best := 0.0
	config.ObjectiveFunc = func(x []float64) float64 {
		cost := sanitize(eval(x))
		if evaluations == 0 || cost < best {
			best = cost
		}
		evaluations++
		if m.Progress != nil && evaluations%m.popSize == 0 {
			m.Progress(StageMayfly, evaluations/m.popSize, best)
		}
		return cost
	}
	config.ProblemSize = len(lower)
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize

	// The library takes scalar bounds
	config.LowerBound, config.UpperBound = enclosingBounds(lower, upper)
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, fmt.Errorf("mayfly optimization failed: %w", err)
	}
	slog.Debug("Mayfly search finished", "evaluations", evaluations, "best_cost", result.GlobalBest.Cost)

	return &Result{
		Params:     append([]float64(nil), result.GlobalBest.Position...),
		Cost:       result.GlobalBest.Cost,
		Iterations: m.maxIters,
	}, nil
}

func enclosingBounds(lower, upper []float64) (float64, float64) {
	lo, hi := lower[0], upper[0]
	for i := range lower {
		if lower[i] < lo {
			lo = lower[i]
		}
		if upper[i] > hi {
			hi = upper[i]
		}
	}
	return lo, hi
}
