package opt

import "math/rand"

// Optimizer is a global search over a box-bounded parameter space. The box
// seeds the search; candidates may leave it.
type Optimizer interface {
	Search(eval Objective, lower, upper []float64) (*Result, error)
}

// Objective is a pure function to minimize
type Objective func(x []float64) float64

// Generator produces a random starting vector from the injected source.
type Generator func(rng *rand.Rand) []float64

// ProgressFunc observes optimizer progress. It is called once per iteration and must
// not modify optimizer state.
type ProgressFunc func(stage string, iteration int, best float64)

// ChainProgress combines several observers into one; nil entries are skipped.
func ChainProgress(fns ...ProgressFunc) ProgressFunc {
	return func(stage string, iteration int, best float64) {
		for _, fn := range fns {
			if fn != nil {
				fn(stage, iteration, best)
			}
		}
	}
}

// Candidate is a parameter vector with its cost
type Candidate struct {
	Params []float64
	Cost   float64
}

// Result holds the output of an optimizer run
type Result struct {
	Params     []float64
	Cost       float64
	Iterations int
	Converged  bool
}

// Stage labels reported to ProgressFunc
const (
	StageWarmUp        = "warm-up"
	StageClustering    = "clustering"
	StageElimination   = "elimination"
	StageConsolidation = "consolidation"
	StageGradient      = "agd"
	StageMayfly        = "mayfly"
)

// uniformGenerator samples uniformly inside [lower, upper].
func uniformGenerator(lower, upper []float64) Generator {
	return func(rng *rand.Rand) []float64 {
		x := make([]float64, len(lower))
		for i := range x {
			x[i] = lower[i] + rng.Float64()*(upper[i]-lower[i])
		}
		return x
	}
}
