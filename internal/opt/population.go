package opt

import (
	"math"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"
)

// evaluate computes the cost of every vector. With workers > 1 the calls run
// concurrently; results are written by index so the outcome does not depend on
// scheduling. Non-finite costs become +Inf.
func evaluate(eval Objective, points [][]float64, workers int) []float64 {
	costs := make([]float64, len(points))

	if workers <= 1 || len(points) < 2 {
		for i, x := range points {
			costs[i] = sanitize(eval(x))
		}
		return costs
	}

	p := pool.New().WithMaxGoroutines(workers)
	for i, x := range points {
		i, x := i, x
		p.Go(func() {
			costs[i] = sanitize(eval(x))
		})
	}
	p.Wait()

	return costs
}

func sanitize(cost float64) float64 {
	if math.IsNaN(cost) || math.IsInf(cost, -1) {
		return math.Inf(1)
	}
	return cost
}

// population is kept sorted ascending by cost at every point where rank is inspected
type population []Candidate

func (p population) sort() {
	sort.SliceStable(p, func(i, j int) bool { return p[i].Cost < p[j].Cost })
}

func (p population) best() Candidate { return p[0] }

func (p population) worstIndex() int {
	worst := 0
	for i := range p {
		if p[i].Cost > p[worst].Cost {
			worst = i
		}
	}
	return worst
}

// rmsDistance is the Euclidean distance divided by sqrt(dim)
func rmsDistance(a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 2) / math.Sqrt(float64(len(a)))
}

// spread returns the largest pairwise RMS distance among the k best candidates.
func (p population) spread(k int) float64 {
	if k > len(p) {
		k = len(p)
	}
	var widest float64
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if d := rmsDistance(p[i].Params, p[j].Params); d > widest {
				widest = d
			}
		}
	}
	return widest
}
