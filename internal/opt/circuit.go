package opt

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
)

// ErrInvalidConfig is returned when an optimizer is configured with unusable values.
var ErrInvalidConfig = errors.New("invalid optimizer configuration")

// MinPopulation is the smallest population elimination will leave behind
const MinPopulation = 4

// CircuitConfig holds the tunables of the circuit search
type CircuitConfig struct {
	InitialPoolSize            int     `yaml:"initial_pool_size" json:"initial_pool_size"`
	PopulationSize             int     `yaml:"population_size" json:"population_size"`
	MaxWarmUpIterations        int     `yaml:"max_warm_up_iterations" json:"max_warm_up_iterations"`
	MaxClusteringIterations    int     `yaml:"max_clustering_iterations" json:"max_clustering_iterations"`
	MaxEliminationIterations   int     `yaml:"max_elimination_iterations" json:"max_elimination_iterations"`
	MaxConsolidationIterations int     `yaml:"max_consolidation_iterations" json:"max_consolidation_iterations"`
	EliminationFraction        float64 `yaml:"elimination_fraction" json:"elimination_fraction"`
	ExpansionFactor            float64 `yaml:"expansion_factor" json:"expansion_factor"`
	DisplacementFactor         float64 `yaml:"displacement_factor" json:"displacement_factor"`
	ConvergeDistance           float64 `yaml:"converge_distance" json:"converge_distance"`
	CircuitShuffliness         float64 `yaml:"circuit_shuffliness" json:"circuit_shuffliness"`
	Workers                    int     `yaml:"workers" json:"workers"`
}

// DefaultCircuitConfig returns the standard search schedule
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		InitialPoolSize:            1000,
		PopulationSize:             100,
		MaxWarmUpIterations:        0,
		MaxClusteringIterations:    100,
		MaxEliminationIterations:   0,
		MaxConsolidationIterations: 5,
		EliminationFraction:        0.1,
		ExpansionFactor:            3.0,
		DisplacementFactor:         0.03,
		ConvergeDistance:           1e-4,
		CircuitShuffliness:         0.5,
		Workers:                    1,
	}
}

// Validate checks that the schedule can run
func (c CircuitConfig) Validate() error {
	switch {
	case c.PopulationSize < 2:
		return fmt.Errorf("%w: population size must be at least 2, got %d", ErrInvalidConfig, c.PopulationSize)
	case c.MaxWarmUpIterations < 0 || c.MaxClusteringIterations < 0 ||
		c.MaxEliminationIterations < 0 || c.MaxConsolidationIterations < 0:
		return fmt.Errorf("%w: iteration counts must not be negative", ErrInvalidConfig)
	case c.EliminationFraction < 0 || c.EliminationFraction > 1:
		return fmt.Errorf("%w: elimination fraction must be in [0, 1], got %g", ErrInvalidConfig, c.EliminationFraction)
	case c.ExpansionFactor < 0 || c.DisplacementFactor < 0:
		return fmt.Errorf("%w: expansion and displacement must not be negative", ErrInvalidConfig)
	case c.CircuitShuffliness < 0 || c.CircuitShuffliness > 1:
		return fmt.Errorf("%w: shuffliness must be in [0, 1], got %g", ErrInvalidConfig, c.CircuitShuffliness)
	}
	return nil
}

// CircuitSearch is a population-based global optimizer. Candidates are chained into a
// circuit by rank and each one spawns an offspring along the line to its successor.
type CircuitSearch struct {
	Config CircuitConfig

	// Rand drives every random decision; it is only used on the calling goroutine
	Rand *rand.Rand

	// Generator creates the initial pool. Defaults to N(0,1) per coordinate.
	Generator Generator

	// WarmUp, when set, ranks the initial pool and the warm-up iterations instead of
	// the primary objective.
	WarmUp Objective

	Progress ProgressFunc
}

// NewCircuitSearch creates a circuit search seeded for reproducibility
func NewCircuitSearch(config CircuitConfig, seed int64) *CircuitSearch {
	return &CircuitSearch{
		Config: config,
		Rand:   rand.New(rand.NewSource(seed)),
	}
}

// Search satisfies Optimizer. Without a Generator the pool starts uniformly inside the box.
func (c *CircuitSearch) Search(eval Objective, lower, upper []float64) (*Result, error) {
	if len(lower) != len(upper) {
		return nil, fmt.Errorf("%w: bounds have lengths %d and %d", ErrInvalidConfig, len(lower), len(upper))
	}
	search := *c
	if search.Generator == nil {
		search.Generator = uniformGenerator(lower, upper)
	}
	return search.Optimize(len(lower), eval)
}

// Optimize minimizes eval over a dim-dimensional space
func (c *CircuitSearch) Optimize(dim int, eval Objective) (*Result, error) {
	if dim < 1 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dim)
	}
	if err := c.Config.Validate(); err != nil {
		return nil, err
	}

	rng := c.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	gen := c.Generator
	if gen == nil {
		gen = gaussianGenerator(dim)
	}

	ranking := eval
	if c.WarmUp != nil {
		ranking = c.WarmUp
	}

	cfg := c.Config
	pop := c.initPool(gen, rng, ranking)
	iteration := 0

	if c.WarmUp != nil {
		for i := 0; i < cfg.MaxWarmUpIterations; i++ {
			c.step(pop, ranking, rng, cfg.CircuitShuffliness, cfg.ExpansionFactor)
			iteration++
			c.report(StageWarmUp, iteration, pop.best().Cost)
		}
		c.rescore(pop, eval)
		slog.Debug("Warm-up finished", "iterations", cfg.MaxWarmUpIterations, "best_cost", pop.best().Cost)
	}

	converged := false
	stages := []struct {
		name       string
		iterations int
		shuffle    float64
		expansion  float64
		eliminate  bool
	}{
		{StageClustering, cfg.MaxClusteringIterations, cfg.CircuitShuffliness, cfg.ExpansionFactor, false},
		{StageElimination, cfg.MaxEliminationIterations, cfg.CircuitShuffliness, cfg.ExpansionFactor, true},
		{StageConsolidation, cfg.MaxConsolidationIterations, 0, 1, false},
	}

	for _, stage := range stages {
		for i := 0; i < stage.iterations && !converged; i++ {
			c.step(pop, eval, rng, stage.shuffle, stage.expansion)
			if stage.eliminate {
				pop = c.eliminate(pop)
			}
			iteration++
			c.report(stage.name, iteration, pop.best().Cost)
			converged = c.converged(pop)
		}
		slog.Debug("Circuit search stage finished",
			"stage", stage.name,
			"iteration", iteration,
			"population", len(pop),
			"best_cost", pop.best().Cost,
			"converged", converged,
		)
		if converged {
			break
		}
	}

	best := pop.best()
	return &Result{
		Params:     append([]float64(nil), best.Params...),
		Cost:       best.Cost,
		Iterations: iteration,
		Converged:  converged,
	}, nil
}

func (c *CircuitSearch) initPool(gen Generator, rng *rand.Rand, eval Objective) population {
	size := c.Config.InitialPoolSize
	if size < c.Config.PopulationSize {
		size = c.Config.PopulationSize
	}

	points := make([][]float64, size)
	for i := range points {
		points[i] = gen(rng)
	}
	costs := evaluate(eval, points, c.Config.Workers)

	candidates := make(population, size)
	for i := range points {
		candidates[i] = Candidate{Params: points[i], Cost: costs[i]}
	}
	candidates.sort()

	return candidates[:c.Config.PopulationSize]
}

// rescore re-evaluates every candidate with eval and re-sorts
func (c *CircuitSearch) rescore(pop population, eval Objective) {
	points := make([][]float64, len(pop))
	for i := range pop {
		points[i] = pop[i].Params
	}
	costs := evaluate(eval, points, c.Config.Workers)
	for i := range pop {
		pop[i].Cost = costs[i]
	}
	pop.sort()
}

// step runs one circuit pass over a sorted population and leaves it sorted
func (c *CircuitSearch) step(pop population, eval Objective, rng *rand.Rand, shuffliness, expansion float64) {
	n := len(pop)

	circuit := make([]int, n)
	for i := range circuit {
		circuit[i] = i
	}
	for i := range circuit {
		if rng.Float64() < shuffliness {
			j := rng.Intn(n)
			circuit[i], circuit[j] = circuit[j], circuit[i]
		}
	}

	offspring := make([][]float64, n)
	for k := 0; k < n; k++ {
		a := pop[circuit[k]].Params
		b := pop[circuit[(k+1)%n]].Params
		s := rng.Float64() * expansion
		sd := c.Config.DisplacementFactor * rmsDistance(a, b)

		x := make([]float64, len(a))
		for d := range x {
			x[d] = a[d] + s*(b[d]-a[d]) + rng.NormFloat64()*sd
		}
		offspring[k] = x
	}

	costs := evaluate(eval, offspring, c.Config.Workers)

	for k, x := range offspring {
		cost := costs[k]
		slot := circuit[k]
		if cost < pop[slot].Cost {
			pop[slot] = Candidate{Params: x, Cost: cost}
			continue
		}
		if worst := pop.worstIndex(); cost < pop[worst].Cost {
			pop[worst] = Candidate{Params: x, Cost: cost}
		}
	}

	pop.sort()
}

// eliminate drops the worst fraction of a sorted population
func (c *CircuitSearch) eliminate(pop population) population {
	drop := int(math.Ceil(float64(len(pop)) * c.Config.EliminationFraction))
	keep := len(pop) - drop
	if keep < MinPopulation {
		keep = MinPopulation
	}
	if keep >= len(pop) {
		return pop
	}
	return pop[:keep]
}

// converged reports whether the best cluster has collapsed below ConvergeDistance
func (c *CircuitSearch) converged(pop population) bool {
	k := len(pop) / 4
	if k < 2 {
		k = 2
	}
	return pop.spread(k) < c.Config.ConvergeDistance
}

func (c *CircuitSearch) report(stage string, iteration int, best float64) {
	if c.Progress != nil {
		c.Progress(stage, iteration, best)
	}
}

func gaussianGenerator(dim int) Generator {
	return func(rng *rand.Rand) []float64 {
		x := make([]float64, dim)
		for i := range x {
			x[i] = rng.NormFloat64()
		}
		return x
	}
}
