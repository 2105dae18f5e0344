package fit

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jhs/lcfit/internal/lightcurve"
	"github.com/jhs/lcfit/internal/opt"
	"github.com/jhs/lcfit/internal/sim"
)

// Global optimizer names
const (
	GlobalCircuit = "circuit"
	GlobalMayfly  = "mayfly"
)

// GeometryConfig describes the star and the orbit
type GeometryConfig struct {
	LimbDarkening []float64 `yaml:"limb_darkening" json:"limb_darkening"`
	Inclination   float64   `yaml:"inclination" json:"inclination"`
	OrbitalPeriod float64   `yaml:"orbital_period" json:"orbital_period"`
	WidthPixels   int       `yaml:"width_pixels" json:"width_pixels"`
	HeightPixels  int       `yaml:"height_pixels" json:"height_pixels"`
	Angular       bool      `yaml:"angular" json:"angular"`
}

// OptimizerConfig holds the schedule of both stages
type OptimizerConfig struct {
	Global           string             `yaml:"global" json:"global"`
	Circuit          opt.CircuitConfig  `yaml:"circuit" json:"circuit"`
	Gradient         opt.GradientConfig `yaml:"gradient" json:"gradient"`
	MayflyIterations int                `yaml:"mayfly_iterations" json:"mayfly_iterations"`
	Lambda           float64            `yaml:"lambda" json:"lambda"`
	RegularizeAGD    bool               `yaml:"regularize_agd" json:"regularize_agd"`
	Epsilon          float64            `yaml:"epsilon" json:"epsilon"`
	EpsilonFactor    float64            `yaml:"epsilon_factor" json:"epsilon_factor"`
	Workers          int                `yaml:"workers" json:"workers"`
}

// Config is the complete fitter configuration
type Config struct {
	Geometry  GeometryConfig  `yaml:"geometry" json:"geometry"`
	Sampler   SamplerConfig   `yaml:"sampler" json:"sampler"`
	Optimizer OptimizerConfig `yaml:"optimizer" json:"optimizer"`
	Seed      int64           `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the standard two-stage schedule
func DefaultConfig() Config {
	return Config{
		Geometry: GeometryConfig{
			OrbitalPeriod: 10,
			WidthPixels:   100,
			HeightPixels:  100,
		},
		Sampler: DefaultSamplerConfig(),
		Optimizer: OptimizerConfig{
			Global:           GlobalCircuit,
			Circuit:          opt.DefaultCircuitConfig(),
			Gradient:         opt.DefaultGradientConfig(),
			MayflyIterations: 100,
			Lambda:           3e-4,
			Epsilon:          0.01,
			Workers:          1,
		},
		Seed: 1,
	}
}

// Validate checks every section
func (c Config) Validate() error {
	if err := c.Sampler.Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Circuit.Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Gradient.Validate(); err != nil {
		return err
	}
	switch c.Optimizer.Global {
	case GlobalCircuit, GlobalMayfly:
	default:
		return fmt.Errorf("%w: unknown global optimizer %q", ErrInvalidConfig, c.Optimizer.Global)
	}
	if c.Optimizer.EpsilonFactor <= 0 && c.Optimizer.Epsilon <= 0 {
		return fmt.Errorf("%w: need a positive epsilon or epsilon factor", ErrInvalidConfig)
	}
	if c.Optimizer.Lambda < 0 {
		return fmt.Errorf("%w: lambda must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Result is the outcome of a fit
type Result struct {
	Solution     *Solution
	Stage1Cost   float64
	Cost         float64
	Weights      []float64
	PeakFraction float64
	Iterations   int
	FellBack     bool
	Duration     time.Duration
}

// Fitter runs a global search followed by gradient descent
type Fitter struct {
	config Config

	// Progress receives every iteration of both stages
	Progress opt.ProgressFunc
}

// NewFitter validates config
func NewFitter(config Config) (*Fitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Fitter{config: config}, nil
}

// Config returns the fitter configuration
func (f *Fitter) Config() Config { return f.config }

// Simulator builds the simulator for a curve with the given peak fraction
func (f *Fitter) Simulator(timestamps []float64, peakFraction float64) (sim.Simulator, bool, error) {
	g := f.config.Geometry
	return sim.New(sim.Config{
		Timestamps:    timestamps,
		LimbDarkening: sim.NewLimbDarkening(g.LimbDarkening...),
		Inclination:   g.Inclination,
		OrbitalPeriod: g.OrbitalPeriod,
		PeakFraction:  peakFraction,
		WidthPixels:   g.WidthPixels,
		HeightPixels:  g.HeightPixels,
	}, g.Angular)
}

// Optimize fits the light curve
func (f *Fitter) Optimize(lc lightcurve.LightCurve) (*Result, error) {
	start := time.Now()
	if err := lc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid light curve: %w", err)
	}

	flux := lc.FluxArray()
	peak := lc.CenterOfMassAsFraction()

	simulator, fellBack, err := f.Simulator(lc.Timestamps(), peak)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator: %w", err)
	}
	sampler, err := NewSolutionSampler(f.config.Sampler, simulator)
	if err != nil {
		return nil, err
	}
	weights := sampler.CreateFluxWeights(flux)

	cfg := f.config.Optimizer
	rng := rand.New(rand.NewSource(f.config.Seed))

	slog.Info("Starting global search",
		"optimizer", cfg.Global,
		"samples", len(flux),
		"parameters", sampler.NumParameters(),
		"peak_fraction", peak,
	)

	primary := LossFunction{Sampler: sampler, Observed: flux, Weights: weights, Lambda: cfg.Lambda}
	stage1, err := f.globalSearch(sampler, primary, rng)
	if err != nil {
		return nil, fmt.Errorf("global search failed: %w", err)
	}
	slog.Info("Global search complete", "cost", stage1.Cost, "iterations", stage1.Iterations)

	local := LossFunction{Sampler: sampler, Observed: flux, Weights: weights}
	if cfg.RegularizeAGD {
		local.Lambda = cfg.Lambda
	}

	epsilon := f.epsilon(sampler, stage1.Params)
	gd := opt.NewGradientDescent(cfg.Gradient)
	gd.Progress = f.Progress
	stage2, err := gd.Optimize(local.Evaluate, stage1.Params, epsilon)
	if err != nil {
		return nil, fmt.Errorf("gradient descent failed: %w", err)
	}

	solution, err := sampler.ParametersAsSolution(stage2.Params)
	if err != nil {
		return nil, err
	}
	cost := SolutionMeanSquaredError(flux, weights, solution)

	slog.Info("Fit complete",
		"stage1_cost", stage1.Cost,
		"cost", cost,
		"gradient_iterations", stage2.Iterations,
		"duration", time.Since(start),
	)

	return &Result{
		Solution:     solution,
		Stage1Cost:   stage1.Cost,
		Cost:         cost,
		Weights:      weights,
		PeakFraction: peak,
		Iterations:   stage1.Iterations + stage2.Iterations,
		FellBack:     fellBack,
		Duration:     time.Since(start),
	}, nil
}

func (f *Fitter) globalSearch(sampler *SolutionSampler, loss LossFunction, rng *rand.Rand) (*opt.Result, error) {
	lower, upper := sampler.Bounds()
	return f.globalOptimizer(sampler, loss, rng).Search(loss.Evaluate, lower, upper)
}

// globalOptimizer builds the configured first stage. Circuit search draws its
// pool from the sampler; mayfly starts inside the parameter bounds.
func (f *Fitter) globalOptimizer(sampler *SolutionSampler, loss LossFunction, rng *rand.Rand) opt.Optimizer {
	cfg := f.config.Optimizer

	if cfg.Global == GlobalMayfly {
		m := opt.NewMayfly(cfg.MayflyIterations, cfg.Circuit.PopulationSize, f.config.Seed)
		m.Progress = f.Progress
		return m
	}

	circuitCfg := cfg.Circuit
	if cfg.Workers > 0 {
		circuitCfg.Workers = cfg.Workers
	}
	search := &opt.CircuitSearch{
		Config:    circuitCfg,
		Rand:      rng,
		Generator: sampler.RandomParameters,
		Progress:  f.Progress,
	}
	if circuitCfg.MaxWarmUpIterations > 0 {
		uniform := make([]float64, len(loss.Weights))
		for i := range uniform {
			uniform[i] = 1
		}
		warmUp := loss
		warmUp.Weights = uniform
		search.WarmUp = warmUp.Evaluate
	}
	return search
}

// epsilon returns the per-parameter finite-difference step around start. A
// positive EpsilonFactor scales the sampler's minimal change threshold instead
// of using the fixed Epsilon.
func (f *Fitter) epsilon(sampler *SolutionSampler, start []float64) []float64 {
	cfg := f.config.Optimizer
	if cfg.EpsilonFactor > 0 {
		eps := sampler.MinimalChangeThreshold(start, 0.003)
		for i := range eps {
			eps[i] *= cfg.EpsilonFactor
		}
		return eps
	}

	eps := make([]float64, len(start))
	for i := range eps {
		eps[i] = cfg.Epsilon
	}
	return eps
}
