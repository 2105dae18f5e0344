package fit

import (
	"github.com/jhs/lcfit/internal/lightcurve"
	"github.com/jhs/lcfit/internal/store"
)

// RunConfig snapshots the settings that shaped a fit
func (c Config) RunConfig() store.RunConfig {
	return store.RunConfig{
		Global:       c.Optimizer.Global,
		Seed:         c.Seed,
		Lambda:       c.Optimizer.Lambda,
		Angular:      c.Geometry.Angular,
		Inclination:  c.Geometry.Inclination,
		Period:       c.Geometry.OrbitalPeriod,
		NumNetworks:  c.Sampler.NumNetworks,
		HiddenLayers: append([]int(nil), c.Sampler.HiddenLayers...),
		OutputType:   string(c.Sampler.OutputType),
	}
}

// Run packages a result and the curve it was fitted to for persistence.
func (r *Result) Run(input string, config Config, lc lightcurve.LightCurve) *store.Run {
	run := store.NewRun(input, config.RunConfig())
	run.Params = r.Solution.Parameters()
	run.Stage1Cost = r.Stage1Cost
	run.Cost = r.Cost
	run.PeakFraction = r.PeakFraction
	run.OrbitRadius = r.Solution.OrbitRadius()
	run.Iterations = r.Iterations
	run.DurationMS = r.Duration.Milliseconds()
	run.Timestamps = lc.Timestamps()
	run.Observed = lc.FluxArray()
	run.Modeled = r.Solution.ProduceModeledFlux()
	return run
}
