package opt

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

// GradientConfig holds the tunables of the approximate gradient descent
type GradientConfig struct {
	MaxIterations     int               `yaml:"max_iterations" json:"max_iterations"`
	InitialStepFactor float64           `yaml:"initial_step_factor" json:"initial_step_factor"`
	MinStepFactor     float64           `yaml:"min_step_factor" json:"min_step_factor"`
	StepGrowth        float64           `yaml:"step_growth" json:"step_growth"`
	StepShrink        float64           `yaml:"step_shrink" json:"step_shrink"`
	Convergence       ConvergenceConfig `yaml:"convergence" json:"convergence"`
}

// DefaultGradientConfig returns defaults for the local refinement stage
func DefaultGradientConfig() GradientConfig {
	return GradientConfig{
		MaxIterations:     10,
		InitialStepFactor: 1.0,
		MinStepFactor:     1e-3,
		StepGrowth:        1.5,
		StepShrink:        0.5,
		Convergence:       DisabledConvergenceConfig(),
	}
}

// Validate checks the step schedule
func (c GradientConfig) Validate() error {
	switch {
	case c.MaxIterations < 0:
		return fmt.Errorf("%w: max iterations must not be negative", ErrInvalidConfig)
	case c.InitialStepFactor <= 0:
		return fmt.Errorf("%w: initial step factor must be positive", ErrInvalidConfig)
	case c.StepGrowth < 1:
		return fmt.Errorf("%w: step growth must be at least 1", ErrInvalidConfig)
	case c.StepShrink <= 0 || c.StepShrink >= 1:
		return fmt.Errorf("%w: step shrink must be in (0, 1)", ErrInvalidConfig)
	}
	return nil
}

// GradientDescent is a local optimizer that estimates the gradient by finite
// differences with a per-coordinate step and walks along its normalized direction.
type GradientDescent struct {
	Config   GradientConfig
	Progress ProgressFunc
}

// NewGradientDescent creates a gradient descent optimizer
func NewGradientDescent(config GradientConfig) *GradientDescent {
	return &GradientDescent{Config: config}
}

// Optimize refines start. epsilon gives the finite-difference step of each coordinate.
func (g *GradientDescent) Optimize(eval Objective, start, epsilon []float64) (*Result, error) {
	if len(start) != len(epsilon) {
		return nil, fmt.Errorf("%w: start has %d coordinates, epsilon has %d", ErrInvalidConfig, len(start), len(epsilon))
	}
	if err := g.Config.Validate(); err != nil {
		return nil, err
	}

	cfg := g.Config
	dim := len(start)
	x := append([]float64(nil), start...)
	cost := sanitize(eval(x))

	epsNorm := floats.Norm(epsilon, 2)
	step := cfg.InitialStepFactor * epsNorm
	minStep := cfg.MinStepFactor * epsNorm

	tracker := NewConvergenceTracker(cfg.Convergence)
	tracker.Update(cost)

	grad := make([]float64, dim)
	shifted := make([]float64, dim)
	candidate := make([]float64, dim)

	// h(u) = f(x + eps*u), so a unit forward step in u is an epsilon step in x
	rescaled := func(u []float64) float64 {
		for i := range shifted {
			shifted[i] = x[i] + epsilon[i]*u[i]
		}
		return sanitize(eval(shifted))
	}

	iteration := 0
	for iteration < cfg.MaxIterations {
		if math.IsInf(cost, 1) {
			break
		}

		origin := make([]float64, dim)
		fd.Gradient(grad, rescaled, origin, &fd.Settings{
			Formula:     fd.Forward,
			Step:        1,
			OriginKnown: true,
			OriginValue: cost,
		})
		for i := range grad {
			if epsilon[i] != 0 {
				grad[i] /= epsilon[i]
			} else {
				grad[i] = 0
			}
		}

		norm := floats.Norm(grad, 2)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			slog.Debug("Gradient vanished or is not finite", "iteration", iteration, "norm", norm)
			break
		}

		iteration++
		for i := range candidate {
			candidate[i] = x[i] - step*grad[i]/norm
		}
		candidateCost := sanitize(eval(candidate))

		if candidateCost < cost {
			copy(x, candidate)
			cost = candidateCost
			step *= cfg.StepGrowth
		} else {
			step *= cfg.StepShrink
		}

		if g.Progress != nil {
			g.Progress(StageGradient, iteration, cost)
		}

		if step < minStep {
			slog.Debug("Gradient step below minimum", "iteration", iteration, "step", step)
			break
		}
		if tracker.Update(cost) {
			slog.Info("Gradient descent converged", "iteration", iteration, "cost", cost, "stale", tracker.Stale())
			return &Result{Params: x, Cost: cost, Iterations: iteration, Converged: true}, nil
		}
	}

	return &Result{Params: x, Cost: cost, Iterations: iteration}, nil
}
