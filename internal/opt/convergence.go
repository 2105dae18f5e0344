package opt

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines parameters for early stopping of a local search
type ConvergenceConfig struct {
	// Enabled controls whether early stopping is active
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Patience is the number of iterations with no significant improvement before stopping
	Patience int `yaml:"patience" json:"patience"`

	// Threshold is the minimum relative improvement required to count as progress
	// Relative improvement = (lastSignificant - cost) / lastSignificant
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultConvergenceConfig returns defaults for early stopping
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  5,
		Threshold: 1e-4,
	}
}

// DisabledConvergenceConfig returns a config with early stopping disabled
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{Enabled: false}
}

// ConvergenceTracker stops a search once Patience consecutive costs fail to
// improve on the last significant one by Threshold (relative).
type ConvergenceTracker struct {
	config    ConvergenceConfig
	reference float64
	started   bool
	stale     int
}

// NewConvergenceTracker creates a tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{config: config}
}

// Update records a cost and reports whether the search should stop.
func (c *ConvergenceTracker) Update(cost float64) bool {
	if !c.config.Enabled {
		return false
	}
	if !c.started || math.IsInf(c.reference, 1) {
		c.started = true
		c.reference = cost
		return false
	}
	if c.significant(cost) {
		c.reference = cost
		c.stale = 0
		return false
	}

	c.stale++
	slog.Debug("No significant cost improvement",
		"cost", cost,
		"reference", c.reference,
		"stale", c.stale,
		"patience", c.config.Patience,
	)
	return c.stale >= c.config.Patience
}

// significant reports a relative drop of at least Threshold below the reference.
// A non-positive reference cannot improve significantly.
func (c *ConvergenceTracker) significant(cost float64) bool {
	if c.reference <= 0 || cost >= c.reference {
		return false
	}
	return (c.reference-cost)/c.reference >= c.config.Threshold
}

// Stale is the number of consecutive updates without significant improvement
func (c *ConvergenceTracker) Stale() int { return c.stale }
