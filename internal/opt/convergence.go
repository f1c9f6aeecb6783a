package opt

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines when a run is considered stalled.
type ConvergenceConfig struct {
	// Enabled controls whether stall detection is active
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Patience is the number of consecutive generations without significant
	// improvement of the best cost before stopping
	Patience int `json:"patience" yaml:"patience"`

	// Threshold is the minimum improvement that counts as progress, relative
	// to the last significant cost (absolute when that cost is zero)
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// DefaultConvergenceConfig stops after 50 generations below 1e-9 relative improvement.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  50,
		Threshold: 1e-9,
	}
}

// DisabledConvergenceConfig returns a config with stall detection disabled
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled: false,
	}
}

// ConvergenceTracker tracks cost history and detects when optimization has stalled
type ConvergenceTracker struct {
	config          ConvergenceConfig
	costHistory     []float64
	bestCost        float64 // Best cost ever seen
	lastSignificant float64 // Last cost that was a significant improvement
	staleCount      int     // Generations without significant improvement
}

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		costHistory:     []float64{},
		bestCost:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records a new cost value and returns true if the run has stalled
func (c *ConvergenceTracker) Update(cost float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.costHistory = append(c.costHistory, cost)

	if cost < c.bestCost {
		c.bestCost = cost
	}

	if len(c.costHistory) == 1 {
		c.lastSignificant = cost
		return false
	}

	improvement := c.lastSignificant - cost
	if scale := math.Abs(c.lastSignificant); scale > 0 && !math.IsInf(scale, 0) {
		improvement /= scale
	}

	if improvement >= c.config.Threshold && improvement > 0 {
		c.lastSignificant = cost
		c.staleCount = 0
		return false
	}

	c.staleCount++
	if c.staleCount >= c.config.Patience {
		slog.Debug("Stall detected",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_cost", c.bestCost,
		)
		return true
	}
	return false
}

// BestCost returns the best cost seen so far
func (c *ConvergenceTracker) BestCost() float64 {
	return c.bestCost
}

// History returns the full cost history
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.costHistory...)
}

// StaleCount returns the current number of generations without improvement
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// Reset clears the tracker's state
func (c *ConvergenceTracker) Reset() {
	c.costHistory = []float64{}
	c.bestCost = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.staleCount = 0
}
