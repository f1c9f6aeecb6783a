package opt

import (
	"fmt"

	"github.com/cwbudde/cmaes/internal/bench"
	"github.com/cwbudde/cmaes/internal/cma"
	"github.com/cwbudde/cmaes/internal/linalg"
)

// RunConfig describes a CMA-ES run on a named benchmark objective.
// It is shared by the CLI, the job server and checkpoints.
type RunConfig struct {
	Objective   string     `json:"objective" yaml:"objective"`
	Dim         int        `json:"dim" yaml:"dim"`
	Generations int        `json:"generations" yaml:"generations"`
	CMA         cma.Config `json:"cma" yaml:"cma"`

	// InitialMean overrides the start point (default: centre of the objective's box)
	InitialMean []float64 `json:"initialMean,omitempty" yaml:"initial_mean,omitempty"`

	Seed        int64             `json:"seed" yaml:"seed"`
	TolX        float64           `json:"tolX" yaml:"tol_x"`
	Convergence ConvergenceConfig `json:"convergence" yaml:"convergence"`

	// CheckpointInterval saves a checkpoint every N generations (0 = disabled)
	CheckpointInterval int `json:"checkpointInterval,omitempty" yaml:"checkpoint_interval,omitempty"`
}

// DefaultRunConfig returns a 10-dimensional Rosenbrock run.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Objective:   "rosenbrock",
		Dim:         10,
		Generations: 1000,
		CMA:         cma.DefaultConfig(),
		Seed:        1,
		TolX:        1e-12,
		Convergence: DefaultConvergenceConfig(),
	}
}

// Validate checks the run configuration without building an engine.
func (c RunConfig) Validate() error {
	if _, err := bench.Lookup(c.Objective); err != nil {
		return err
	}
	if c.Dim <= 0 {
		return fmt.Errorf("dim must be positive, got %d", c.Dim)
	}
	if c.Generations <= 0 {
		return fmt.Errorf("generations must be positive, got %d", c.Generations)
	}
	if c.InitialMean != nil && len(c.InitialMean) != c.Dim {
		return fmt.Errorf("initial mean has %d entries, expected %d", len(c.InitialMean), c.Dim)
	}
	if c.TolX < 0 {
		return fmt.Errorf("tolX cannot be negative, got %g", c.TolX)
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("checkpoint interval cannot be negative, got %d", c.CheckpointInterval)
	}
	return c.CMA.Validate()
}

// StartPoint returns the initial mean for a fresh run.
func (c RunConfig) StartPoint(o bench.Objective) []float64 {
	if c.InitialMean != nil {
		return append([]float64(nil), c.InitialMean...)
	}
	lower, upper := o.Bounds(c.Dim)
	mean := make([]float64, c.Dim)
	for i := range mean {
		mean[i] = 0.5 * (lower[i] + upper[i])
	}
	return mean
}

// NewEngine builds a fresh engine for the configured objective.
func (c RunConfig) NewEngine() (*cma.Engine, bench.Objective, error) {
	if err := c.Validate(); err != nil {
		return nil, bench.Objective{}, err
	}
	o, _ := bench.Lookup(c.Objective)

	engine, err := cma.New(c.CMA, c.StartPoint(o), linalg.NewGonum(c.Seed))
	if err != nil {
		return nil, bench.Objective{}, fmt.Errorf("failed to create engine: %w", err)
	}
	return engine, o, nil
}

// RestoreEngine rebuilds an engine from exported state. The RNG stream is not
// part of the state, so it is reseeded from Seed and the resumed generation.
func (c RunConfig) RestoreEngine(st cma.State, generation int) (*cma.Engine, bench.Objective, error) {
	if err := c.Validate(); err != nil {
		return nil, bench.Objective{}, err
	}
	o, _ := bench.Lookup(c.Objective)

	engine, err := cma.New(c.CMA, c.StartPoint(o), linalg.NewGonum(c.Seed+int64(generation)))
	if err != nil {
		return nil, bench.Objective{}, fmt.Errorf("failed to create engine: %w", err)
	}
	if err := engine.ImportState(st); err != nil {
		return nil, bench.Objective{}, fmt.Errorf("failed to import engine state: %w", err)
	}
	return engine, o, nil
}

// Options returns the RunOptions implied by the config.
func (c RunConfig) Options() RunOptions {
	return RunOptions{
		MaxGenerations: c.Generations,
		TolX:           c.TolX,
		Convergence:    c.Convergence,
	}
}
