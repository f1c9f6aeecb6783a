package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/cmaes/internal/cma"
	"github.com/cwbudde/cmaes/internal/opt"
)

// Checkpoint is a resumable snapshot of a CMA-ES run.
//
// Unlike population-based optimizers whose internals would have to be
// re-seeded on resume, the CMA engine exports its complete evolving state
// (mean, step size, evolution paths, covariance and its spectral factors,
// evaluation counters). Resuming imports that state into a fresh engine and
// continues the same search distribution.
//
// The only thing not captured is the random stream. Resumed runs reseed from
// Config.Seed and Generation, so a resumed run is a valid continuation but
// not bit-identical to an uninterrupted one.
type Checkpoint struct {
	// JobID is the unique identifier for this run
	JobID string `json:"jobId"`

	// BestParams is the best point evaluated so far
	BestParams []float64 `json:"bestParams"`

	// BestCost is the objective value at BestParams
	BestCost float64 `json:"bestCost"`

	// InitialCost is the objective value at the initial mean
	InitialCost float64 `json:"initialCost"`

	// Generation is the number of completed generations
	Generation int `json:"generation"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config is the run configuration; resume rebuilds the engine from it
	Config opt.RunConfig `json:"config"`

	// State is the exported engine state
	State cma.State `json:"state"`
}

// CheckpointInfo contains metadata about a checkpoint without the engine state.
type CheckpointInfo struct {
	JobID      string    `json:"jobId"`
	BestCost   float64   `json:"bestCost"`
	Generation int       `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
	Objective  string    `json:"objective"`
	Dim        int       `json:"dim"`

	// Sigma is the step size recorded in the state
	Sigma float64 `json:"sigma"`
}

// NewCheckpoint creates a checkpoint from run progress and exported engine state.
func NewCheckpoint(jobID string, bestParams []float64, bestCost, initialCost float64, generation int, config opt.RunConfig, state cma.State) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		BestParams:  bestParams,
		BestCost:    bestCost,
		InitialCost: initialCost,
		Generation:  generation,
		Timestamp:   time.Now(),
		Config:      config,
		State:       state,
	}
}

// Snapshot exports the engine and pairs it with the progress in g. It must be
// called from the goroutine that drives the engine.
func Snapshot(jobID string, config opt.RunConfig, engine *cma.Engine, g opt.Generation) (*Checkpoint, error) {
	state, err := engine.ExportState()
	if err != nil {
		return nil, fmt.Errorf("failed to export engine state: %w", err)
	}
	return NewCheckpoint(jobID, g.BestParams, g.BestCost, g.InitialCost, g.Index, config, state), nil
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:      c.JobID,
		BestCost:   c.BestCost,
		Generation: c.Generation,
		Timestamp:  c.Timestamp,
		Objective:  c.Config.Objective,
		Dim:        c.Config.Dim,
		Sigma:      c.State.Sigma,
	}
}

// Validate checks if the checkpoint has valid data.
// The engine state itself is validated on import.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	if math.IsNaN(c.BestCost) {
		return &ValidationError{Field: "BestCost", Reason: "cannot be NaN"}
	}
	if math.IsNaN(c.InitialCost) {
		return &ValidationError{Field: "InitialCost", Reason: "cannot be NaN"}
	}
	if c.Generation < 0 {
		return &ValidationError{Field: "Generation", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Validate(); err != nil {
		return &ValidationError{Field: "Config", Reason: err.Error()}
	}
	if len(c.BestParams) != c.Config.Dim {
		return &ValidationError{
			Field:  "BestParams",
			Reason: fmt.Sprintf("length mismatch: expected %d params for dim %d", c.Config.Dim, c.Config.Dim),
		}
	}
	if len(c.State.Mean) == 0 {
		return &ValidationError{Field: "State.Mean", Reason: "cannot be empty"}
	}
	if c.State.EvalCount < 0 {
		return &ValidationError{Field: "State.EvalCount", Reason: "cannot be negative"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
func (c *Checkpoint) IsCompatible(config opt.RunConfig) error {
	if c.Config.Objective != config.Objective {
		return &CompatibilityError{
			Field:    "Objective",
			Expected: c.Config.Objective,
			Actual:   config.Objective,
		}
	}
	if c.Config.Dim != config.Dim {
		return &CompatibilityError{
			Field:    "Dim",
			Expected: fmt.Sprintf("%d", c.Config.Dim),
			Actual:   fmt.Sprintf("%d", config.Dim),
		}
	}
	if c.Config.CMA.Population != config.CMA.Population {
		return &CompatibilityError{
			Field:    "CMA.Population",
			Expected: fmt.Sprintf("%d", c.Config.CMA.Population),
			Actual:   fmt.Sprintf("%d", config.CMA.Population),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
