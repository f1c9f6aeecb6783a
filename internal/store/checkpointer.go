package store

import (
	"fmt"
	"log/slog"

	"github.com/cwbudde/cmaes/internal/cma"
	"github.com/cwbudde/cmaes/internal/opt"
)

// Save snapshots engine and writes the checkpoint to st.
func Save(st Store, jobID string, config opt.RunConfig, engine *cma.Engine, g opt.Generation) (*Checkpoint, error) {
	checkpoint, err := Snapshot(jobID, config, engine, g)
	if err != nil {
		return nil, err
	}
	if err := st.SaveCheckpoint(jobID, checkpoint); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return checkpoint, nil
}

// Checkpointer saves a job every Config.CheckpointInterval generations and
// once more when the run ends. A failed save is logged and the run goes on;
// the previous checkpoint stays valid for resuming.
type Checkpointer struct {
	store  Store
	jobID  string
	config opt.RunConfig
	engine *cma.Engine

	// OnSave, if set, observes every save attempt.
	OnSave func(g opt.Generation, err error)

	lastSaved int
}

// NewCheckpointer returns a Checkpointer for a run that starts at
// startGeneration (non-zero when resuming).
func NewCheckpointer(st Store, jobID string, config opt.RunConfig, engine *cma.Engine, startGeneration int) *Checkpointer {
	return &Checkpointer{
		store:     st,
		jobID:     jobID,
		config:    config,
		engine:    engine,
		lastSaved: startGeneration,
	}
}

// Hook is an opt.RunOptions.OnGeneration callback. It must run on the loop
// goroutine. It never fails the run.
func (c *Checkpointer) Hook(g opt.Generation) error {
	if c.config.CheckpointInterval <= 0 || g.Index%c.config.CheckpointInterval != 0 {
		return nil
	}
	c.save(g)
	return nil
}

// Finish writes the final checkpoint unless the run failed or the last
// generation is already saved.
func (c *Checkpointer) Finish(res *opt.Result) {
	if res == nil || res.Stop == opt.StopFailed || res.Generations <= c.lastSaved {
		return
	}
	c.save(opt.Generation{
		Index:       res.Generations,
		BestCost:    res.BestCost,
		BestParams:  res.BestParams,
		InitialCost: res.InitialCost,
	})
}

// LastSaved returns the generation of the newest successful save.
func (c *Checkpointer) LastSaved() int { return c.lastSaved }

func (c *Checkpointer) save(g opt.Generation) {
	checkpoint, err := Save(c.store, c.jobID, c.config, c.engine, g)
	if c.OnSave != nil {
		c.OnSave(g, err)
	}
	if err != nil {
		slog.Error("Failed to save checkpoint", "job_id", c.jobID, "generation", g.Index, "error", err)
		return
	}
	c.lastSaved = g.Index
	slog.Info("Checkpoint saved",
		"job_id", c.jobID,
		"generation", g.Index,
		"best_cost", g.BestCost,
		"sigma", checkpoint.State.Sigma,
	)
}
