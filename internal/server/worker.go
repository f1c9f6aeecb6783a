package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/cmaes/internal/bench"
	"github.com/cwbudde/cmaes/internal/cma"
	"github.com/cwbudde/cmaes/internal/opt"
	"github.com/cwbudde/cmaes/internal/store"
)

// progressInterval throttles SSE progress events.
var progressInterval = 500 * time.Millisecond

// runJob executes a CMA-ES job in the background. When resume is non-nil the
// engine state is imported from it and the run continues from its generation.
// If checkpointStore is not nil and the job has CheckpointInterval > 0, a
// checkpoint is saved every CheckpointInterval generations and once more
// when the run ends.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string, resume *store.Checkpoint) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	select {
	case <-ctx.Done():
		finishJob(jm, jobID, StateCancelled, nil, nil)
		return ctx.Err()
	default:
	}

	cfg := job.Config
	opts := cfg.Options()

	var (
		engine    *cma.Engine
		objective bench.Objective
		err       error
	)
	if resume != nil {
		engine, objective, err = cfg.RestoreEngine(resume.State, resume.Generation)
		opts.StartGeneration = resume.Generation
		opts.BestParams = resume.BestParams
		opts.BestCost = resume.BestCost
		opts.InitialCost = resume.InitialCost
	} else {
		engine, objective, err = cfg.NewEngine()
	}
	if err != nil {
		finishJob(jm, jobID, StateFailed, err, nil)
		return err
	}

	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.Generation = opts.StartGeneration
		j.Evaluations = engine.EvalCount()
		j.Sigma = engine.Sigma()
		j.Condition = engine.CovarianceCondition()
		if resume != nil {
			j.ResumedFrom = resume.Generation
			j.BestParams = resume.BestParams
			j.BestCost = resume.BestCost
			j.InitialCost = resume.InitialCost
		}
	})
	jobsRunning.Inc()
	defer jobsRunning.Dec()

	slog.Info("Starting job",
		"job_id", jobID,
		"objective", cfg.Objective,
		"dim", cfg.Dim,
		"population", engine.Population(),
		"start_generation", opts.StartGeneration,
	)

	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, progressDone)
	defer close(progressDone)

	var checkpointer *store.Checkpointer
	if checkpointStore != nil && cfg.CheckpointInterval > 0 {
		checkpointer = store.NewCheckpointer(checkpointStore, jobID, cfg, engine, opts.StartGeneration)
		checkpointer.OnSave = func(g opt.Generation, err error) {
			if err != nil {
				checkpointsSaved.WithLabelValues("error").Inc()
				return
			}
			checkpointsSaved.WithLabelValues("success").Inc()
		}
	}
	lastTick := time.Now()

	opts.OnGeneration = func(g opt.Generation) error {
		now := time.Now()
		generationDuration.WithLabelValues(cfg.Objective).Observe(now.Sub(lastTick).Seconds())
		lastTick = now
		generationsTotal.Inc()
		evaluationsTotal.Add(float64(engine.Population()))

		jm.UpdateJob(jobID, func(j *Job) {
			j.Generation = g.Index
			j.Evaluations = g.Evaluations
			j.BestParams = g.BestParams
			j.BestCost = g.BestCost
			j.InitialCost = g.InitialCost
			j.Sigma = g.Sigma
			j.Condition = g.Condition
		})

		// The callback runs on the loop goroutine, so exporting here is safe.
		if checkpointer != nil {
			return checkpointer.Hook(g)
		}
		return nil
	}

	res, runErr := opt.RunCMA(ctx, engine, objective.Func, opts)

	if checkpointer != nil {
		checkpointer.Finish(res)
	}

	switch res.Stop {
	case opt.StopCancelled:
		finishJob(jm, jobID, StateCancelled, nil, res)
		return runErr
	case opt.StopFailed:
		finishJob(jm, jobID, StateFailed, runErr, res)
		return runErr
	}

	finishJob(jm, jobID, StateCompleted, nil, res)
	slog.Info("Job completed",
		"job_id", jobID,
		"stop", res.Stop,
		"generations", res.Generations,
		"evaluations", res.Evaluations,
		"initial_cost", res.InitialCost,
		"best_cost", res.BestCost,
	)
	return nil
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(progressEvent(job))
		}
	}
}

// finishJob moves a job to a terminal state and broadcasts the final event.
// res may be nil when the run never started.
func finishJob(jm *JobManager, jobID string, state JobState, err error, res *opt.Result) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = state
		j.EndTime = &endTime
		if err != nil {
			j.Error = err.Error()
		}
		if res != nil {
			j.Stop = res.Stop
			j.Generation = res.Generations
			j.Evaluations = res.Evaluations
			j.BestParams = res.BestParams
			j.BestCost = res.BestCost
			j.InitialCost = res.InitialCost
			j.Sigma = res.Sigma
		}
		j.cancel = nil
	})
	jobsFinished.WithLabelValues(string(state)).Inc()

	switch state {
	case StateFailed:
		slog.Error("Job failed", "job_id", jobID, "error", err)
	case StateCancelled:
		slog.Info("Job cancelled", "job_id", jobID)
	}

	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressEvent(job))
	}
}
