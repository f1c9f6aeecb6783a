package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/store"
)

var (
	resumeGenerations int
	resumeObjective   string
	resumeDim         int
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a run from its checkpoint",
	Long: `Loads the checkpoint of a job, restores the CMA-ES engine state and
continues the run until the generation budget is reached. Traces are appended
to the existing file when --trace is set.

--objective and --dim are optional guards: when given they must match the
checkpointed run.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().IntVar(&resumeGenerations, "generations", 0, "New absolute generation budget (0 = keep the checkpointed budget)")
	resumeCmd.Flags().StringVar(&resumeObjective, "objective", "", "Expected objective")
	resumeCmd.Flags().IntVar(&resumeDim, "dim", 0, "Expected dimension")
	resumeCmd.Flags().BoolVar(&traceEnabled, "trace", false, "Append per-generation entries to the job trace")
	resumeCmd.Flags().BoolVar(&traceParams, "trace-params", false, "Include the best point in every trace entry")
	resumeCmd.Flags().StringVar(&outPath, "out", "", "Write the result as JSON to this file")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	checkpointStore, closeStore, err := openStore()
	if err != nil {
		return err
	}
	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	closeStore()
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no checkpoint for job %s in %s", jobID, dataDir)
	} else if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint for job %s is invalid: %w", jobID, err)
	}

	cfg := checkpoint.Config
	requested := cfg
	if resumeObjective != "" {
		requested.Objective = resumeObjective
	}
	if resumeDim > 0 {
		requested.Dim = resumeDim
	}
	if err := checkpoint.IsCompatible(requested); err != nil {
		return err
	}

	if resumeGenerations > 0 {
		cfg.Generations = resumeGenerations
	}
	if cfg.Generations <= checkpoint.Generation {
		return fmt.Errorf("checkpoint is at generation %d, budget %d already reached (raise it with --generations)",
			checkpoint.Generation, cfg.Generations)
	}

	engine, objective, err := cfg.RestoreEngine(checkpoint.State, checkpoint.Generation)
	if err != nil {
		return fmt.Errorf("failed to restore engine: %w", err)
	}

	opts := cfg.Options()
	opts.StartGeneration = checkpoint.Generation
	opts.BestParams = checkpoint.BestParams
	opts.BestCost = checkpoint.BestCost
	opts.InitialCost = checkpoint.InitialCost

	slog.Info("Resuming from checkpoint",
		"job_id", jobID,
		"generation", checkpoint.Generation,
		"best_cost", checkpoint.BestCost,
		"sigma", checkpoint.State.Sigma,
		"target_generations", cfg.Generations,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := executeRun(ctx, jobID, cfg, engine, objective, opts, true)
	if err != nil {
		return err
	}
	return reportResult(jobID, cfg, res)
}
