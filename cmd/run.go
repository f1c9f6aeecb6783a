package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/bench"
	"github.com/cwbudde/cmaes/internal/cma"
	"github.com/cwbudde/cmaes/internal/opt"
	"github.com/cwbudde/cmaes/internal/store"
)

var (
	optimizerName      string
	objectiveName      string
	dim                int
	generations        int
	popSize            int
	stepSize           float64
	seed               int64
	tolX               float64
	patience           int
	checkpointInterval int
	runJobID           string
	traceEnabled       bool
	traceParams        bool
	outPath            string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single optimization",
	Long: `Runs CMA-ES (or the Mayfly baseline) on a benchmark objective.
With --checkpoint-interval the run can later be continued with "cmaes resume".
Interrupting a CMA-ES run saves a final checkpoint before exiting.`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&optimizerName, "optimizer", "cma", "Optimizer: cma, mayfly")
	runCmd.Flags().StringVar(&objectiveName, "objective", "rosenbrock", "Objective: "+fmt.Sprint(bench.Names()))
	runCmd.Flags().IntVar(&dim, "dim", 10, "Problem dimension")
	runCmd.Flags().IntVar(&generations, "generations", 1000, "Generation budget")
	runCmd.Flags().IntVar(&popSize, "pop", 0, "Population size (0 = derive from dimension)")
	runCmd.Flags().Float64Var(&stepSize, "step-size", 0.5, "Initial step size")
	runCmd.Flags().Int64Var(&seed, "seed", 1, "Random seed")
	runCmd.Flags().Float64Var(&tolX, "tolx", 1e-12, "Stop when the search distribution is narrower than this (0 = off)")
	runCmd.Flags().IntVar(&patience, "patience", 0, "Stop after N generations without improvement (0 = disable stall detection)")
	runCmd.Flags().IntVar(&checkpointInterval, "checkpoint-interval", 0, "Save a checkpoint every N generations (0 = off)")
	runCmd.Flags().StringVar(&runJobID, "job-id", "", "Job ID for checkpoints and traces (default: random UUID)")
	runCmd.Flags().BoolVar(&traceEnabled, "trace", false, "Write a per-generation JSONL trace")
	runCmd.Flags().BoolVar(&traceParams, "trace-params", false, "Include the best point in every trace entry")
	runCmd.Flags().StringVar(&outPath, "out", "", "Write the result as JSON to this file")

	rootCmd.AddCommand(runCmd)
}

// runConfigFromFlags applies the flags that were set explicitly on top of the
// loaded configuration.
func runConfigFromFlags(cmd *cobra.Command) opt.RunConfig {
	cfg := appConfig.Run
	flags := cmd.Flags()

	if flags.Changed("objective") {
		cfg.Objective = objectiveName
	}
	if flags.Changed("dim") {
		cfg.Dim = dim
		if len(cfg.InitialMean) != dim {
			cfg.InitialMean = nil
		}
	}
	if flags.Changed("generations") {
		cfg.Generations = generations
	}
	if flags.Changed("pop") {
		cfg.CMA.Population = popSize
	}
	if flags.Changed("step-size") {
		cfg.CMA.StepSize = stepSize
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("tolx") {
		cfg.TolX = tolX
	}
	if flags.Changed("patience") {
		cfg.Convergence.Enabled = patience > 0
		cfg.Convergence.Patience = patience
	}
	if flags.Changed("checkpoint-interval") {
		cfg.CheckpointInterval = checkpointInterval
	}
	return cfg
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg := runConfigFromFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid run configuration: %w", err)
	}

	switch optimizerName {
	case "cma":
	case "mayfly":
		return runMayfly(cfg)
	default:
		return fmt.Errorf("unknown optimizer: %s", optimizerName)
	}

	engine, objective, err := cfg.NewEngine()
	if err != nil {
		return err
	}

	jobID := runJobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := executeRun(ctx, jobID, cfg, engine, objective, cfg.Options(), false)
	if err != nil {
		return err
	}
	return reportResult(jobID, cfg, res)
}

// executeRun drives engine with optional tracing and checkpointing. opts
// carries the resume offsets; its OnGeneration is replaced.
func executeRun(ctx context.Context, jobID string, cfg opt.RunConfig, engine *cma.Engine, objective bench.Objective, opts opt.RunOptions, appendTrace bool) (*opt.Result, error) {
	var hooks []func(opt.Generation) error

	if traceEnabled {
		tw, err := store.NewTraceWriter(dataDir, jobID, appendTrace)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := tw.Close(); err != nil {
				slog.Error("Failed to close trace", "error", err)
			}
		}()
		hooks = append(hooks, tw.Hook(traceParams))
		slog.Info("Writing trace", "path", tw.Path())
	}

	var checkpointer *store.Checkpointer
	if cfg.CheckpointInterval > 0 {
		st, closeStore, err := openStore()
		if err != nil {
			return nil, err
		}
		defer closeStore()

		checkpointer = store.NewCheckpointer(st, jobID, cfg, engine, opts.StartGeneration)
		hooks = append(hooks, checkpointer.Hook)
	}

	opts.OnGeneration = func(g opt.Generation) error {
		for _, hook := range hooks {
			if err := hook(g); err != nil {
				return err
			}
		}
		return nil
	}

	start := time.Now()
	res, runErr := opt.RunCMA(ctx, engine, objective.Func, opts)

	if checkpointer != nil {
		checkpointer.Finish(res)
	}

	if res.Stop == opt.StopCancelled {
		slog.Warn("Run interrupted", "job_id", jobID, "generation", res.Generations)
		if checkpointer != nil && checkpointer.LastSaved() > 0 {
			fmt.Printf("Interrupted at generation %d; continue with: cmaes resume %s\n", res.Generations, jobID)
		}
		return res, nil
	}
	if runErr != nil {
		return res, runErr
	}

	elapsed := time.Since(start)
	slog.Info("Optimization complete",
		"job_id", jobID,
		"elapsed", elapsed,
		"stop", res.Stop,
		"initial_cost", res.InitialCost,
		"final_cost", res.BestCost,
		"evals_per_second", fmt.Sprintf("%.0f", float64(res.Evaluations)/elapsed.Seconds()),
	)
	return res, nil
}

// reportResult prints the summary line and writes --out.
func reportResult(jobID string, cfg opt.RunConfig, res *opt.Result) error {
	fmt.Printf("%s %s/%d: cost %.6g -> %.6g after %d generations (%d evaluations, stop: %s)\n",
		jobID, cfg.Objective, cfg.Dim, res.InitialCost, res.BestCost, res.Generations, res.Evaluations, res.Stop)

	if outPath == "" {
		return nil
	}
	out := struct {
		JobID  string        `json:"jobId"`
		Config opt.RunConfig `json:"config"`
		*opt.Result
	}{jobID, cfg, res}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	fmt.Printf("Wrote %s\n", outPath)
	return nil
}

// runMayfly runs the Mayfly baseline on the same objective and box.
func runMayfly(cfg opt.RunConfig) error {
	if cfg.CheckpointInterval > 0 || traceEnabled {
		return errors.New("checkpoints and traces are only supported by the cma optimizer")
	}

	objective, err := bench.Lookup(cfg.Objective)
	if err != nil {
		return err
	}
	lower, upper := objective.Bounds(cfg.Dim)

	pop := cfg.CMA.Population
	if pop == 0 {
		pop = 30
	}

	start := time.Now()
	params, cost := opt.NewMayfly(cfg.Generations, pop, cfg.Seed).Run(objective.Func, lower, upper, cfg.Dim)
	elapsed := time.Since(start)

	slog.Info("Mayfly optimization complete", "elapsed", elapsed, "final_cost", cost)
	fmt.Printf("mayfly %s/%d: best cost %.6g in %s\n", cfg.Objective, cfg.Dim, cost, elapsed.Round(time.Millisecond))

	if outPath != "" {
		data, err := json.MarshalIndent(map[string]interface{}{
			"optimizer":  "mayfly",
			"config":     cfg,
			"bestParams": params,
			"bestCost":   cost,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	return nil
}
