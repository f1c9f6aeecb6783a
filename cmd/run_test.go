package main

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/opt"
	"github.com/cwbudde/cmaes/internal/store"
)

func testRun(t *testing.T, jobID string, generations, interval int) opt.RunConfig {
	t.Helper()

	cfg := opt.DefaultRunConfig()
	cfg.Dim = 3
	cfg.Generations = generations
	cfg.CheckpointInterval = interval
	cfg.Convergence.Enabled = false

	engine, objective, err := cfg.NewEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	res, err := executeRun(t.Context(), jobID, cfg, engine, objective, cfg.Options(), false)
	if err != nil {
		t.Fatalf("executeRun failed: %v", err)
	}
	if res.Generations != generations {
		t.Fatalf("Expected %d generations, got %d", generations, res.Generations)
	}
	return cfg
}

func resumeCommand(t *testing.T) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())
	return cmd
}

func setResumeFlags(t *testing.T, gens int, objective string, dim int) {
	resumeGenerations, resumeObjective, resumeDim = gens, objective, dim
	t.Cleanup(func() { resumeGenerations, resumeObjective, resumeDim = 0, "", 0 })
}

func TestExecuteRun_CheckpointsAndTrace(t *testing.T) {
	tmpDir := t.TempDir()
	useDataDir(t, tmpDir, "fs")
	traceEnabled = true
	defer func() { traceEnabled = false }()

	testRun(t, "job-a", 10, 4)

	st, _ := store.NewFSStore(tmpDir)
	checkpoint, err := st.LoadCheckpoint("job-a")
	if err != nil {
		t.Fatalf("Expected checkpoint: %v", err)
	}
	// Periodic saves at 4 and 8 plus the final one
	if checkpoint.Generation != 10 {
		t.Errorf("Expected checkpoint at generation 10, got %d", checkpoint.Generation)
	}

	tr, err := store.NewTraceReader(tmpDir, "job-a")
	if err != nil {
		t.Fatalf("Failed to open trace: %v", err)
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	if len(entries) != 10 {
		t.Errorf("Expected 10 trace entries, got %d", len(entries))
	}
}

func TestRunResume_ContinuesRun(t *testing.T) {
	tmpDir := t.TempDir()
	useDataDir(t, tmpDir, "fs")
	traceEnabled = true
	defer func() { traceEnabled = false }()

	testRun(t, "job-b", 10, 5)

	st, _ := store.NewFSStore(tmpDir)
	before, err := st.LoadCheckpoint("job-b")
	if err != nil {
		t.Fatalf("Expected checkpoint: %v", err)
	}

	setResumeFlags(t, 25, "", 0)
	if err := runResume(resumeCommand(t), []string{"job-b"}); err != nil {
		t.Fatalf("runResume failed: %v", err)
	}

	after, err := st.LoadCheckpoint("job-b")
	if err != nil {
		t.Fatalf("Expected checkpoint: %v", err)
	}
	if after.Generation != 25 {
		t.Errorf("Expected checkpoint at generation 25, got %d", after.Generation)
	}
	if after.BestCost > before.BestCost {
		t.Errorf("Best cost regressed: %v > %v", after.BestCost, before.BestCost)
	}
	if after.InitialCost != before.InitialCost {
		t.Errorf("InitialCost changed on resume: %v != %v", after.InitialCost, before.InitialCost)
	}
	if after.State.EvalCount <= before.State.EvalCount {
		t.Errorf("Evaluation count should continue: %d <= %d", after.State.EvalCount, before.State.EvalCount)
	}

	// The trace continues where the first run stopped
	tr, err := store.NewTraceReader(tmpDir, "job-b")
	if err != nil {
		t.Fatalf("Failed to open trace: %v", err)
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	if len(entries) != 25 {
		t.Fatalf("Expected 25 trace entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Generation != i+1 {
			t.Errorf("Entry %d has generation %d", i, e.Generation)
		}
	}
}

func TestRunResume_Errors(t *testing.T) {
	tmpDir := t.TempDir()
	useDataDir(t, tmpDir, "fs")
	testRun(t, "job-c", 6, 3)

	t.Run("missing checkpoint", func(t *testing.T) {
		setResumeFlags(t, 0, "", 0)
		if err := runResume(resumeCommand(t), []string{"nope"}); err == nil {
			t.Error("Expected error for missing checkpoint")
		}
	})

	t.Run("budget reached", func(t *testing.T) {
		setResumeFlags(t, 0, "", 0)
		if err := runResume(resumeCommand(t), []string{"job-c"}); err == nil {
			t.Error("Expected error when the budget is already reached")
		}
	})

	t.Run("objective mismatch", func(t *testing.T) {
		setResumeFlags(t, 20, "sphere", 0)
		err := runResume(resumeCommand(t), []string{"job-c"})
		var compat *store.CompatibilityError
		if !errors.As(err, &compat) || compat.Field != "Objective" {
			t.Errorf("Expected objective compatibility error, got %v", err)
		}
	})

	t.Run("dim mismatch", func(t *testing.T) {
		setResumeFlags(t, 20, "", 7)
		err := runResume(resumeCommand(t), []string{"job-c"})
		var compat *store.CompatibilityError
		if !errors.As(err, &compat) || compat.Field != "Dim" {
			t.Errorf("Expected dim compatibility error, got %v", err)
		}
	})
}

func TestRunMayfly_RejectsCheckpoints(t *testing.T) {
	cfg := opt.DefaultRunConfig()
	cfg.CheckpointInterval = 5
	if err := runMayfly(cfg); err == nil {
		t.Error("Expected mayfly to reject checkpointing")
	}
}
