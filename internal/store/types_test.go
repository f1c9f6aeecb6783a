package store

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cwbudde/cmaes/internal/opt"
)

func TestCheckpoint_JSONRoundTrip(t *testing.T) {
	original := createTestCheckpoint(t, "test-job-123")
	original.Timestamp = time.Date(2025, 10, 23, 10, 30, 0, 0, time.UTC)

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal checkpoint: %v", err)
	}

	var restored Checkpoint
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Failed to unmarshal checkpoint: %v", err)
	}

	if restored.JobID != original.JobID {
		t.Errorf("JobID mismatch: expected %s, got %s", original.JobID, restored.JobID)
	}
	if restored.Generation != original.Generation {
		t.Errorf("Generation mismatch: expected %d, got %d", original.Generation, restored.Generation)
	}
	if !restored.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp mismatch: expected %v, got %v", original.Timestamp, restored.Timestamp)
	}
	if restored.Config.CMA != original.Config.CMA {
		t.Errorf("CMA config mismatch: expected %+v, got %+v", original.Config.CMA, restored.Config.CMA)
	}
	if restored.State.EvalCount != original.State.EvalCount {
		t.Errorf("State.EvalCount mismatch: expected %d, got %d", original.State.EvalCount, restored.State.EvalCount)
	}
	if string(restored.State.Basis) != string(original.State.Basis) {
		t.Error("State.Basis payload changed across JSON round trip")
	}
	if err := restored.Validate(); err != nil {
		t.Errorf("Restored checkpoint is invalid: %v", err)
	}
}

func TestCheckpoint_Validate(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		mutate func(*Checkpoint)
	}{
		{"empty job id", "JobID", func(c *Checkpoint) { c.JobID = "" }},
		{"no params", "BestParams", func(c *Checkpoint) { c.BestParams = nil }},
		{"params length", "BestParams", func(c *Checkpoint) { c.BestParams = []float64{1, 2} }},
		{"nan cost", "BestCost", func(c *Checkpoint) { c.BestCost = math.NaN() }},
		{"nan initial cost", "InitialCost", func(c *Checkpoint) { c.InitialCost = math.NaN() }},
		{"negative generation", "Generation", func(c *Checkpoint) { c.Generation = -1 }},
		{"zero timestamp", "Timestamp", func(c *Checkpoint) { c.Timestamp = time.Time{} }},
		{"unknown objective", "Config", func(c *Checkpoint) { c.Config.Objective = "teapot" }},
		{"bad cma config", "Config", func(c *Checkpoint) { c.Config.CMA.RecombinationFrac = 2 }},
		{"missing state", "State.Mean", func(c *Checkpoint) { c.State.Mean = nil }},
	}

	if err := createTestCheckpoint(t, "valid").Validate(); err != nil {
		t.Fatalf("Valid checkpoint should not have validation error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkpoint := createTestCheckpoint(t, "job")
			tt.mutate(checkpoint)

			err := checkpoint.Validate()
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Expected ValidationError, got %T: %v", err, err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, vErr.Field)
			}
		})
	}
}

func TestCheckpoint_IsCompatible(t *testing.T) {
	checkpoint := createTestCheckpoint(t, "job")

	if err := checkpoint.IsCompatible(checkpoint.Config); err != nil {
		t.Errorf("Checkpoint should be compatible with its own config: %v", err)
	}

	other := checkpoint.Config
	other.Generations = 5000
	other.Seed = 99
	if err := checkpoint.IsCompatible(other); err != nil {
		t.Errorf("Budget and seed changes should stay compatible: %v", err)
	}

	tests := []struct {
		field  string
		mutate func()
	}{
		{"Objective", func() { other.Objective = "rastrigin" }},
		{"Dim", func() { other.Dim = 7 }},
		{"CMA.Population", func() { other.CMA.Population = 50 }},
	}
	for _, tt := range tests {
		other = checkpoint.Config
		tt.mutate()

		err := checkpoint.IsCompatible(other)
		var cErr *CompatibilityError
		if !errors.As(err, &cErr) {
			t.Fatalf("%s: expected CompatibilityError, got %v", tt.field, err)
		}
		if cErr.Field != tt.field {
			t.Errorf("Expected field %s, got %s", tt.field, cErr.Field)
		}
	}
}

func TestCheckpoint_ToInfo(t *testing.T) {
	checkpoint := createTestCheckpoint(t, "info-job")
	info := checkpoint.ToInfo()

	if info.JobID != "info-job" {
		t.Errorf("JobID mismatch: got %s", info.JobID)
	}
	if info.Generation != checkpoint.Generation {
		t.Errorf("Generation mismatch: expected %d, got %d", checkpoint.Generation, info.Generation)
	}
	if info.Objective != checkpoint.Config.Objective || info.Dim != checkpoint.Config.Dim {
		t.Errorf("Config metadata mismatch: %+v", info)
	}
	if info.Sigma != checkpoint.State.Sigma {
		t.Errorf("Sigma mismatch: expected %g, got %g", checkpoint.State.Sigma, info.Sigma)
	}
}

func TestNotFoundError(t *testing.T) {
	err := error(&NotFoundError{JobID: "abc"})

	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}
	if err.Error() != "checkpoint not found: abc" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if ErrNotFound.Error() != "checkpoint not found" {
		t.Errorf("Unexpected sentinel message: %s", ErrNotFound.Error())
	}
}

func TestSnapshot(t *testing.T) {
	cfg := opt.DefaultRunConfig()
	cfg.Dim = 4
	engine, objective, err := cfg.NewEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	var last opt.Generation
	opts := cfg.Options()
	opts.MaxGenerations = 3
	opts.OnGeneration = func(g opt.Generation) error {
		last = g
		return nil
	}
	if _, err := opt.RunCMA(t.Context(), engine, objective.Func, opts); err != nil {
		t.Fatalf("RunCMA failed: %v", err)
	}

	checkpoint, err := Snapshot("snap", cfg, engine, last)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if err := checkpoint.Validate(); err != nil {
		t.Fatalf("Snapshot produced invalid checkpoint: %v", err)
	}
	if checkpoint.Generation != 3 {
		t.Errorf("Expected generation 3, got %d", checkpoint.Generation)
	}
	if checkpoint.State.EvalCount != engine.EvalCount() {
		t.Errorf("Expected eval count %d, got %d", engine.EvalCount(), checkpoint.State.EvalCount)
	}
	if checkpoint.State.Sigma != engine.Sigma() {
		t.Errorf("Expected sigma %g, got %g", engine.Sigma(), checkpoint.State.Sigma)
	}
	if checkpoint.BestCost != last.BestCost || checkpoint.InitialCost != last.InitialCost {
		t.Errorf("Progress mismatch: %+v vs %+v", checkpoint, last)
	}
}
