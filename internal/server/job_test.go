package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/cmaes/internal/opt"
)

func testRunConfig() opt.RunConfig {
	cfg := opt.DefaultRunConfig()
	cfg.Objective = "rosenbrock"
	cfg.Dim = 3
	cfg.Generations = 20
	cfg.Seed = 42
	cfg.Convergence.Enabled = false
	return cfg
}

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	config := testRunConfig()
	config.Objective = "rastrigin"

	job := jm.CreateJob(config)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}

	if job.Config.Objective != "rastrigin" {
		t.Errorf("Config not set correctly")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(testRunConfig())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Error("Job should exist")
	}

	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_GetJobReturnsSnapshot(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testRunConfig())

	jm.UpdateJob(job.ID, func(j *Job) { j.BestParams = []float64{1, 2, 3} })

	snap, _ := jm.GetJob(job.ID)
	snap.BestParams[0] = 99
	snap.State = StateFailed

	again, _ := jm.GetJob(job.ID)
	if again.BestParams[0] != 1 {
		t.Error("Mutating a snapshot should not affect the stored job")
	}
	if again.State != StatePending {
		t.Errorf("State should be unchanged, got %s", again.State)
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(testRunConfig())
	time.Sleep(time.Millisecond)
	second := jm.CreateJob(testRunConfig())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(testRunConfig())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Generation = 10
		j.BestCost = 123.45
	})

	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.Generation != 10 {
		t.Error("Generation should be updated")
	}
	if updated.BestCost != 123.45 {
		t.Error("BestCost should be updated")
	}

	err = jm.UpdateJob("nonexistent", func(j *Job) {})
	if err == nil {
		t.Error("Update of nonexistent job should fail")
	}
}

func TestJobManager_ActiveCount(t *testing.T) {
	jm := NewJobManager()

	a := jm.CreateJob(testRunConfig())
	b := jm.CreateJob(testRunConfig())
	c := jm.CreateJob(testRunConfig())

	jm.UpdateJob(a.ID, func(j *Job) { j.State = StateRunning })
	jm.UpdateJob(b.ID, func(j *Job) { j.State = StateCompleted })

	if n := jm.ActiveCount(); n != 2 {
		t.Errorf("Expected 2 active jobs, got %d", n)
	}

	jm.UpdateJob(c.ID, func(j *Job) { j.State = StateCancelled })
	if n := jm.ActiveCount(); n != 1 {
		t.Errorf("Expected 1 active job, got %d", n)
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testRunConfig())

	ctx, cancel := context.WithCancel(context.Background())
	jm.setCancel(job.ID, cancel)

	if err := jm.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob should succeed: %v", err)
	}
	if ctx.Err() == nil {
		t.Error("Job context should be cancelled")
	}

	jm.UpdateJob(job.ID, func(j *Job) { j.State = StateCancelled })
	if err := jm.CancelJob(job.ID); err == nil {
		t.Error("Cancelling a terminal job should fail")
	}
	if err := jm.CancelJob("nonexistent"); err == nil {
		t.Error("Cancelling a nonexistent job should fail")
	}
}

func TestJobManager_TryCreateJob(t *testing.T) {
	jm := NewJobManager()

	first, err := jm.tryCreateJob("job-1", testRunConfig(), 1)
	if err != nil {
		t.Fatalf("First job should be accepted: %v", err)
	}

	if _, err := jm.tryCreateJob("job-1", testRunConfig(), 0); !errors.Is(err, errJobActive) {
		t.Errorf("Expected errJobActive for an active ID, got %v", err)
	}
	if _, err := jm.tryCreateJob("job-2", testRunConfig(), 1); !errors.Is(err, errTooManyJobs) {
		t.Errorf("Expected errTooManyJobs at the limit, got %v", err)
	}

	// A finished job frees its slot and its ID can be reused
	jm.UpdateJob(first.ID, func(j *Job) { j.State = StateCompleted })
	again, err := jm.tryCreateJob("job-1", testRunConfig(), 1)
	if err != nil {
		t.Fatalf("Reusing a terminal job ID should succeed: %v", err)
	}
	if again.State != StatePending {
		t.Errorf("Expected pending state, got %s", again.State)
	}
}

func TestJobManager_TryCreateJob_Concurrent(t *testing.T) {
	jm := NewJobManager()

	const attempts = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := jm.tryCreateJob("same-id", testRunConfig(), 0); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Errorf("Expected exactly one registration, got %d", accepted)
	}
	if n := jm.ActiveCount(); n != 1 {
		t.Errorf("Expected 1 active job, got %d", n)
	}
}

func TestJobState_Terminal(t *testing.T) {
	tests := []struct {
		state    JobState
		terminal bool
	}{
		{StatePending, false},
		{StateRunning, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateCancelled, true},
	}

	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(testRunConfig())

	// Simulate concurrent updates and reads
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(generation int) {
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Generation = generation
				j.BestParams = []float64{float64(generation)}
				time.Sleep(1 * time.Millisecond)
			})
			jm.GetJob(job.ID)
			done <- true
		}(i)
	}

	// Wait for all updates
	for i := 0; i < 10; i++ {
		<-done
	}

	// Should not crash - actual value depends on race
	_, exists := jm.GetJob(job.ID)
	if !exists {
		t.Error("Job should still exist after concurrent updates")
	}
}
