package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/cmaes/internal/opt"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job can no longer change.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job is one CMA-ES run managed by the server.
type Job struct {
	ID     string        `json:"id"`
	State  JobState      `json:"state"`
	Config opt.RunConfig `json:"config"`

	BestParams  []float64 `json:"bestParams,omitempty"`
	BestCost    float64   `json:"bestCost"`
	InitialCost float64   `json:"initialCost"`
	Generation  int       `json:"generation"`
	Evaluations int       `json:"evaluations"`
	Sigma       float64   `json:"sigma"`
	Condition   float64   `json:"condition"`

	Stop        opt.StopReason `json:"stop,omitempty"`
	ResumedFrom int            `json:"resumedFrom,omitempty"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`

	cancel context.CancelFunc
}

// clone returns a copy that is safe to read without the manager lock.
func (j *Job) clone() *Job {
	c := *j
	c.BestParams = append([]float64(nil), j.BestParams...)
	if j.EndTime != nil {
		t := *j.EndTime
		c.EndTime = &t
	}
	c.cancel = nil
	return &c
}

func (j *Job) elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// JobManager manages the lifecycle of jobs. Getters return snapshots;
// mutation goes through UpdateJob.
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

var (
	// errTooManyJobs is returned when the active job limit is reached.
	errTooManyJobs = errors.New("too many active jobs")

	// errJobActive is returned when a job ID is reused while it still runs.
	errJobActive = errors.New("job is still active")
)

// CreateJob registers a pending job with the given configuration
func (jm *JobManager) CreateJob(config opt.RunConfig) *Job {
	job, _ := jm.tryCreateJob(uuid.New().String(), config, 0)
	return job
}

// tryCreateJob registers a pending job under id. A terminal job with the same
// ID is replaced. With maxActive > 0 the limit is checked under the same lock
// as the insert.
func (jm *JobManager) tryCreateJob(id string, config opt.RunConfig, maxActive int) (*Job, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if existing, ok := jm.jobs[id]; ok && !existing.State.Terminal() {
		return nil, errJobActive
	}
	if maxActive > 0 && jm.activeCountLocked() >= maxActive {
		return nil, errTooManyJobs
	}

	job := &Job{
		ID:        id,
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	jobsCreated.Inc()
	return job.clone(), nil
}

// GetJob retrieves a snapshot of a job by ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.clone(), true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.clone())
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartTime.Before(jobs[k].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// ActiveCount returns the number of pending or running jobs
func (jm *JobManager) ActiveCount() int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.activeCountLocked()
}

func (jm *JobManager) activeCountLocked() int {
	n := 0
	for _, job := range jm.jobs {
		if !job.State.Terminal() {
			n++
		}
	}
	return n
}

// CancelJob requests cancellation of a pending or running job.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.State.Terminal() {
		return fmt.Errorf("job %s already %s", id, job.State)
	}
	if job.cancel != nil {
		job.cancel()
	}
	return nil
}

func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.UpdateJob(id, func(j *Job) { j.cancel = cancel })
}
