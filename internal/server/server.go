package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/cmaes/internal/opt"
	"github.com/cwbudde/cmaes/internal/store"
)

// Server is the HTTP job server
type Server struct {
	jobManager      *JobManager
	checkpointStore store.Store
	maxJobs         int
	defaults        opt.RunConfig

	addr   string
	server *http.Server

	// baseCtx parents every job context; workers are tracked for shutdown
	baseCtx    context.Context
	cancelBase context.CancelFunc
	workers    sync.WaitGroup
}

// Options configures a Server.
type Options struct {
	// Store persists checkpoints; nil disables checkpointing and resume
	Store store.Store

	// MaxConcurrentJobs limits pending+running jobs (0 = unlimited)
	MaxConcurrentJobs int

	// Defaults fills fields missing from job submissions
	Defaults opt.RunConfig
}

// NewServer creates a new HTTP server
func NewServer(addr string, o Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if o.Defaults.Objective == "" {
		o.Defaults = opt.DefaultRunConfig()
	}
	s := &Server{
		jobManager:      NewJobManager(),
		checkpointStore: o.Store,
		maxJobs:         o.MaxConcurrentJobs,
		defaults:        o.Defaults,
		addr:            addr,
		baseCtx:         ctx,
		cancelBase:      cancel,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown cancels running jobs, waits for their workers (and final
// checkpoints) and then stops the HTTP server. Open progress streams end
// with the jobs' terminal events.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")

	s.cancelBase()
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Timed out waiting for jobs to stop")
	}

	return s.server.Shutdown(ctx)
}

// startJob launches the worker for a registered job.
func (s *Server) startJob(jobID string, resume *store.Checkpoint) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.jobManager.setCancel(jobID, cancel)

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer cancel()
		if err := runJob(ctx, s.jobManager, s.checkpointStore, jobID, resume); err != nil {
			slog.Debug("Job worker returned", "job_id", jobID, "error", err)
		}
	}()
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	switch {
	case sub == "" || sub == "status":
		s.handleGetJobStatus(w, r, jobID)
	case sub == "stream":
		s.handleJobStream(w, r, jobID)
	case sub == "cancel" && r.Method == http.MethodPost:
		s.handleCancelJob(w, r, jobID)
	case sub == "resume" && r.Method == http.MethodPost:
		s.handleResumeJob(w, r, jobID)
	case sub == "checkpoint":
		s.handleGetCheckpoint(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs. Omitted fields take the
// server defaults.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	config := s.defaults
	config.InitialMean = nil

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := config.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job, err := s.jobManager.tryCreateJob(uuid.New().String(), config, s.maxJobs)
	if err != nil {
		writeCreateError(w, err)
		return
	}
	s.startJob(job.ID, nil)

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	elapsed := job.elapsed()
	evalsPerSec := float64(0)
	if elapsed.Seconds() > 0 {
		evalsPerSec = float64(job.Evaluations) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":          job.ID,
		"state":       job.State,
		"config":      job.Config,
		"bestCost":    job.BestCost,
		"bestParams":  job.BestParams,
		"initialCost": job.InitialCost,
		"generation":  job.Generation,
		"evaluations": job.Evaluations,
		"sigma":       job.Sigma,
		"condition":   job.Condition,
		"stop":        job.Stop,
		"resumedFrom": job.ResumedFrom,
		"elapsed":     elapsed.Seconds(),
		"evalsPerSec": evalsPerSec,
		"startTime":   job.StartTime,
		"endTime":     job.EndTime,
		"error":       job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err := s.jobManager.CancelJob(jobID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleResumeJob handles POST /api/v1/jobs/:id/resume. The checkpoint's job
// ID is reused so further checkpoints overwrite the same record.
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if s.checkpointStore == nil {
		http.Error(w, "Checkpointing is disabled", http.StatusServiceUnavailable)
		return
	}
	if job, exists := s.jobManager.GetJob(jobID); exists && !job.State.Terminal() {
		http.Error(w, "Job is still active", http.StatusConflict)
		return
	}

	checkpoint, err := s.checkpointStore.LoadCheckpoint(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := checkpoint.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	config := checkpoint.Config
	var overrides struct {
		Generations int `json:"generations"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
			http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
	}
	if overrides.Generations > 0 {
		config.Generations = overrides.Generations
	}
	if config.Generations <= checkpoint.Generation {
		http.Error(w, fmt.Sprintf("Generation budget %d already reached", config.Generations), http.StatusConflict)
		return
	}

	// The active check above is advisory; this one holds the manager lock.
	job, err := s.jobManager.tryCreateJob(jobID, config, s.maxJobs)
	if err != nil {
		writeCreateError(w, err)
		return
	}
	s.startJob(job.ID, checkpoint)

	slog.Info("Resuming job from checkpoint", "job_id", jobID, "generation", checkpoint.Generation)
	writeJSON(w, http.StatusAccepted, job)
}

// writeCreateError maps a rejected job registration to its status code.
func writeCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errTooManyJobs):
		http.Error(w, "Too many active jobs", http.StatusTooManyRequests)
	case errors.Is(err, errJobActive):
		http.Error(w, "Job is still active", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleGetCheckpoint handles GET /api/v1/jobs/:id/checkpoint (metadata only)
func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request, jobID string) {
	if s.checkpointStore == nil {
		http.Error(w, "Checkpointing is disabled", http.StatusServiceUnavailable)
		return
	}
	checkpoint, err := s.checkpointStore.LoadCheckpoint(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, checkpoint.ToInfo())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
