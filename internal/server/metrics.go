package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsCreated counts submitted and resumed jobs.
	jobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cmaes",
		Subsystem: "jobs",
		Name:      "created_total",
		Help:      "Total jobs created",
	})

	// jobsFinished counts jobs by terminal state (completed, failed, cancelled).
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cmaes",
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Total jobs that reached a terminal state",
	}, []string{"state"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cmaes",
		Subsystem: "jobs",
		Name:      "running",
		Help:      "Jobs currently running",
	})

	generationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cmaes",
		Subsystem: "engine",
		Name:      "generations_total",
		Help:      "Total completed generations across all jobs",
	})

	evaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cmaes",
		Subsystem: "engine",
		Name:      "evaluations_total",
		Help:      "Total objective evaluations across all jobs",
	})

	// generationDuration measures sample+evaluate+update wall time.
	// Labels: objective
	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cmaes",
		Subsystem: "engine",
		Name:      "generation_duration_seconds",
		Help:      "Wall time of one generation",
		Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
	}, []string{"objective"})

	// checkpointsSaved counts checkpoint attempts.
	// Labels: result (success, error)
	checkpointsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cmaes",
		Subsystem: "store",
		Name:      "checkpoints_total",
		Help:      "Checkpoint save attempts by result",
	}, []string{"result"})
)
