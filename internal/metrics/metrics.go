package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyscope_runs_started_total",
			Help: "Total number of research runs started",
		},
		[]string{"mode"},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyscope_runs_finished_total",
			Help: "Total number of research runs finished, by terminal state",
		},
		[]string{"mode", "state"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policyscope_stage_duration_seconds",
			Help:    "Research stage duration in seconds, including the backend call",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300},
		},
		[]string{"stage", "outcome"},
	)

	SchemaFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyscope_schema_failures_total",
			Help: "Backend responses rejected by a stage contract",
		},
		[]string{"stage"},
	)

	BackendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyscope_backend_failures_total",
			Help: "Backend calls that returned no response",
		},
		[]string{"stage", "timeout"},
	)

	ArtifactExtractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyscope_artifact_extractions_total",
			Help: "Artifact extractions by the tier that produced the document",
		},
		[]string{"source"},
	)

	BudgetRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policyscope_budget_rejections_total",
			Help: "Requests refused because the daily call budget was exhausted",
		},
		[]string{"call_type"},
	)
)
