package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_workflow_runs_started_total",
			Help: "Total number of workflow runs started",
		},
		[]string{"workflow"},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_workflow_runs_finished_total",
			Help: "Total number of workflow runs that reached a terminal status",
		},
		[]string{"workflow", "status"},
	)

	StepExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_workflow_step_executions_total",
			Help: "Total number of step executions by outcome",
		},
		[]string{"step", "status"},
	)

	Suspensions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_workflow_suspensions_total",
			Help: "Total number of run suspensions awaiting external input",
		},
		[]string{"step"},
	)

	// Research metrics
	QueriesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_queries_processed_total",
			Help: "Total number of search queries processed",
		},
	)

	LearningsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_learnings_extracted_total",
			Help: "Total number of learnings appended to research records",
		},
	)

	ResearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_run_duration_seconds",
			Help:    "Duration of one iterative research run in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// CollaboratorFailures counts failures converted into degraded results.
	CollaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_collaborator_failures_total",
			Help: "Total number of collaborator failures degraded at a component boundary",
		},
		[]string{"component"},
	)
)
