// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merlin_assessments_total",
		Help: "Total number of completed assessments, labelled by decision.",
	}, []string{"decision"})

	AssessmentsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merlin_assessments_rejected_total",
		Help: "Total number of transactions rejected as invalid before scoring.",
	})

	AssessmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "merlin_assessment_duration_ms",
		Help:    "End-to-end assessment latency in milliseconds.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
	})

	ComponentUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merlin_component_unavailable_total",
		Help: "Scoring components that produced no score, labelled by component and cause.",
	}, []string{"component", "cause"})

	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merlin_config_reloads_total",
		Help: "Scoring config reload attempts, labelled by outcome.",
	}, []string{"outcome"})

	VelocityWindows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "merlin_velocity_windows",
		Help: "Number of live velocity windows across all shards.",
	})
)
