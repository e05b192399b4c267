// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the query pipeline.
//
// # Description
//
// Counters and gauges covering the full query lifecycle: risk gate
// decisions, refusal categories, retrieval outcomes, stream errors, and
// active SSE connections. Exposed via the /metrics endpoint for
// Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "nutria"

const querySubsystem = "query"

// QueryMetrics holds all Prometheus metrics for the query pipeline.
// Initialize once at startup via InitMetrics().
type QueryMetrics struct {
	// QueriesTotal counts queries by risk gate decision and language.
	// Labels: decision (allow, allow_with_constraints, refuse), language
	QueriesTotal *prometheus.CounterVec

	// RefusalsTotal counts refusals by the category that triggered them.
	// Labels: category (medication, minor, possible_emergency, ...)
	RefusalsTotal *prometheus.CounterVec

	// ErrorsTotal counts pipeline errors by stage.
	// Labels: stage (validation, retrieval, generation, session, internal)
	ErrorsTotal *prometheus.CounterVec

	// ActiveStreams tracks currently open SSE connections.
	ActiveStreams prometheus.Gauge

	// StreamDurationSeconds measures total query stream duration.
	// Labels: status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ReferencesTotal counts reference extractions by outcome.
	// Labels: outcome (metadata, text, chunk_zero, suppressed, none)
	ReferencesTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent on SSE streams.
	KeepAlivesTotal prometheus.Counter

	// SessionsSweptTotal counts expired sessions removed by the sweep.
	SessionsSweptTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *QueryMetrics

// InitMetrics creates and registers all Prometheus metrics with the
// default registry. Call once at application startup; a second call
// panics on duplicate registration.
func InitMetrics() *QueryMetrics {
	DefaultMetrics = &QueryMetrics{
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "queries_total",
				Help:      "Total queries by risk gate decision and language",
			},
			[]string{"decision", "language"},
		),

		RefusalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "refusals_total",
				Help:      "Total refusals by triggering category",
			},
			[]string{"category"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "errors_total",
				Help:      "Total pipeline errors by stage",
			},
			[]string{"stage"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open SSE connections",
			},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total query stream duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),

		ReferencesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "references_total",
				Help:      "Total reference extractions by outcome",
			},
			[]string{"outcome"},
		),

		KeepAlivesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent on SSE streams",
			},
		),

		SessionsSweptTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "sessions_swept_total",
				Help:      "Total expired sessions removed by the TTL sweep",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Stages
// =============================================================================

// ErrorStage categorizes where in the pipeline an error occurred.
type ErrorStage string

const (
	// StageValidation indicates request validation failure.
	StageValidation ErrorStage = "validation"

	// StageRetrieval indicates embedding or vector search failure.
	StageRetrieval ErrorStage = "retrieval"

	// StageGeneration indicates an LLM backend failure.
	StageGeneration ErrorStage = "generation"

	// StageSession indicates a session store failure.
	StageSession ErrorStage = "session"

	// StageInternal indicates any other internal error.
	StageInternal ErrorStage = "internal"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordQuery records one query with its risk gate decision.
func (m *QueryMetrics) RecordQuery(decision, language string) {
	m.QueriesTotal.WithLabelValues(decision, language).Inc()
}

// RecordRefusal records the categories that triggered a refusal.
func (m *QueryMetrics) RecordRefusal(categories []string) {
	for _, c := range categories {
		m.RefusalsTotal.WithLabelValues(c).Inc()
	}
}

// RecordError records a pipeline error at the given stage.
func (m *QueryMetrics) RecordError(stage ErrorStage) {
	m.ErrorsTotal.WithLabelValues(string(stage)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *QueryMetrics) StreamStarted() {
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge and records the total
// duration.
func (m *QueryMetrics) StreamEnded(seconds float64, success bool) {
	m.ActiveStreams.Dec()
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordReferences records how references were produced for one query.
func (m *QueryMetrics) RecordReferences(outcome string) {
	m.ReferencesTotal.WithLabelValues(outcome).Inc()
}

// RecordKeepAlive increments the keepalive counter.
func (m *QueryMetrics) RecordKeepAlive() {
	m.KeepAlivesTotal.Inc()
}

// RecordSweep records how many sessions the TTL sweep removed.
func (m *QueryMetrics) RecordSweep(removed int) {
	m.SessionsSweptTotal.Add(float64(removed))
}
