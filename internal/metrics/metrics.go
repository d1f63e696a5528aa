// Chartpulse - Music Chart Ingestion and Enrichment
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline: queue consumption, enrichment lookups, and store operations.
// Metrics are exposed at /metrics on the ops HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics
	MessagesConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chartpulse_messages_consumed_total",
			Help: "Total snapshot messages consumed from the queue",
		},
	)

	MessagesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chartpulse_messages_processed_total",
			Help: "Total snapshot messages fully processed and acknowledged",
		},
	)

	MessagesMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chartpulse_messages_malformed_total",
			Help: "Total messages dropped because the body was not a valid snapshot",
		},
	)

	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chartpulse_messages_published_total",
			Help: "Total snapshot messages published by producers",
		},
	)

	MessageProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chartpulse_message_processing_duration_seconds",
			Help:    "End-to-end processing time per snapshot message",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	// Item metrics
	ItemsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chartpulse_items_persisted_total",
			Help: "Total chart line items persisted",
		},
	)

	ItemsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartpulse_items_failed_total",
			Help: "Total chart line items that failed processing",
		},
		[]string{"stage"}, // snapshot, country, validate, artist, song, song_source, chart_entry
	)

	// Enrichment metrics
	EnrichmentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartpulse_enrichment_lookups_total",
			Help: "Total enrichment lookups by provider and outcome",
		},
		[]string{"provider", "outcome"}, // provider: artist, track; outcome: hit, miss, error
	)

	EnrichmentRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chartpulse_enrichment_rate_limited_total",
			Help: "Total rate-limit responses from the track feature provider",
		},
	)

	EnrichmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chartpulse_enrichment_duration_seconds",
			Help:    "Enrichment lookup latency by provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chartpulse_store_operation_duration_seconds",
			Help:    "Store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartpulse_store_operation_errors_total",
			Help: "Total store operation failures",
		},
		[]string{"operation"},
	)

	// Circuit breaker state: 0=closed, 1=open, 2=half-open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chartpulse_breaker_state",
			Help: "Circuit breaker state per enrichment provider (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)
)

// RecordEnrichment records one enrichment lookup.
func RecordEnrichment(provider, outcome string, duration time.Duration) {
	EnrichmentLookups.WithLabelValues(provider, outcome).Inc()
	EnrichmentDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordStoreOperation records one store primitive invocation.
func RecordStoreOperation(operation string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreOperationErrors.WithLabelValues(operation).Inc()
	}
}

// RecordItemFailure records a line item failing at the given stage.
func RecordItemFailure(stage string) {
	ItemsFailed.WithLabelValues(stage).Inc()
}
