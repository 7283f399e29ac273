// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

// Package metrics instruments the message pipeline for Prometheus.
// Collectors cover every stage a message passes through: acceptance,
// local delivery, fan-out, deduplication, and persistence.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Send pipeline

	MessagesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_accepted_total",
			Help: "Total messages accepted into the pipeline",
		},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_rejected_total",
			Help: "Total messages rejected before acceptance",
		},
		[]string{"reason"}, // "unauthorized", "rate_limited", "too_large", "invalid", "persistence"
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_delivered_total",
			Help: "Total message copies delivered to local connections",
		},
	)

	// Fan-out plane

	FanoutPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_fanout_published_total",
			Help: "Total events published to the fan-out subjects",
		},
	)

	FanoutReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_fanout_received_total",
			Help: "Total events received from the fan-out subjects",
		},
	)

	DuplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_duplicates_suppressed_total",
			Help: "Total self-delivered fan-out echoes suppressed",
		},
	)

	// Durable log and persister

	DurableAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_durable_appends_total",
			Help: "Total successful durable log appends",
		},
	)

	DurableAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_durable_append_failures_total",
			Help: "Total failed durable log appends",
		},
	)

	EventsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_events_persisted_total",
			Help: "Total events written to the message archive",
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_persist_failures_total",
			Help: "Total archive write failures (trigger persister backoff)",
		},
	)

	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_persist_duration_seconds",
			Help:    "Duration of archive writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Connections

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_rooms_active",
			Help: "Current number of rooms with at least one local member",
		},
	)

	HistoryReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_history_replays_total",
			Help: "Total history replays served on room join",
		},
	)
)

// RecordAccepted increments the accepted message counter.
func RecordAccepted() {
	MessagesAccepted.Inc()
}

// RecordRejected increments the rejection counter for a reason.
func RecordRejected(reason string) {
	MessagesRejected.WithLabelValues(reason).Inc()
}

// RecordDelivered counts message copies handed to local connections.
func RecordDelivered(copies int) {
	MessagesDelivered.Add(float64(copies))
}

// RecordFanoutPublished increments the fan-out publish counter.
func RecordFanoutPublished() {
	FanoutPublished.Inc()
}

// RecordFanoutReceived increments the fan-out receive counter.
func RecordFanoutReceived() {
	FanoutReceived.Inc()
}

// RecordDuplicateSuppressed increments the dedup counter.
func RecordDuplicateSuppressed() {
	DuplicatesSuppressed.Inc()
}

// RecordDurableAppend increments the durable append counter.
func RecordDurableAppend() {
	DurableAppends.Inc()
}

// RecordDurableAppendFailure increments the durable append failure
// counter.
func RecordDurableAppendFailure() {
	DurableAppendFailures.Inc()
}

// RecordPersisted records a successful archive write.
func RecordPersisted(duration time.Duration) {
	EventsPersisted.Inc()
	PersistDuration.Observe(duration.Seconds())
}

// RecordPersistFailure increments the archive failure counter.
func RecordPersistFailure() {
	PersistFailures.Inc()
}

// SetWebSocketConnections updates the connection gauge.
func SetWebSocketConnections(n int) {
	WebSocketConnections.Set(float64(n))
}

// SetRoomsActive updates the active room gauge.
func SetRoomsActive(n int) {
	RoomsActive.Set(float64(n))
}

// RecordHistoryReplay increments the history replay counter.
func RecordHistoryReplay() {
	HistoryReplays.Inc()
}
