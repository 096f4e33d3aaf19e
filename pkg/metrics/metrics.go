// Package metrics exposes Prometheus collectors for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command outcomes recorded on CommandsTotal.
const (
	OutcomeOK             = "ok"
	OutcomeTimeout        = "timeout"
	OutcomeWorkerError    = "worker_error"
	OutcomeDeliveryError  = "delivery_error"
	OutcomeSessionDeleted = "session_deleted"
)

var (
	// SessionsActive tracks sessions currently in the ACTIVE state.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessionwire",
		Name:      "sessions_active",
		Help:      "Number of active worker sessions.",
	})

	// CommandsTotal counts completed command submissions by outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sessionwire",
		Name:      "commands_total",
		Help:      "Command submissions by outcome.",
	}, []string{"outcome"})

	// CommandSeconds observes end-to-end command latency for commands that
	// received a result.
	CommandSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sessionwire",
		Name:      "command_seconds",
		Help:      "End-to-end command round-trip latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// PendingCommands tracks registered completion slots awaiting results.
	PendingCommands = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessionwire",
		Name:      "pending_commands",
		Help:      "Commands awaiting a correlated result.",
	})

	// StaleResults counts results that arrived with no pending slot. Nonzero
	// values are expected under at-least-once delivery.
	StaleResults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sessionwire",
		Name:      "stale_results_total",
		Help:      "Results discarded because no pending command matched their id.",
	})

	// StreamClients tracks open screenshot stream connections.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessionwire",
		Name:      "stream_clients",
		Help:      "Connected screenshot stream clients.",
	})
)
