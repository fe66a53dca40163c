// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Node websocket sessions (availability, frames, latency, reconnects)
// - Players and outbound events
// - REST track lookups and the per-node circuit breakers
// - The control API

var (
	// Node Metrics
	NodeAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "granite_node_available",
			Help: "Whether the node websocket is connected (1) or not (0)",
		},
		[]string{"node"},
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granite_node_frames_received_total",
			Help: "Total number of frames received from nodes",
		},
		[]string{"node", "op"},
	)

	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granite_node_frames_sent_total",
			Help: "Total number of frames written to nodes",
		},
		[]string{"node", "op"},
	)

	SendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granite_node_send_errors_total",
			Help: "Total number of frames that could not be sent",
		},
		[]string{"node"},
	)

	PingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "granite_node_ping_latency_seconds",
			Help:    "Websocket ping round-trip time in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"node"},
	)

	NodeReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granite_node_reconnects_total",
			Help: "Total number of reconnect attempts",
		},
		[]string{"node", "result"}, // result: "success", "failure", "gave_up"
	)

	// Player Metrics
	Players = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "granite_players",
			Help: "Current number of players hosted per node",
		},
		[]string{"node"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granite_events_published_total",
			Help: "Total number of node events published to the event bus",
		},
		[]string{"event"},
	)

	// REST Metrics
	RESTRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granite_rest_requests_total",
			Help: "Total number of loadtracks requests by outcome",
		},
		[]string{"node", "load_type"}, // load_type is the response type, or "error"
	)

	RESTDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "granite_rest_request_duration_seconds",
			Help:    "loadtracks request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"node"},
	)

	RESTCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "granite_rest_cache_hits_total",
			Help: "Total number of track lookups served from cache",
		},
	)

	RESTCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "granite_rest_cache_misses_total",
			Help: "Total number of track lookups that went to a node",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granite_api_requests_total",
			Help: "Total number of control API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "granite_api_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// RecordRESTRequest records one loadtracks call. loadType is "error" for
// transport or decode failures.
func RecordRESTRequest(node, loadType string, duration time.Duration) {
	RESTRequests.WithLabelValues(node, loadType).Inc()
	RESTDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordReconnect records the outcome of one reconnect attempt.
func RecordReconnect(node, result string) {
	NodeReconnects.WithLabelValues(node, result).Inc()
}

// RecordAPIRequest records one control API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ResetNode zeroes the per-node gauges when a node leaves the registry.
func ResetNode(node string) {
	NodeAvailable.DeleteLabelValues(node)
	Players.DeleteLabelValues(node)
}
