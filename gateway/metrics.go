// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"sqlpilot/platform/connectors/base"
	"sqlpilot/platform/connectors/manager"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_requests_total",
			Help: "Total HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlpilot_request_duration_seconds",
			Help:    "HTTP request duration by endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	schemaCacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_schema_cache_events_total",
			Help: "Schema cache lookups by engine and outcome",
		},
		[]string{"db_type", "event"},
	)

	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_llm_calls_total",
			Help: "LLM provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	queryRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_query_retries_total",
			Help: "Query regenerations after a failed execution, by engine",
		},
		[]string{"db_type"},
	)
)

// ObserveCacheEvent feeds manager cache lookups into metrics.
func ObserveCacheEvent(dbType base.DatabaseType, event manager.CacheEvent) {
	schemaCacheEvents.WithLabelValues(string(dbType), string(event)).Inc()
}

// ObserveLLMCall feeds generator provider calls into metrics.
func ObserveLLMCall(provider string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	llmCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveQueryRetry feeds executor retries into metrics.
func ObserveQueryRetry(dbType base.DatabaseType) {
	queryRetriesTotal.WithLabelValues(string(dbType)).Inc()
}

func init() {
	prometheus.MustRegister(
		requestsTotal,
		requestDuration,
		schemaCacheEvents,
		llmCallsTotal,
		queryRetriesTotal,
	)
}
