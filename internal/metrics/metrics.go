// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package metrics provides Prometheus instrumentation for the batch:
// partition throughput and latency, retries, skipped records, and
// allocation outcomes. Metrics are registered via promauto at package
// load and exposed on the status server's /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PartitionDuration observes wall-clock seconds per partition attempt.
	PartitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobdigest_partition_duration_seconds",
			Help:    "Duration of partition executions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~200s
		},
		[]string{"stage"},
	)

	// PartitionsTotal counts partition attempts by terminal outcome.
	PartitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdigest_partitions_total",
			Help: "Total partition executions by stage and outcome",
		},
		[]string{"stage", "outcome"}, // "done", "failed", "skipped"
	)

	// PartitionRetries counts retry attempts after transient failures.
	PartitionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdigest_partition_retries_total",
			Help: "Total partition retry attempts",
		},
		[]string{"stage"},
	)

	// RecordsSkipped counts input records dropped by validation.
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdigest_records_skipped_total",
			Help: "Input records skipped due to validation failures",
		},
		[]string{"stage", "reason"},
	)

	// ItemsScored counts items that produced a usable item score.
	ItemsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobdigest_items_scored_total",
			Help: "Items scored successfully",
		},
	)

	// UsersAllocated counts users with a completed allocation.
	UsersAllocated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobdigest_users_allocated_total",
			Help: "Users with a completed allocation",
		},
	)

	// AllocationShortfall observes how far below target allocations land.
	AllocationShortfall = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobdigest_allocation_shortfall",
			Help:    "Target total minus allocated count per user",
			Buckets: prometheus.LinearBuckets(0, 5, 9), // 0..40
		},
	)

	// BreakerState tracks the dataset circuit breaker (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobdigest_dataset_breaker_state",
			Help: "Dataset source circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// RunInfo tracks the currently executing run as a labeled gauge.
	RunInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobdigest_run_info",
			Help: "Currently executing run (value is 1 while running)",
		},
		[]string{"run_date", "stage"},
	)
)

// ObservePartition records one partition attempt.
func ObservePartition(stage, outcome string, d time.Duration) {
	PartitionDuration.WithLabelValues(stage).Observe(d.Seconds())
	PartitionsTotal.WithLabelValues(stage, outcome).Inc()
}
