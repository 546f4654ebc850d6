// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sequential

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments SC, mirroring the indexer framework's
// IndexerMetrics fields for the sequential committer path.
type Metrics struct {
	rowsReceived         prometheus.Counter
	watermarksOutOfOrder prometheus.Counter
	batchesAttempted     prometheus.Counter
	batchesFailed        prometheus.Counter
	batchesSucceeded     prometheus.Counter
	batchSize            prometheus.Histogram
	rowsCommitted        prometheus.Counter
	rowsAffected         prometheus.Counter
	watermarkCheckpoint  prometheus.Gauge
}

// NewMetrics registers SC's counters/gauges/histogram against reg. A nil
// Registerer yields unregistered (but usable) metrics, for tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rowsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "sequential", Name: "rows_received_total",
			Help: "Rows received from the upstream processor.",
		}),
		watermarksOutOfOrder: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "sequential", Name: "watermarks_out_of_order_total",
			Help: "Checkpoints discarded because they were already past the committer's watermark.",
		}),
		batchesAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "sequential", Name: "committer_batches_attempted_total",
			Help: "Batch write transactions attempted.",
		}),
		batchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "sequential", Name: "committer_batches_failed_total",
			Help: "Batch write transactions that returned an error.",
		}),
		batchesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "sequential", Name: "committer_batches_succeeded_total",
			Help: "Batch write transactions that committed successfully.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dagbft", Subsystem: "sequential", Name: "committer_batch_size",
			Help: "Row count per attempted batch.", Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		rowsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "sequential", Name: "rows_committed_total",
			Help: "Rows included in successfully committed batches.",
		}),
		rowsAffected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "sequential", Name: "rows_affected_total",
			Help: "Rows the store reported as affected by committed batches.",
		}),
		watermarkCheckpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dagbft", Subsystem: "sequential", Name: "watermark_checkpoint",
			Help: "Highest checkpoint durably committed by this pipeline.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.rowsReceived, m.watermarksOutOfOrder, m.batchesAttempted, m.batchesFailed,
			m.batchesSucceeded, m.batchSize, m.rowsCommitted, m.rowsAffected, m.watermarkCheckpoint,
		)
	}
	return m
}
