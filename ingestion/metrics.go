// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ingestion

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the regulator loop, mirroring the
// total_streamed_checkpoints counter the original ingestion pipeline
// exposes.
type Metrics struct {
	streamedCheckpoints prometheus.Counter
}

// NewMetrics registers IR's counters against reg. A nil Registerer yields
// unregistered (but usable) metrics, for tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		streamedCheckpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft",
			Subsystem: "ingestion",
			Name:      "streamed_checkpoints_total",
			Help:      "Number of checkpoints delivered to subscribers via the streaming source.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.streamedCheckpoints)
	}
	return m
}
