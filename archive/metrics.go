// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package archive

import "github.com/prometheus/client_golang/prometheus"

// ReaderMetrics instruments a Reader, mirroring ArchiveReaderMetrics from
// the reader this package is grounded on.
type ReaderMetrics struct {
	checkpointsRead prometheus.Counter
	txnsRead        prometheus.Counter
	filesVerified   prometheus.Counter
	verifyFailures  prometheus.Counter
}

// NewReaderMetrics registers Reader's counters against reg. A nil
// Registerer yields unregistered (but usable) metrics, for tests.
func NewReaderMetrics(reg prometheus.Registerer) *ReaderMetrics {
	m := &ReaderMetrics{
		checkpointsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "archive", Name: "checkpoints_read_total",
			Help: "Checkpoints applied to a target from an archive reader.",
		}),
		txnsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "archive", Name: "txns_read_total",
			Help: "Transactions applied to a target from an archive reader.",
		}),
		filesVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "archive", Name: "files_verified_total",
			Help: "Archive files whose checksum was verified successfully.",
		}),
		verifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "archive", Name: "verify_failures_total",
			Help: "Archive files that failed checksum verification.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.checkpointsRead, m.txnsRead, m.filesVerified, m.verifyFailures)
	}
	return m
}

// WriterMetrics instruments a Writer.
type WriterMetrics struct {
	checkpointsWritten prometheus.Counter
	filesFlushed       prometheus.Counter
}

// NewWriterMetrics registers Writer's counters against reg.
func NewWriterMetrics(reg prometheus.Registerer) *WriterMetrics {
	m := &WriterMetrics{
		checkpointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "archive", Name: "checkpoints_written_total",
			Help: "Checkpoints appended to the archive by a writer.",
		}),
		filesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagbft", Subsystem: "archive", Name: "files_flushed_total",
			Help: "Summary/contents file pairs flushed to the store.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.checkpointsWritten, m.filesFlushed)
	}
	return m
}
