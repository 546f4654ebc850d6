// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sequential implements the sequential committer (SC): it batches
// indexed rows per checkpoint, writes them transactionally together with a
// watermark row, and reports progress upstream to unblock the ingestion
// regulator's back-pressure.
package sequential

import (
	"context"
	"time"

	"github.com/luxfi/log"
)

// Watermark is the monotone per-pipeline high-water tuple from §3: every
// component is non-decreasing as the pipeline advances.
type Watermark struct {
	EpochHi       uint64
	CheckpointHi  uint64
	TxHi          uint64
	TimestampMsHi int64
}

// IndexedCheckpoint is one checkpoint's worth of rows plus the watermark it
// advances the pipeline to, as produced by an upstream indexing processor.
// Checkpoint data may arrive out of order on the input channel; SC
// reorders it.
type IndexedCheckpoint[R any] struct {
	Checkpoint uint64
	Rows       []R
	Watermark  Watermark
}

// Store is the transactional sink SC writes batches to: a single
// transaction both commits the batch and advances the watermark row, so a
// crash can never leave one written without the other (the SC atomicity
// property in §8).
type Store[B any] interface {
	// CommitBatch writes batch and watermark atomically, returning the
	// number of rows affected (for metrics) or an error, which SC treats
	// as transient and retries unchanged.
	CommitBatch(ctx context.Context, pipeline string, batch *B, watermark Watermark) (affected int, err error)
}

// Handler adapts one pipeline's row/batch types to the committer loop.
type Handler[R any, B any] struct {
	// Name identifies the pipeline in logs, metrics, and the watermark
	// feedback message sent to IR.
	Name string
	// NewBatch returns a fresh, empty batch.
	NewBatch func() *B
	// Merge appends rows into batch.
	Merge func(batch *B, rows []R)
	// MaxBatchCheckpoints bounds how many checkpoints one write transaction
	// spans, limiting write-transaction size regardless of row count.
	MaxBatchCheckpoints int
	// MinEagerRows is the pending-row threshold at or above which SC fires a
	// commit immediately rather than waiting for the poll interval.
	MinEagerRows int
}

// Config holds SC's tunables, named after the original pipeline's
// SequentialConfig/CommitterConfig.
type Config struct {
	// CollectInterval bounds the maximum time between commit attempts,
	// regardless of how much data is available.
	CollectInterval time.Duration
	// CheckpointLag is how many checkpoints SC intentionally lags behind
	// the ingestion service's tip before writing; 0 means no lag.
	CheckpointLag uint64
	// WarnPendingWatermarks logs a warning once the pending buffer holds
	// more than this many not-yet-committed checkpoints.
	WarnPendingWatermarks int
}

// DefaultConfig matches the teacher-adjacent pipeline's defaults.
func DefaultConfig() Config {
	return Config{
		CollectInterval:       500 * time.Millisecond,
		CheckpointLag:         0,
		WarnPendingWatermarks: 10000,
	}
}

// WatermarkSink receives (pipeline, checkpoint_hi) feedback after every
// successful commit, unblocking IR's back-pressure for this pipeline.
type WatermarkSink interface {
	HiUpdate(name string, hi uint64)
}

// Committer runs SC's collect-tick loop for one pipeline.
type Committer[R any, B any] struct {
	cfg     Config
	handler Handler[R, B]
	store   Store[B]
	sink    WatermarkSink
	log     log.Logger
	metrics *Metrics

	pending     map[uint64]IndexedCheckpoint[R]
	pendingRows int

	nextCheckpoint uint64
	watermark      Watermark

	batch            *B
	batchRows        int
	batchCheckpoints int
	attempt          int
}

// New builds a committer resuming from watermark (the zero Watermark if
// this pipeline has never committed).
func New[R any, B any](cfg Config, handler Handler[R, B], store Store[B], sink WatermarkSink, watermark Watermark, metrics *Metrics, logger log.Logger) *Committer[R, B] {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	var next uint64
	if watermark.CheckpointHi > 0 || watermark.EpochHi > 0 || watermark.TxHi > 0 {
		next = watermark.CheckpointHi + 1
	}
	return &Committer[R, B]{
		cfg:            cfg,
		handler:        handler,
		store:          store,
		sink:           sink,
		log:            logger,
		metrics:        metrics,
		pending:        make(map[uint64]IndexedCheckpoint[R]),
		nextCheckpoint: next,
		watermark:      watermark,
		batch:          handler.NewBatch(),
	}
}

// Push enqueues one checkpoint's indexed rows, possibly out of order.
// Duplicates of already-committed or already-pending checkpoints are
// discarded.
func (c *Committer[R, B]) Push(indexed IndexedCheckpoint[R]) {
	if indexed.Checkpoint < c.nextCheckpoint {
		c.metrics.watermarksOutOfOrder.Inc()
		return
	}
	if _, ok := c.pending[indexed.Checkpoint]; ok {
		return
	}
	c.pending[indexed.Checkpoint] = indexed
	c.pendingRows += len(indexed.Rows)
}

// CanProcessPending reports whether the lowest pending checkpoint is ready
// to move into the batch: at or before nextCheckpoint, and at least
// checkpointLag checkpoints behind the highest pending entry.
func (c *Committer[R, B]) CanProcessPending() bool {
	if len(c.pending) == 0 {
		return false
	}
	first, last := c.pendingBounds()
	return first <= c.nextCheckpoint && first+c.cfg.CheckpointLag <= last
}

// ShouldCommitEagerly reports whether enough pending rows have accumulated
// to fire a commit before the next poll tick.
func (c *Committer[R, B]) ShouldCommitEagerly() bool {
	if c.pendingRows < c.handler.MinEagerRows {
		return false
	}
	return c.batchCheckpoints > 0 || c.CanProcessPending()
}

func (c *Committer[R, B]) pendingBounds() (first, last uint64) {
	first = ^uint64(0)
	for k := range c.pending {
		if k < first {
			first = k
		}
		if k > last {
			last = k
		}
	}
	return first, last
}

// Drained reports whether Tick has nothing left to do and never will
// again: used by the caller to decide when to exit after its input
// channel closes.
func (c *Committer[R, B]) Drained() bool {
	return c.batchCheckpoints == 0 && !c.CanProcessPending()
}

// gather pulls contiguous, lag-satisfying checkpoints out of pending and
// into the current batch, up to MaxBatchCheckpoints.
func (c *Committer[R, B]) gather() {
	for c.batchCheckpoints < c.handler.MaxBatchCheckpoints {
		if len(c.pending) > c.cfg.WarnPendingWatermarks {
			c.log.Warn("pipeline has a large number of pending watermarks", "pipeline", c.handler.Name, "pending", len(c.pending))
		}
		if !c.CanProcessPending() {
			return
		}
		first, _ := c.pendingBounds()
		switch {
		case first < c.nextCheckpoint:
			// Stale duplicate: discard without touching the batch.
			indexed := c.pending[first]
			delete(c.pending, first)
			c.pendingRows -= len(indexed.Rows)
			c.metrics.watermarksOutOfOrder.Inc()
		case first == c.nextCheckpoint:
			indexed := c.pending[first]
			delete(c.pending, first)
			c.batchRows += len(indexed.Rows)
			c.batchCheckpoints++
			c.handler.Merge(c.batch, indexed.Rows)
			c.watermark = indexed.Watermark
			c.nextCheckpoint++
		default:
			return
		}
	}
}

// Tick runs one collect-commit cycle: it gathers whatever pending
// checkpoints are processable into the batch and, if non-empty, attempts a
// single transactional write. It returns true if a write was attempted
// (whether or not it succeeded), so the caller can decide whether to
// reschedule immediately (CanProcessPending() again) or wait for the next
// poll interval.
func (c *Committer[R, B]) Tick(ctx context.Context) (attempted bool, err error) {
	c.gather()
	if c.batchCheckpoints == 0 {
		return false, nil
	}

	c.metrics.batchesAttempted.Inc()
	c.metrics.batchSize.Observe(float64(c.batchRows))

	affected, err := c.store.CommitBatch(ctx, c.handler.Name, c.batch, c.watermark)
	if err != nil {
		c.log.Warn("error writing batch", "pipeline", c.handler.Name, "attempt", c.attempt, "error", err)
		c.metrics.batchesFailed.Inc()
		c.attempt++
		return true, err
	}

	c.log.Debug("wrote batch", "pipeline", c.handler.Name, "attempt", c.attempt, "affected", affected, "committed", c.batchRows)
	c.metrics.batchesSucceeded.Inc()
	c.metrics.rowsCommitted.Add(float64(c.batchRows))
	c.metrics.rowsAffected.Add(float64(affected))
	c.metrics.watermarkCheckpoint.Set(float64(c.watermark.CheckpointHi))

	if c.sink != nil {
		c.sink.HiUpdate(c.handler.Name, c.watermark.CheckpointHi)
	}

	c.pendingRows -= c.batchRows
	c.batch = c.handler.NewBatch()
	c.batchRows = 0
	c.batchCheckpoints = 0
	c.attempt = 0
	return true, nil
}

// Watermark returns SC's current high-water mark.
func (c *Committer[R, B]) Watermark() Watermark { return c.watermark }

// Run drives Tick on cfg.CollectInterval until ctx is cancelled or input
// closes and Drained() becomes permanently true. rows arrives from an
// upstream processor stage; the caller is responsible for closing it. A
// commit that leaves more immediately-processable pending data reschedules
// itself rather than waiting out the rest of the poll interval, matching
// the eager-commit behavior in §4.7.
func (c *Committer[R, B]) Run(ctx context.Context, rows <-chan IndexedCheckpoint[R]) error {
	closed := false
	logger := newWatermarkLogger(c.handler.Name)
	timer := time.NewTimer(c.cfg.CollectInterval)
	defer timer.Stop()

	runTick := func() {
		start := time.Now()
		attempted, err := c.Tick(ctx)
		if attempted && err == nil {
			logger.log(c.log, c.watermark, time.Since(start))
		}
	}

	for {
		if closed && c.Drained() {
			c.log.Info("process closed channel and no more data to commit", "pipeline", c.handler.Name)
			return nil
		}

		select {
		case <-ctx.Done():
			c.log.Info("shutdown received", "pipeline", c.handler.Name)
			return nil

		case indexed, ok := <-rows:
			if !ok {
				closed = true
				continue
			}
			c.metrics.rowsReceived.Add(float64(len(indexed.Rows)))
			c.Push(indexed)
			if c.ShouldCommitEagerly() {
				runTick()
			}

		case <-timer.C:
			runTick()
			for c.CanProcessPending() {
				runTick()
			}
			timer.Reset(c.cfg.CollectInterval)
		}
	}
}
