// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ingestion implements the ingestion regulator (IR): a
// single-threaded cooperative state machine that arbitrates between a
// streaming push source (live consensus output) and a catch-up pull source
// (historical fetch, typically via the archive reader), and delivers a
// single gap-free, strictly increasing sequence of checkpoints to a set of
// subscribers with back-pressure.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/log"
)

// ErrNoStartBound reports an unbounded start range. Run always takes an
// explicit startCheckpoint and does not return this error.
var ErrNoStartBound = errors.New("ingestion: unbounded start range not supported")

// Sequenced is anything the regulator can order and deliver: a
// CommittedSubDag, a raw checkpoint, or any downstream-defined unit that
// carries a strictly-ordered sequence number.
type Sequenced interface {
	Sequence() uint64
}

// StreamSource is the live, push-style source of ordered items (e.g. the
// commit engine's CommittedSubDag stream, or a peer's checkpoint
// subscription). NextItem blocks until an item is available, the context is
// cancelled, or the stream ends/errors.
type StreamSource[T Sequenced] interface {
	// StartStreaming (re)initializes the stream; called once at IR startup
	// and again any time the regulator needs to resume after falling back
	// to Ingest.
	StartStreaming(ctx context.Context) error
	// NextItem returns the next item the stream produces, in the order
	// the underlying source emits them (not necessarily gap-free).
	NextItem(ctx context.Context) (T, error)
}

// IngestSource is the catch-up, pull-style source (e.g. the archive
// reader). Fetch returns the item for exactly one sequence number.
type IngestSource[T Sequenced] interface {
	Fetch(ctx context.Context, seq uint64) (T, error)
}

// Subscriber receives delivered items in strictly increasing, gap-free
// sequence order, and reports its own committed high-water back so IR can
// compute back-pressure.
type Subscriber[T Sequenced] struct {
	Name string
	Ch   chan<- T
}

// Config holds IR's tunables.
type Config struct {
	// CheckInterval is how many additional sequence numbers the regulator
	// consumes via Ingest before retrying a failed stream restart. Named
	// INGESTION_CHECK_INTERVAL in the source this was distilled from.
	CheckInterval uint64
	// BufferSize is added to the minimum subscriber high-water to compute
	// ingest_max, the ceiling on how far ahead of the slowest subscriber
	// IR will push via Ingest.
	BufferSize uint64
}

// DefaultConfig matches the teacher's conservative defaults: a ten-item
// backoff extension and no extra buffer beyond the slowest subscriber.
func DefaultConfig() Config {
	return Config{CheckInterval: 10, BufferSize: 0}
}

// state tags the regulator's three-state machine from §4.6.
type state int

const (
	stateUninit state = iota
	stateIngest
	stateStream
)

// Regulator drives the UnInit/Ingest/Stream state machine described in
// §4.6. A Regulator is single-threaded: Run must be called exactly once and
// owns all state transitions; HiUpdate may be called concurrently from
// subscriber goroutines.
type Regulator[T Sequenced] struct {
	cfg     Config
	log     log.Logger
	stream  StreamSource[T]
	ingest  IngestSource[T]
	subs    []Subscriber[T]
	metrics *Metrics

	hiMu         sync.Mutex
	subscriberHi map[string]uint64
	ingestMax    *uint64

	hiUpdates chan hiUpdate
}

type hiUpdate struct {
	name string
	hi   uint64
}

// New builds a regulator. stream may be nil to run in ingest-only mode
// (e.g. pure catch-up replay with no live source).
func New[T Sequenced](cfg Config, stream StreamSource[T], ingest IngestSource[T], subs []Subscriber[T], metrics *Metrics, logger log.Logger) *Regulator[T] {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Regulator[T]{
		cfg:          cfg,
		log:          logger,
		stream:       stream,
		ingest:       ingest,
		subs:         subs,
		metrics:      metrics,
		subscriberHi: make(map[string]uint64),
		hiUpdates:    make(chan hiUpdate, 64),
	}
}

// HiUpdate reports a subscriber's new committed high-water mark. Safe to
// call from any goroutine; the regulator applies it at its next loop
// iteration.
func (r *Regulator[T]) HiUpdate(name string, hi uint64) {
	select {
	case r.hiUpdates <- hiUpdate{name: name, hi: hi}:
	default:
		// The channel is sized generously; a full channel means the
		// regulator loop is stalled elsewhere and will drain it at
		// its next tick regardless. Drop rather than block a committer.
	}
}

// Run drives the regulator loop from startCheckpoint (inclusive) to
// endExclusive (exclusive; pass ^uint64(0) for unbounded), delivering items
// to every subscriber in strictly increasing sequence order, until ctx is
// cancelled, endExclusive is reached, or the ingest source returns an
// error. A closed subscriber channel is not detected.
func (r *Regulator[T]) Run(ctx context.Context, startCheckpoint, endExclusive uint64) error {
	st := stateUninit
	current := startCheckpoint
	hiExclusive := startCheckpoint
	streamActive := false

	if r.stream != nil {
		if err := r.stream.StartStreaming(ctx); err != nil {
			r.log.Warn("failed to start streaming service", "error", err)
			st, current, hiExclusive = stateIngest, startCheckpoint, endExclusive
		} else {
			streamActive = true
		}
	} else {
		st, current, hiExclusive = stateIngest, startCheckpoint, endExclusive
	}

	for {
		select {
		case <-ctx.Done():
			r.log.Info("shutdown received, stopping regulator")
			return nil
		default:
		}

		if st == stateIngest && current >= endExclusive {
			return nil
		}

		// Attempt to resume streaming once Ingest has caught up to its
		// declared boundary.
		if st == stateIngest && current == hiExclusive && !streamActive && r.stream != nil {
			if err := r.stream.StartStreaming(ctx); err != nil {
				r.log.Warn("failed to restart streaming service", "error", err)
				hiExclusive += r.cfg.CheckInterval
			} else {
				streamActive = true
			}
		}

		r.drainHiUpdates()

		switch {
		case streamActive:
			item, err := r.stream.NextItem(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.log.Warn("checkpoint stream error", "error", err)
				streamActive = false
				switch st {
				case stateUninit:
					st, current, hiExclusive = stateIngest, startCheckpoint, startCheckpoint+r.cfg.CheckInterval
				case stateIngest:
					hiExclusive += r.cfg.CheckInterval
				case stateStream:
					st, hiExclusive = stateIngest, current+r.cfg.CheckInterval
				}
				continue
			}
			seq := item.Sequence()

			switch st {
			case stateUninit:
				if startCheckpoint >= seq {
					st, current = stateStream, seq
				} else {
					st, current, hiExclusive, streamActive = stateIngest, startCheckpoint, seq, false
					continue
				}
			case stateIngest:
				if seq <= hiExclusive {
					st, current = stateStream, hiExclusive
				} else {
					hiExclusive, streamActive = seq, false
					continue
				}
			case stateStream:
				ingestMax := r.ingestMaxSnapshot()
				if seq > current || (ingestMax != nil && seq > *ingestMax) {
					st, hiExclusive, streamActive = stateIngest, seq, false
					continue
				}
			}

			if st != stateStream {
				return fmt.Errorf("ingestion: invariant violation, expected Stream state")
			}
			if seq >= endExclusive {
				r.log.Info("checkpoints done, stopping regulator")
				return nil
			}
			if seq < current {
				r.log.Debug("dropping already-delivered item", "seq", seq, "current", current)
				continue
			}
			if err := r.broadcast(ctx, item); err != nil {
				r.log.Info("subscriber dropped, stopping regulator", "error", err)
				return nil
			}
			r.metrics.streamedCheckpoints.Inc()
			current = seq + 1

		case st == stateIngest:
			ingestMax := r.ingestMaxSnapshot()
			if ingestMax != nil && current > *ingestMax {
				// Back-pressure: block until a subscriber advances, or
				// context cancellation / a new hi update unblocks us.
				if !r.waitForProgress(ctx) {
					return nil
				}
				continue
			}
			item, err := r.ingest.Fetch(ctx, current)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.log.Warn("checkpoint channel error, stopping regulator", "error", err)
				return nil
			}
			r.log.Debug("sent checkpoint via ingestion", "seq", current)
			if err := r.broadcast(ctx, item); err != nil {
				r.log.Info("subscriber dropped, stopping regulator", "error", err)
				return nil
			}
			current++

		default:
			if !r.waitForProgress(ctx) {
				return nil
			}
		}
	}
}

// broadcast delivers item to every subscriber, in order; a blocked
// subscriber channel blocks the whole pipeline (by design, §4.6).
func (r *Regulator[T]) broadcast(ctx context.Context, item T) error {
	for _, s := range r.subs {
		select {
		case s.Ch <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Regulator[T]) drainHiUpdates() {
	for {
		select {
		case u := <-r.hiUpdates:
			r.applyHiUpdate(u.name, u.hi)
		default:
			return
		}
	}
}

func (r *Regulator[T]) applyHiUpdate(name string, hi uint64) {
	r.hiMu.Lock()
	defer r.hiMu.Unlock()
	r.subscriberHi[name] = hi
	var min uint64
	first := true
	for _, v := range r.subscriberHi {
		if first || v < min {
			min, first = v, false
		}
	}
	if !first {
		max := min + r.cfg.BufferSize
		r.ingestMax = &max
	}
}

func (r *Regulator[T]) ingestMaxSnapshot() *uint64 {
	r.hiMu.Lock()
	defer r.hiMu.Unlock()
	if r.ingestMax == nil {
		return nil
	}
	v := *r.ingestMax
	return &v
}

// waitForProgress blocks until a subscriber reports a new high-water mark
// or the context is cancelled, returning false on cancellation.
func (r *Regulator[T]) waitForProgress(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case u := <-r.hiUpdates:
		r.applyHiUpdate(u.name, u.hi)
		return true
	}
}
