// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sequential

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu          sync.Mutex
	committed   []uint64
	watermark   Watermark
	failuresLeft int
}

func (s *fakeStore) CommitBatch(ctx context.Context, pipeline string, batch *[]uint64, watermark Watermark) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return 0, fmt.Errorf("injected transaction failure")
	}
	s.committed = append(s.committed, *batch...)
	s.watermark = watermark
	return len(*batch), nil
}

type fakeSink struct {
	mu      sync.Mutex
	updates []uint64
}

func (s *fakeSink) HiUpdate(name string, hi uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, hi)
}

func testHandler() Handler[uint64, []uint64] {
	return Handler[uint64, []uint64]{
		Name:                 "test",
		NewBatch:             func() *[]uint64 { b := []uint64{}; return &b },
		Merge:                func(batch *[]uint64, rows []uint64) { *batch = append(*batch, rows...) },
		MaxBatchCheckpoints:  3,
		MinEagerRows:         4,
	}
}

func checkpoint(n uint64) IndexedCheckpoint[uint64] {
	return IndexedCheckpoint[uint64]{
		Checkpoint: n,
		Rows:       []uint64{n},
		Watermark:  Watermark{CheckpointHi: n, TxHi: n, TimestampMsHi: int64(n) * 1000},
	}
}

func TestSequentialOrdersOutOfOrderCheckpoints(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	c := New[uint64, []uint64](Config{CheckpointLag: 0}.withDefaults(), testHandler(), store, sink, Watermark{}, nil, nil)

	for _, n := range []uint64{1, 0, 2} {
		c.Push(checkpoint(n))
	}
	attempted, err := c.Tick(context.Background())
	require.True(t, attempted)
	require.NoError(t, err)

	require.Equal(t, []uint64{0, 1, 2}, store.committed)
	require.Equal(t, uint64(2), store.watermark.CheckpointHi)
	require.Equal(t, []uint64{2}, sink.updates)
}

func TestSequentialRespectsCheckpointLag(t *testing.T) {
	store := &fakeStore{}
	c := New[uint64, []uint64](Config{CheckpointLag: 1}.withDefaults(), testHandler(), store, nil, Watermark{}, nil, nil)

	for _, n := range []uint64{0, 1, 2} {
		c.Push(checkpoint(n))
	}
	_, err := c.Tick(context.Background())
	require.NoError(t, err)
	// 2 is held back: once 0 and 1 are drained it is the only pending
	// checkpoint, and 2 + lag (1) exceeds the highest pending (2).
	require.Equal(t, []uint64{0, 1}, store.committed)

	c.Push(checkpoint(3))
	_, err = c.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2}, store.committed)
}

func TestSequentialRetriesOnTransactionFailure(t *testing.T) {
	store := &fakeStore{failuresLeft: 1}
	sink := &fakeSink{}
	c := New[uint64, []uint64](Config{CheckpointLag: 0}.withDefaults(), testHandler(), store, sink, Watermark{}, nil, nil)

	c.Push(checkpoint(0))
	attempted, err := c.Tick(context.Background())
	require.True(t, attempted)
	require.Error(t, err)
	require.Empty(t, store.committed)
	require.Equal(t, 1, c.attempt)

	// Same batch, retried unchanged, now succeeds.
	attempted, err = c.Tick(context.Background())
	require.True(t, attempted)
	require.NoError(t, err)
	require.Equal(t, []uint64{0}, store.committed)
	require.Equal(t, 0, c.attempt)
	require.Equal(t, []uint64{0}, sink.updates)
}

func TestSequentialEagerCommit(t *testing.T) {
	store := &fakeStore{}
	c := New[uint64, []uint64](Config{CheckpointLag: 0}.withDefaults(), testHandler(), store, nil, Watermark{}, nil, nil)

	for _, n := range []uint64{0, 1, 2} {
		c.Push(checkpoint(n))
	}
	require.False(t, c.ShouldCommitEagerly(), "3 rows < MinEagerRows(4)")

	c.Push(checkpoint(3))
	require.True(t, c.ShouldCommitEagerly(), "4 rows >= MinEagerRows(4)")
}

func TestSequentialDrainsOnClosedInput(t *testing.T) {
	store := &fakeStore{}
	c := New[uint64, []uint64](Config{CheckpointLag: 0}.withDefaults(), testHandler(), store, nil, Watermark{}, nil, nil)
	require.True(t, c.Drained())

	c.Push(checkpoint(0))
	require.False(t, c.Drained())

	_, err := c.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, c.Drained())
}

// withDefaults fills in handler-independent defaults left zero in a
// test's literal Config, keeping test setup terse.
func (cfg Config) withDefaults() Config {
	if cfg.CollectInterval == 0 {
		cfg.CollectInterval = DefaultConfig().CollectInterval
	}
	if cfg.WarnPendingWatermarks == 0 {
		cfg.WarnPendingWatermarks = DefaultConfig().WarnPendingWatermarks
	}
	return cfg
}
