// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package archive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (s *memStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return v, nil
}

func (s *memStore) Put(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = data
	return nil
}

func (s *memStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, path)
	return nil
}

type recordingTarget struct {
	summaries [][]byte
	contents  [][]byte
	hi        uint64
}

func (t *recordingTarget) InsertSummary(raw []byte) error {
	t.summaries = append(t.summaries, append([]byte(nil), raw...))
	return nil
}

func (t *recordingTarget) InsertContents(raw []byte) error {
	t.contents = append(t.contents, append([]byte(nil), raw...))
	return nil
}

func (t *recordingTarget) AdvanceHighestSynced(seq uint64) { t.hi = seq }

func TestArchiveRoundTrip(t *testing.T) {
	store := newMemStore()
	writer := NewWriter(store, WriterConfig{CheckpointsPerFile: 4}, Manifest{}, nil, nil)

	ctx := context.Background()
	const n = 10
	for i := uint64(0); i < n; i++ {
		summary := []byte(fmt.Sprintf("summary-%d", i))
		contents := []byte(fmt.Sprintf("contents-%d", i))
		require.NoError(t, writer.Append(ctx, i, summary, contents))
	}
	require.NoError(t, writer.Flush(ctx))

	manifestBytes, err := store.Get(ctx, "MANIFEST")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "MANIFEST", manifestBytes))

	reader := NewReader(store, ReaderConfig{DownloadConcurrency: 2}, nil, nil)
	latest, err := reader.LatestAvailableCheckpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(n), latest)

	target := &recordingTarget{}
	require.NoError(t, reader.ReadRange(ctx, 0, n, target, false))

	require.Len(t, target.summaries, n)
	require.Len(t, target.contents, n)
	require.Equal(t, uint64(n-1), target.hi)
	for i := uint64(0); i < n; i++ {
		require.Equal(t, fmt.Sprintf("summary-%d", i), string(target.summaries[i]))
		require.Equal(t, fmt.Sprintf("contents-%d", i), string(target.contents[i]))
	}
}

func TestArchivePartialRangeRead(t *testing.T) {
	store := newMemStore()
	writer := NewWriter(store, WriterConfig{CheckpointsPerFile: 5}, Manifest{}, nil, nil)
	ctx := context.Background()
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, writer.Append(ctx, i, []byte{byte(i)}, []byte{byte(i)}))
	}
	require.NoError(t, writer.Flush(ctx))

	reader := NewReader(store, ReaderConfig{}, nil, nil)
	target := &recordingTarget{}
	require.NoError(t, reader.ReadRange(ctx, 3, 7, target, false))
	require.Len(t, target.summaries, 4)
	require.Equal(t, uint64(6), target.hi)
}

func TestArchiveVerifyDetectsCorruption(t *testing.T) {
	store := newMemStore()
	writer := NewWriter(store, WriterConfig{CheckpointsPerFile: 2}, Manifest{}, nil, nil)
	ctx := context.Background()
	for i := uint64(0); i < 2; i++ {
		require.NoError(t, writer.Append(ctx, i, []byte("s"), []byte("c")))
	}
	require.NoError(t, writer.Flush(ctx))

	manifest, err := NewReader(store, ReaderConfig{}, nil, nil).LoadManifest(ctx)
	require.NoError(t, err)
	pairs, err := manifest.PairedFiles()
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, pairs[0].Summary.Path, []byte("tampered")))

	reader := NewReader(store, ReaderConfig{}, nil, nil)
	target := &recordingTarget{}
	err = reader.ReadRange(ctx, 0, 2, target, false)
	require.Error(t, err)
}

func TestManifestPairedFilesDetectsGap(t *testing.T) {
	m := Manifest{Files: []FileMetadata{
		{Type: FileTypeSummary, SeqRange: SeqRange{Start: 0, End: 5}, Path: "s0"},
		{Type: FileTypeContents, SeqRange: SeqRange{Start: 0, End: 5}, Path: "c0"},
		{Type: FileTypeSummary, SeqRange: SeqRange{Start: 6, End: 10}, Path: "s1"},
		{Type: FileTypeContents, SeqRange: SeqRange{Start: 6, End: 10}, Path: "c1"},
	}}
	_, err := m.PairedFiles()
	require.ErrorIs(t, err, ErrGap)
}

func TestManifestPairedFilesEmpty(t *testing.T) {
	_, err := (Manifest{}).PairedFiles()
	require.ErrorIs(t, err, ErrEmptyManifest)
}

func TestBalancerPruningWatermark(t *testing.T) {
	storeA := newMemStore()
	storeB := newMemStore()
	ctx := context.Background()

	wA := NewWriter(storeA, WriterConfig{CheckpointsPerFile: 5}, Manifest{}, nil, nil)
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, wA.Append(ctx, i, []byte{byte(i)}, []byte{byte(i)}))
	}
	require.NoError(t, wA.Flush(ctx))

	wB := NewWriter(storeB, WriterConfig{CheckpointsPerFile: 5}, Manifest{}, nil, nil)
	for i := uint64(0); i < 5; i++ {
		require.NoError(t, wB.Append(ctx, i, []byte{byte(i)}, []byte{byte(i)}))
	}
	require.NoError(t, wB.Flush(ctx))

	readerA := NewReader(storeA, ReaderConfig{UseForPruningWatermark: true, Bucket: "a"}, nil, nil)
	readerB := NewReader(storeB, ReaderConfig{UseForPruningWatermark: true, Bucket: "b"}, nil, nil)
	balancer, err := NewBalancer([]*Reader{readerA, readerB}, 1)
	require.NoError(t, err)

	watermark, err := balancer.PruningWatermark(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), watermark)

	latest, err := balancer.LatestAvailableCheckpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), latest)
}
