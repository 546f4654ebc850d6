// Copyright (C) 2024-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/luxfi/dagbft/archive"
	"github.com/luxfi/dagbft/block"
	"github.com/luxfi/dagbft/codec"
	"github.com/luxfi/dagbft/config"
	"github.com/luxfi/dagbft/ingestion"
	"github.com/luxfi/dagbft/sequential"
	"github.com/luxfi/log"
)

// memStore is a process-local archive.Store: plenty for devnet, which
// never leaves a single process.
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
		return nil, fmt.Errorf("devnet: not found: %s", path)
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

// sequencedCommit adapts a CommittedSubDag to ingestion.Sequenced.
type sequencedCommit struct {
	*block.CommittedSubDag
}

func (s *sequencedCommit) Sequence() uint64 { return s.CommitRef.Index }

// commitSource replays a precomputed, already-ordered slice of commits as
// both IR's stream source and its ingest (catch-up) source: devnet has no
// live peer, so "streaming" and "ingesting" read from the same backlog.
type commitSource struct {
	items []*sequencedCommit
	byIdx map[uint64]*sequencedCommit
	pos   int
}

func newCommitSource(subdags []*block.CommittedSubDag) *commitSource {
	items := make([]*sequencedCommit, len(subdags))
	byIdx := make(map[uint64]*sequencedCommit, len(subdags))
	for i, sd := range subdags {
		sc := &sequencedCommit{sd}
		items[i] = sc
		byIdx[sc.Sequence()] = sc
	}
	return &commitSource{items: items, byIdx: byIdx}
}

func (c *commitSource) StartStreaming(context.Context) error {
	c.pos = 0
	return nil
}

func (c *commitSource) NextItem(ctx context.Context) (*sequencedCommit, error) {
	if c.pos < len(c.items) {
		item := c.items[c.pos]
		c.pos++
		return item, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *commitSource) Fetch(_ context.Context, seq uint64) (*sequencedCommit, error) {
	item, ok := c.byIdx[seq]
	if !ok {
		return nil, fmt.Errorf("devnet: no commit at sequence %d", seq)
	}
	return item, nil
}

// archiveBatch buffers exactly one checkpoint's worth of committed
// sub-dags, since Handler.MaxBatchCheckpoints is fixed at 1 below.
type archiveBatch struct {
	subdags []*block.CommittedSubDag
}

// commitSummary and commitContents are the codec-serialized shapes a
// summary/contents record pair carries for one committed sub-dag.
type commitSummary struct {
	Index       uint64
	LeaderRound block.Round
	LeaderAuth  block.AuthorityIndex
	NumBlocks   int
	TimestampMs int64
}

type commitContents struct {
	Index  uint64
	Blocks []block.Digest
}

// archiveStore adapts archive.Writer to sequential.Store.
type archiveStore struct {
	writer *archive.Writer
}

func (a *archiveStore) CommitBatch(ctx context.Context, _ string, batch *archiveBatch, _ sequential.Watermark) (int, error) {
	affected := 0
	for _, sd := range batch.subdags {
		summary := commitSummary{
			Index:       sd.CommitRef.Index,
			LeaderRound: sd.Leader.Round,
			LeaderAuth:  sd.Leader.Author,
			NumBlocks:   len(sd.Blocks),
			TimestampMs: sd.TimestampMs,
		}
		digests := make([]block.Digest, len(sd.Blocks))
		for i, vb := range sd.Blocks {
			digests[i] = vb.Digest()
		}
		contents := commitContents{Index: sd.CommitRef.Index, Blocks: digests}

		summaryBytes, err := codec.Codec.Marshal(codec.CurrentVersion, summary)
		if err != nil {
			return affected, fmt.Errorf("devnet: encode commit summary: %w", err)
		}
		contentsBytes, err := codec.Codec.Marshal(codec.CurrentVersion, contents)
		if err != nil {
			return affected, fmt.Errorf("devnet: encode commit contents: %w", err)
		}
		if err := a.writer.Append(ctx, sd.CommitRef.Index-1, summaryBytes, contentsBytes); err != nil {
			return affected, err
		}
		affected++
	}
	return affected, nil
}

// recordingTarget counts the entries an archive.Reader applies, to confirm
// the written archive round-trips.
type recordingTarget struct {
	summaries int
	contents  int
	highest   uint64
}

func (t *recordingTarget) InsertSummary([]byte) error { t.summaries++; return nil }
func (t *recordingTarget) InsertContents([]byte) error { t.contents++; return nil }
func (t *recordingTarget) AdvanceHighestSynced(seq uint64) {
	if seq+1 > t.highest {
		t.highest = seq + 1
	}
}

// runArchivePipeline drains subdags through the ingestion regulator and
// sequential committer into an archive writer, then reloads and verifies
// what was written through an archive reader.
func runArchivePipeline(ctx context.Context, p config.Parameters, subdags []*block.CommittedSubDag, logger log.Logger, out io.Writer) error {
	if len(subdags) == 0 {
		fmt.Fprintln(out, "no committed sub-dags to archive")
		return nil
	}

	store := newMemStore()
	writer := archive.NewWriter(store, p.ArchiveWriter, archive.Manifest{}, nil, logger)

	source := newCommitSource(subdags)
	ch := make(chan *sequencedCommit, len(subdags))
	reg := ingestion.New[*sequencedCommit](p.Ingestion, source, source, []ingestion.Subscriber[*sequencedCommit]{
		{Name: "archive", Ch: ch},
	}, nil, logger)

	handler := sequential.Handler[*block.CommittedSubDag, archiveBatch]{
		Name:                "archive",
		NewBatch:            func() *archiveBatch { return &archiveBatch{} },
		Merge:               func(b *archiveBatch, rows []*block.CommittedSubDag) { b.subdags = append(b.subdags, rows...) },
		MaxBatchCheckpoints: 1,
		MinEagerRows:        1,
	}
	committer := sequential.New[*block.CommittedSubDag, archiveBatch](p.Sequential, handler, &archiveStore{writer: writer}, reg, sequential.Watermark{}, nil, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = reg.Run(runCtx, 1, uint64(len(subdags))+1)
	}()

	delivered := 0
	for delivered < len(subdags) {
		item := <-ch
		committer.Push(sequential.IndexedCheckpoint[*block.CommittedSubDag]{
			Checkpoint: item.Sequence(),
			Rows:       []*block.CommittedSubDag{item.CommittedSubDag},
			Watermark:  sequential.Watermark{CheckpointHi: item.Sequence()},
		})
		for committer.CanProcessPending() {
			if _, err := committer.Tick(runCtx); err != nil {
				return fmt.Errorf("devnet: committing checkpoint: %w", err)
			}
		}
		delivered++
	}
	cancel()
	wg.Wait()
	if runErr != nil {
		return fmt.Errorf("devnet: ingestion regulator: %w", runErr)
	}

	if err := writer.Flush(context.Background()); err != nil {
		return fmt.Errorf("devnet: flushing archive writer: %w", err)
	}
	fmt.Fprintf(out, "archived %d committed sub-dags\n", delivered)

	reader := archive.NewReader(store, p.ArchiveReader, nil, logger)
	manifest, err := reader.LoadManifest(context.Background())
	if err != nil {
		return fmt.Errorf("devnet: loading manifest: %w", err)
	}
	pairs, err := manifest.PairedFiles()
	if err != nil {
		return fmt.Errorf("devnet: manifest pairing: %w", err)
	}
	if err := reader.VerifyFileConsistency(context.Background(), pairs); err != nil {
		return fmt.Errorf("devnet: verifying archive: %w", err)
	}

	target := &recordingTarget{}
	if err := reader.ReadRange(context.Background(), 0, uint64(len(subdags)), target, true); err != nil {
		return fmt.Errorf("devnet: reading back archive: %w", err)
	}
	fmt.Fprintf(out, "verified archive: %d file pairs, %d summaries read back, highest synced=%d\n",
		len(pairs), target.summaries, target.highest)
	return nil
}
