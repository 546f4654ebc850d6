// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package archive

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/log"
)

// Writer accumulates committed checkpoints into summary/contents record
// buffers and flushes them as a new (summary, contents) file pair once a
// threshold is reached, appending the pair to the manifest.
type Writer struct {
	mu      sync.Mutex
	store   Store
	cfg     WriterConfig
	metrics *WriterMetrics
	log     log.Logger

	manifest      Manifest
	pendingStart  uint64
	nextSeq       uint64
	summaries     [][]byte
	contents      [][]byte
}

// WriterConfig bounds how many checkpoints accumulate before a pair is
// flushed to the store.
type WriterConfig struct {
	ManifestPath        string
	CheckpointsPerFile  uint64
}

// NewWriter builds a Writer starting from the given manifest (pass an
// empty Manifest to start a fresh archive at checkpoint 0).
func NewWriter(store Store, cfg WriterConfig, manifest Manifest, metrics *WriterMetrics, logger log.Logger) *Writer {
	if cfg.ManifestPath == "" {
		cfg.ManifestPath = "MANIFEST"
	}
	if cfg.CheckpointsPerFile == 0 {
		cfg.CheckpointsPerFile = 1000
	}
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if metrics == nil {
		metrics = NewWriterMetrics(nil)
	}
	next := uint64(0)
	if pairs, err := manifest.PairedFiles(); err == nil {
		next = pairs[len(pairs)-1].Summary.SeqRange.End
	}
	return &Writer{
		store:        store,
		cfg:          cfg,
		metrics:      metrics,
		log:          logger,
		manifest:     manifest,
		pendingStart: next,
		nextSeq:      next,
	}
}

// NextSequence returns the next checkpoint sequence this writer expects.
func (w *Writer) NextSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}

// Append buffers one checkpoint's already-encoded summary and contents
// records, flushing a new file pair to the store once CheckpointsPerFile
// have accumulated. seq must equal NextSequence(), enforcing the archive's
// no-gap invariant at write time rather than only at read time.
func (w *Writer) Append(ctx context.Context, seq uint64, summaryRecord, contentsRecord []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if seq != w.nextSeq {
		return fmt.Errorf("archive: writer expected checkpoint %d, got %d", w.nextSeq, seq)
	}
	w.summaries = append(w.summaries, summaryRecord)
	w.contents = append(w.contents, contentsRecord)
	w.nextSeq++
	w.metrics.checkpointsWritten.Inc()

	if uint64(len(w.summaries)) < w.cfg.CheckpointsPerFile {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush forces a partial buffer out as a file pair, for use at shutdown so
// no committed checkpoint is left unarchived.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.summaries) == 0 {
		return nil
	}
	return w.flushLocked(ctx)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	rng := SeqRange{Start: w.pendingStart, End: w.nextSeq}
	summaryBytes := encodeRecords(SummaryMagic, w.summaries)
	contentsBytes := encodeRecords(ContentsMagic, w.contents)

	summaryPath := fmt.Sprintf("summaries/%020d-%020d", rng.Start, rng.End)
	contentsPath := fmt.Sprintf("contents/%020d-%020d", rng.Start, rng.End)

	if err := w.store.Put(ctx, summaryPath, summaryBytes); err != nil {
		return fmt.Errorf("archive: write %s: %w", summaryPath, err)
	}
	if err := w.store.Put(ctx, contentsPath, contentsBytes); err != nil {
		return fmt.Errorf("archive: write %s: %w", contentsPath, err)
	}

	w.manifest.Files = append(w.manifest.Files,
		FileMetadata{Type: FileTypeSummary, SeqRange: rng, Sha3Digest: ComputeSha3(summaryBytes), Path: summaryPath},
		FileMetadata{Type: FileTypeContents, SeqRange: rng, Sha3Digest: ComputeSha3(contentsBytes), Path: contentsPath},
	)
	manifestBytes, err := encodeManifest(w.manifest)
	if err != nil {
		return fmt.Errorf("archive: encode manifest: %w", err)
	}
	if err := w.store.Put(ctx, w.cfg.ManifestPath, manifestBytes); err != nil {
		return fmt.Errorf("archive: write manifest: %w", err)
	}

	w.log.Info("archive: flushed file pair", "start", rng.Start, "end", rng.End)
	w.metrics.filesFlushed.Inc()
	w.pendingStart = w.nextSeq
	w.summaries = nil
	w.contents = nil
	return nil
}
