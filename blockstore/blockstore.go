// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blockstore is the content-addressed, append-only durable store
// for verified blocks. It is the single source of truth BV, DS, CE and the
// archive writer read from and write through; every accepted block passes
// through here exactly once.
package blockstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/dagbft/block"
	"github.com/luxfi/database"
	"github.com/luxfi/log"
)

// ErrDigestMismatch is returned by Put when a second block is written for a
// (round, author, digest) key whose bytes differ from the first — the only
// shape of corruption or bug BS actively guards against.
var ErrDigestMismatch = errors.New("blockstore: digest mismatch for existing key")

// ErrNotFound is returned by Get/GetMany for references BS has never seen or
// has already garbage collected.
var ErrNotFound = errors.New("blockstore: block not found")

// Store is the durable, content-addressed block store. A Store is safe for
// concurrent use; Put is idempotent and every Get observes the effects of
// every Put that returned before it started (monotone reads).
type Store struct {
	db  database.Database
	log log.Logger

	mu      sync.RWMutex
	bySlot  map[block.Slot][]block.BlockRef
	gcBelow block.Round
}

// New wraps a durable KV handle as a block store. db should be a namespaced
// prefix database.Database dedicated to blocks, per the teacher's
// per-component database partitioning convention.
func New(db database.Database, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Store{
		db:     db,
		log:    logger,
		bySlot: make(map[block.Slot][]block.BlockRef),
	}
}

// Put durably stores a verified block, indexed by its BlockRef. Writing the
// same ref twice with identical bytes is a no-op; writing the same ref with
// different bytes is ErrDigestMismatch — it indicates a bug upstream, since
// BV must never re-verify and re-store a ref it already emitted differently.
func (s *Store) Put(vb block.VerifiedBlock) error {
	ref := vb.Reference()
	if ref.Round < s.gcRound() {
		return nil
	}
	key := encodeKey(ref)
	val, err := encodeBlock(vb.Block)
	if err != nil {
		return fmt.Errorf("blockstore: encode %s: %w", ref, err)
	}

	existing, err := s.db.Get(key)
	if err == nil {
		if !bytesEqual(existing, val) {
			return fmt.Errorf("%w: %s", ErrDigestMismatch, ref)
		}
		return nil
	}

	if err := s.db.Put(key, val); err != nil {
		return fmt.Errorf("blockstore: put %s: %w", ref, err)
	}

	s.mu.Lock()
	slot := ref.Slot()
	s.bySlot[slot] = appendUnique(s.bySlot[slot], ref)
	s.mu.Unlock()

	s.log.Debug("stored block", "ref", ref.String())
	return nil
}

// Get returns the verified block for ref, or ErrNotFound.
func (s *Store) Get(ref block.BlockRef) (block.VerifiedBlock, error) {
	raw, err := s.db.Get(encodeKey(ref))
	if err != nil {
		return block.VerifiedBlock{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	b, err := decodeBlock(raw)
	if err != nil {
		return block.VerifiedBlock{}, fmt.Errorf("blockstore: decode %s: %w", ref, err)
	}
	b.SetDigest(ref.Digest)
	return block.NewVerifiedBlock(b), nil
}

// GetMany fetches a batch of references, failing entirely if any are
// missing — callers (CE's linearizer, the archive writer) always need the
// whole set or none of it.
func (s *Store) GetMany(refs []block.BlockRef) ([]block.VerifiedBlock, error) {
	out := make([]block.VerifiedBlock, 0, len(refs))
	for _, r := range refs {
		vb, err := s.Get(r)
		if err != nil {
			return nil, err
		}
		out = append(out, vb)
	}
	return out, nil
}

// RangeBySlot returns every known block reference for a (round, author)
// slot — normally one, more than one only under equivocation.
func (s *Store) RangeBySlot(slot block.Slot) []block.BlockRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.bySlot[slot]
	out := make([]block.BlockRef, len(refs))
	copy(out, refs)
	return out
}

// GC drops the in-memory slot index below belowRound and raises the store's
// GC watermark, so that future Puts for already-GC'd rounds are silently
// ignored. The durable KV rows for old blocks are left for the archive
// writer to consume before a separate compaction pass removes them; BS
// itself only needs to stop answering slot queries for GC'd rounds.
func (s *Store) GC(belowRound block.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if belowRound <= s.gcBelow {
		return
	}
	s.gcBelow = belowRound
	for slot := range s.bySlot {
		if slot.Round < belowRound {
			delete(s.bySlot, slot)
		}
	}
}

func (s *Store) gcRound() block.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gcBelow
}

func appendUnique(refs []block.BlockRef, ref block.BlockRef) []block.BlockRef {
	for _, r := range refs {
		if r == ref {
			return refs
		}
	}
	return append(refs, ref)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// encodeKey produces the durable-store key for a block reference:
// round (8 bytes, big-endian so keys sort by round) || author (4 bytes) ||
// digest (32 bytes).
func encodeKey(ref block.BlockRef) []byte {
	key := make([]byte, 8+4+32)
	binary.BigEndian.PutUint64(key[0:8], uint64(ref.Round))
	binary.BigEndian.PutUint32(key[8:12], uint32(ref.Author))
	copy(key[12:], ref.Digest[:])
	return key
}
