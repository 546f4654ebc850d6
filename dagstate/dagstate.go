// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dagstate holds the in-memory view of recently-accepted blocks
// that CE walks to evaluate leader support and certification, and that BV
// consults to choose parents for new proposals. Blocks older than the GC
// watermark are dropped from this view; durable history lives in
// blockstore.
package dagstate

import (
	"fmt"
	"sync"

	"github.com/luxfi/dagbft/block"
	"github.com/luxfi/log"
)

// State is the mutable recent-rounds DAG view. A State is safe for
// concurrent use.
type State struct {
	log log.Logger

	mu       sync.RWMutex
	blocks   map[block.BlockRef]block.VerifiedBlock
	bySlot   map[block.Slot][]block.BlockRef
	children map[block.BlockRef][]block.BlockRef
	pending  map[block.BlockRef]block.VerifiedBlock // accepted but missing an ancestor
	waitingOn map[block.BlockRef][]block.BlockRef   // ancestor ref -> refs of pending blocks it unblocks
	gcRound  block.Round
	maxRound block.Round
}

// New creates an empty DAG view seeded with genesis blocks.
func New(genesis []block.VerifiedBlock, logger log.Logger) *State {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	s := &State{
		log:       logger,
		blocks:    make(map[block.BlockRef]block.VerifiedBlock),
		bySlot:    make(map[block.Slot][]block.BlockRef),
		children:  make(map[block.BlockRef][]block.BlockRef),
		pending:   make(map[block.BlockRef]block.VerifiedBlock),
		waitingOn: make(map[block.BlockRef][]block.BlockRef),
	}
	for _, g := range genesis {
		s.insert(g)
	}
	return s
}

// Accept admits a verified block into the view. If one or more of its
// ancestors are unknown, the block is buffered in the pending set and
// admitted automatically once the missing ancestors arrive. Accept is
// idempotent on a block's reference.
func (s *State) Accept(vb block.VerifiedBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acceptLocked(vb)
}

func (s *State) acceptLocked(vb block.VerifiedBlock) {
	ref := vb.Reference()
	if ref.Round < s.gcRound {
		return
	}
	if _, ok := s.blocks[ref]; ok {
		return
	}
	if _, ok := s.pending[ref]; ok {
		return
	}

	var missing []block.BlockRef
	for _, a := range vb.Ancestors {
		if _, ok := s.blocks[a]; !ok {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		s.pending[ref] = vb
		for _, m := range missing {
			s.waitingOn[m] = append(s.waitingOn[m], ref)
		}
		return
	}

	s.insert(vb)
	s.resolveWaiters(ref)
}

// insert admits a block whose ancestors are all already known.
func (s *State) insert(vb block.VerifiedBlock) {
	ref := vb.Reference()
	s.blocks[ref] = vb
	s.bySlot[ref.Slot()] = append(s.bySlot[ref.Slot()], ref)
	for _, a := range vb.Ancestors {
		s.children[a] = append(s.children[a], ref)
	}
	if ref.Round > s.maxRound {
		s.maxRound = ref.Round
	}
}

// resolveWaiters admits any pending block whose last missing ancestor was
// just ref, recursively.
func (s *State) resolveWaiters(ref block.BlockRef) {
	waiters := s.waitingOn[ref]
	delete(s.waitingOn, ref)
	for _, w := range waiters {
		vb, ok := s.pending[w]
		if !ok {
			continue
		}
		ready := true
		for _, a := range vb.Ancestors {
			if _, ok := s.blocks[a]; !ok {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		delete(s.pending, w)
		s.insert(vb)
		s.resolveWaiters(w)
	}
}

// Get returns an accepted block by reference.
func (s *State) Get(ref block.BlockRef) (block.VerifiedBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vb, ok := s.blocks[ref]
	return vb, ok
}

// IsPending reports whether ref has been Accept()-ed but is still waiting
// on unresolved ancestors.
func (s *State) IsPending(ref block.BlockRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[ref]
	return ok
}

// MaxRound returns the highest round of any accepted (non-pending) block.
func (s *State) MaxRound() block.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxRound
}

// UncommittedAtSlot returns every accepted block reference at a slot; more
// than one indicates equivocation.
func (s *State) UncommittedAtSlot(slot block.Slot) []block.BlockRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := s.bySlot[slot]
	out := make([]block.BlockRef, len(refs))
	copy(out, refs)
	return out
}

// RefsAtRound returns every accepted block reference at round, across all
// authorities.
func (s *State) RefsAtRound(round block.Round) []block.BlockRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []block.BlockRef
	for ref := range s.blocks {
		if ref.Round == round {
			out = append(out, ref)
		}
	}
	return out
}

// AncestorsAt walks backward from from to the frontier of blocks at
// targetRound reachable through from's ancestor links (direct parent links
// and weak links alike). It returns an error if from is unknown or if
// targetRound is not strictly below from's round.
func (s *State) AncestorsAt(from block.BlockRef, targetRound block.Round) ([]block.BlockRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, ok := s.blocks[from]
	if !ok {
		return nil, fmt.Errorf("dagstate: unknown block %s", from)
	}
	if targetRound >= from.Round {
		return nil, fmt.Errorf("dagstate: target round %d not below %s", targetRound, from)
	}

	seen := map[block.BlockRef]bool{from: true}
	frontier := map[block.BlockRef]bool{}
	queue := []block.VerifiedBlock{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.Round == targetRound {
			frontier[cur.Reference()] = true
			continue
		}
		if cur.Round < targetRound {
			continue
		}
		for _, a := range cur.Ancestors {
			if seen[a] {
				continue
			}
			seen[a] = true
			if ab, ok := s.blocks[a]; ok {
				queue = append(queue, ab)
			}
		}
	}

	out := make([]block.BlockRef, 0, len(frontier))
	for r := range frontier {
		out = append(out, r)
	}
	return out, nil
}

// IsReachable reports whether to is an ancestor of from, walking ancestor
// links backward. Grounded on the forward-reachability BFS the teacher uses
// for DAG order theory, adapted to DS's backward-linked block graph.
func (s *State) IsReachable(from, to block.BlockRef) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from == to {
		return true
	}
	visited := map[block.BlockRef]bool{from: true}
	queue := []block.BlockRef{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		vb, ok := s.blocks[cur]
		if !ok {
			continue
		}
		for _, a := range vb.Ancestors {
			if a == to {
				return true
			}
			if !visited[a] {
				visited[a] = true
				queue = append(queue, a)
			}
		}
	}
	return false
}

// LCA returns the lowest common ancestor of a and b, i.e. the reachable
// common ancestor of greatest round. It returns false if a and b share no
// known common ancestor in the retained view.
func (s *State) LCA(a, b block.BlockRef) (block.BlockRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ancestorsOf := func(start block.BlockRef) map[block.BlockRef]block.Round {
		out := map[block.BlockRef]block.Round{}
		visited := map[block.BlockRef]bool{}
		queue := []block.BlockRef{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if visited[cur] {
				continue
			}
			visited[cur] = true
			vb, ok := s.blocks[cur]
			if !ok {
				continue
			}
			out[cur] = vb.Round
			for _, p := range vb.Ancestors {
				if !visited[p] {
					queue = append(queue, p)
				}
			}
		}
		return out
	}

	ancestorsA := ancestorsOf(a)
	var best block.BlockRef
	var bestRound block.Round
	found := false
	for ref, round := range ancestorsOf(b) {
		if r, ok := ancestorsA[ref]; ok {
			_ = r
			if !found || round > bestRound {
				best, bestRound, found = ref, round, true
			}
		}
	}
	return best, found
}

// GC drops accepted blocks (and any still-pending entries) strictly below
// belowRound from the view.
func (s *State) GC(belowRound block.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if belowRound <= s.gcRound {
		return
	}
	s.gcRound = belowRound
	for ref := range s.blocks {
		if ref.Round < belowRound {
			delete(s.blocks, ref)
			delete(s.children, ref)
			slot := ref.Slot()
			s.bySlot[slot] = removeRef(s.bySlot[slot], ref)
			if len(s.bySlot[slot]) == 0 {
				delete(s.bySlot, slot)
			}
		}
	}
	for ref := range s.pending {
		if ref.Round < belowRound {
			delete(s.pending, ref)
		}
	}
	for ref := range s.waitingOn {
		if ref.Round < belowRound {
			delete(s.waitingOn, ref)
		}
	}
}

func removeRef(refs []block.BlockRef, target block.BlockRef) []block.BlockRef {
	out := refs[:0]
	for _, r := range refs {
		if r != target {
			out = append(out, r)
		}
	}
	return out
}
