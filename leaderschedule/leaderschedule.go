// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package leaderschedule deterministically elects each round's leader
// authority from the committee's stake distribution. Every correct
// authority computes the same leader for a given (epoch, round) without
// communication: the schedule is a pure function seeded only by
// (epoch, round), never by wall-clock time or local state.
package leaderschedule

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/luxfi/dagbft/block"
	"github.com/luxfi/dagbft/utils/sampler"
)

// Reputation tracks a rolling per-authority score used to build the swap
// table: authorities below the low-reputation cutoff are the first
// candidates swapped out of an elected slot.
type Reputation map[block.AuthorityIndex]int64

// Schedule elects leaders for a fixed committee, swapping out the lowest
// reputation authorities first when a round's elected leader needs
// substitution (e.g. after repeated timeouts).
type Schedule struct {
	committee  *block.Committee
	swapWindow int
}

// New builds a leader schedule over committee. swapWindow bounds the
// low-reputation suffix eligible for swap-table substitution; 0 disables
// swapping entirely.
func New(committee *block.Committee, swapWindow int) *Schedule {
	return &Schedule{committee: committee, swapWindow: swapWindow}
}

// ElectLeader returns the leader authority for (epoch, round), with
// reputation-ordered swap-table substitution applied to the whole sampled
// order, so it can replace the primary leader (offset 0) as well as the
// fallback leaders (offset 1, 2, ..., tried in order when the primary's
// block never certifies).
func (sch *Schedule) ElectLeader(epoch uint64, round block.Round, offset int, rep Reputation) (block.AuthorityIndex, error) {
	n := sch.committee.Size()
	if n == 0 {
		return 0, fmt.Errorf("leaderschedule: empty committee")
	}

	weights := make([]uint64, n)
	for i, a := range sch.committee.Authorities() {
		weights[i] = a.Stake
	}

	src := sampler.NewSource(seedFor(epoch, round))
	w := sampler.NewWeightedWithoutReplacement(src)
	if err := w.Initialize(weights); err != nil {
		return 0, fmt.Errorf("leaderschedule: %w", err)
	}

	order, ok := w.Sample(n)
	if !ok {
		return 0, fmt.Errorf("leaderschedule: sampling failed for epoch=%d round=%d", epoch, round)
	}
	order = applySwapTable(order, sch.committee, rep, sch.swapWindow)

	idx := offset % n
	return block.AuthorityIndex(order[idx]), nil
}

// seedFor derives a deterministic int64 seed from (epoch, round) alone, so
// every correct authority computes the identical leader sequence without
// relying on wall-clock time.
func seedFor(epoch uint64, round block.Round) int64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], epoch)
	binary.BigEndian.PutUint64(buf[8:16], uint64(round))
	h := sha256.Sum256(buf[:])
	return int64(binary.BigEndian.Uint64(h[:8]))
}

// applySwapTable moves the swapWindow lowest-reputation authorities in the
// sampled order to the back, highest reputation first among them, so a
// Byzantine or consistently-timed-out
// leader is deprioritized across fallback offsets without affecting the
// primary leader's determinism when reputations are equal.
func applySwapTable(order []int, committee *block.Committee, rep Reputation, swapWindow int) []int {
	if swapWindow <= 0 || len(order) <= 1 {
		return order
	}

	lowRep := make(map[int]bool, swapWindow)
	type scored struct {
		idx   int
		score int64
	}
	scores := make([]scored, len(order))
	for i, idx := range order {
		scores[i] = scored{idx: idx, score: rep[block.AuthorityIndex(idx)]}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score < scores[j].score })
	limit := swapWindow
	if limit > len(scores) {
		limit = len(scores)
	}
	for i := 0; i < limit; i++ {
		lowRep[scores[i].idx] = true
	}

	head := make([]int, 0, len(order))
	tail := make([]int, 0, limit)
	for _, idx := range order {
		if lowRep[idx] {
			tail = append(tail, idx)
		} else {
			head = append(head, idx)
		}
	}
	sort.SliceStable(tail, func(i, j int) bool {
		return rep[block.AuthorityIndex(tail[i])] > rep[block.AuthorityIndex(tail[j])]
	})
	return append(head, tail...)
}
