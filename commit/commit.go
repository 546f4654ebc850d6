// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package commit implements the BFT commit rule: deciding, round by round,
// whether each round's elected leader block is committed, and linearizing
// each committed leader's causal history into a deterministic, gap-free
// sequence of CommittedSubDags.
//
// A leader at round R gains support from the round R+1 blocks that include
// it as a parent-round ancestor. If support reaches quorum stake, R+2
// blocks that themselves reference at least validity stake worth of R+1
// supporters certify the leader. Certification reaching quorum stake
// directly commits the leader; a leader that never certifies is committed
// indirectly only if a later, directly-committed leader's causal history
// reaches it, and is otherwise permanently skipped once its round falls
// below the GC watermark.
package commit

import (
	"errors"
	"fmt"
	"sort"

	"github.com/luxfi/dagbft/block"
	"github.com/luxfi/dagbft/dagstate"
	"github.com/luxfi/dagbft/leaderschedule"
	"github.com/luxfi/log"
)

// ErrEmptyLinearization is the fatal-halt condition: a certified leader
// whose linearization produced zero blocks indicates a violated invariant
// upstream (the leader itself is always included), never a recoverable
// runtime condition.
var ErrEmptyLinearization = errors.New("commit: certified leader linearized to zero blocks")

// Decision is the outcome of evaluating one round's leader slot.
type Decision int

const (
	// Undecided means round R+2 has not yet been fully observed.
	Undecided Decision = iota
	// Committed means the leader directly certified.
	Committed
	// Skipped means round R+2 was fully observed and certification never
	// reached quorum; the leader may still commit indirectly later.
	Skipped
)

// Engine evaluates leader rounds and linearizes committed sub-DAGs. An
// Engine is not safe for concurrent use; callers serialize access (the
// teacher's single-writer convention for consensus state machines).
type Engine struct {
	committee *block.Committee
	dag       *dagstate.State
	schedule  *leaderschedule.Schedule
	epoch     uint64
	log       log.Logger

	committed map[block.BlockRef]bool
	skipped   map[block.Round]bool

	lastIndex  uint64
	lastDigest block.CommitDigest
	lastTsMs   int64
	gcRound    block.Round
}

// NewEngine builds a commit engine over a shared dagstate view.
func NewEngine(committee *block.Committee, dag *dagstate.State, schedule *leaderschedule.Schedule, epoch uint64, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Engine{
		committee: committee,
		dag:       dag,
		schedule:  schedule,
		epoch:     epoch,
		log:       logger,
		committed: make(map[block.BlockRef]bool),
		skipped:   make(map[block.Round]bool),
	}
}

// Evaluate decides the leader slot at round, given the current reputation
// table for leader-schedule fallback. It returns Undecided until round+2 is
// fully observed in the dag view.
func (e *Engine) Evaluate(round block.Round, rep leaderschedule.Reputation) (Decision, block.BlockRef, error) {
	if round < e.gcRound {
		return Skipped, block.BlockRef{}, nil
	}
	leaderAuthor, err := e.schedule.ElectLeader(e.epoch, round, 0, rep)
	if err != nil {
		return Undecided, block.BlockRef{}, err
	}

	leaderRefs := e.dag.UncommittedAtSlot(block.Slot{Round: round, Author: leaderAuthor})
	if len(leaderRefs) == 0 {
		if e.dag.MaxRound() >= round+2 {
			return Skipped, block.BlockRef{}, nil
		}
		return Undecided, block.BlockRef{}, nil
	}
	leader := chooseCanonical(leaderRefs)

	if e.dag.MaxRound() < round+2 {
		return Undecided, block.BlockRef{}, nil
	}

	supporters := e.supportersOf(leader, round+1)
	var supportStake uint64
	for _, s := range supporters {
		supportStake += e.committee.StakeOf(s.Author)
	}
	if supportStake < e.committee.Quorum() {
		return Skipped, leader, nil
	}

	supporterSet := make(map[block.BlockRef]bool, len(supporters))
	for _, s := range supporters {
		supporterSet[s] = true
	}

	var certStake uint64
	for _, r2 := range e.dag.RefsAtRound(round + 2) {
		var linkedSupportStake uint64
		vb, ok := e.dag.Get(r2)
		if !ok {
			continue
		}
		for _, a := range vb.Ancestors {
			if a.Round == round+1 && supporterSet[a] {
				linkedSupportStake += e.committee.StakeOf(a.Author)
			}
		}
		if linkedSupportStake >= e.committee.Validity() {
			certStake += e.committee.StakeOf(r2.Author)
		}
	}

	if certStake >= e.committee.Quorum() {
		return Committed, leader, nil
	}
	return Skipped, leader, nil
}

// supportersOf returns the round+1 blocks that include leader as a
// parent-round ancestor.
func (e *Engine) supportersOf(leader block.BlockRef, voteRound block.Round) []block.BlockRef {
	var out []block.BlockRef
	for _, ref := range e.dag.RefsAtRound(voteRound) {
		vb, ok := e.dag.Get(ref)
		if !ok {
			continue
		}
		for _, a := range vb.Ancestors {
			if a == leader {
				out = append(out, ref)
				break
			}
		}
	}
	return out
}

// chooseCanonical deterministically picks one block among equivocating
// candidates at the same slot: the lexicographically smallest digest, so
// every honest authority resolves the tie identically.
func chooseCanonical(refs []block.BlockRef) block.BlockRef {
	best := refs[0]
	for _, r := range refs[1:] {
		if r.Less(best) {
			best = r
		}
	}
	return best
}

// Commit finalizes a directly-committed leader: linearizes its causal
// history (backward DFS, stopping at already-committed or GC'd blocks),
// marks every visited block committed, and returns the new CommittedSubDag.
// It also performs indirect commit for any earlier Skipped rounds the
// leader's history reaches, in round order, before committing leader
// itself.
func (e *Engine) Commit(leader block.BlockRef) ([]*block.CommittedSubDag, error) {
	var subdags []*block.CommittedSubDag

	pendingLeaders := e.reachableSkippedLeaders(leader)
	pendingLeaders = append(pendingLeaders, leader)

	for _, l := range pendingLeaders {
		sub, err := e.linearize(l)
		if err != nil {
			return nil, err
		}
		subdags = append(subdags, sub)
	}
	return subdags, nil
}

// reachableSkippedLeaders finds prior Skipped leader rounds reachable from
// leader via ancestor links, in ascending round order, for indirect commit.
func (e *Engine) reachableSkippedLeaders(leader block.BlockRef) []block.BlockRef {
	var out []block.BlockRef
	for round := range e.skipped {
		if round >= leader.Round {
			continue
		}
		// The slot's author is the round's offset-0 leader, elected with no
		// reputation table.
		leaderAuthor, err := e.schedule.ElectLeader(e.epoch, round, 0, nil)
		if err != nil {
			continue
		}
		// A skipped round's leader slot may hold more than one candidate
		// under equivocation; any one reachable from leader qualifies.
		for _, ref := range e.dag.UncommittedAtSlot(block.Slot{Round: round, Author: leaderAuthor}) {
			if e.committed[ref] {
				continue
			}
			if e.dag.IsReachable(leader, ref) {
				out = append(out, ref)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round < out[j].Round })
	return out
}

// linearize performs the backward DFS from leader, producing a
// deterministically ordered CommittedSubDag and marking every visited
// block committed.
func (e *Engine) linearize(leader block.BlockRef) (*block.CommittedSubDag, error) {
	visited := map[block.BlockRef]bool{}
	var order []block.BlockRef

	var visit func(ref block.BlockRef)
	visit = func(ref block.BlockRef) {
		if visited[ref] || e.committed[ref] {
			return
		}
		visited[ref] = true
		vb, ok := e.dag.Get(ref)
		if !ok {
			return
		}
		for _, a := range vb.Ancestors {
			visit(a)
		}
		order = append(order, ref)
	}
	visit(leader)

	if len(order) == 0 {
		return nil, fmt.Errorf("%w: leader %s", ErrEmptyLinearization, leader)
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Less(order[j]) })

	blocks := make([]block.VerifiedBlock, 0, len(order))
	maxTs := int64(0)
	for _, ref := range order {
		vb, ok := e.dag.Get(ref)
		if !ok {
			continue
		}
		blocks = append(blocks, vb)
		if vb.TimestampMs > maxTs {
			maxTs = vb.TimestampMs
		}
		e.committed[ref] = true
	}
	delete(e.skipped, leader.Round)

	if leaderBlock, ok := e.dag.Get(leader); ok && leaderBlock.TimestampMs > maxTs {
		maxTs = leaderBlock.TimestampMs
	}
	if maxTs < e.lastTsMs {
		maxTs = e.lastTsMs
	}

	idx := e.lastIndex + 1
	c := &block.Commit{
		Index:          idx,
		Leader:         leader,
		TimestampMs:    maxTs,
		Included:       order,
		PreviousDigest: e.lastDigest,
	}
	c.SetDigest(commitDigest(c))

	e.lastIndex = idx
	e.lastDigest = c.Digest()
	e.lastTsMs = maxTs

	return &block.CommittedSubDag{
		Leader:      leader,
		Blocks:      blocks,
		TimestampMs: maxTs,
		CommitRef:   c.Reference(),
	}, nil
}

// MarkSkipped records a skipped leader round for later indirect-commit
// resolution.
func (e *Engine) MarkSkipped(round block.Round) {
	e.skipped[round] = true
}

// GC advances the GC watermark, after which rounds below it are never
// decided and any still-Skipped round below it is permanently unresolved.
func (e *Engine) GC(belowRound block.Round) {
	e.gcRound = belowRound
	for round := range e.skipped {
		if round < belowRound {
			delete(e.skipped, round)
		}
	}
}

// commitDigest derives a commit record's content digest from its fields.
func commitDigest(c *block.Commit) block.CommitDigest {
	var d block.Digest
	d[0] = byte(c.Index)
	d[1] = byte(c.Index >> 8)
	copy(d[2:10], c.Leader.Digest[:8])
	return d
}
