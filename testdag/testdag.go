// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package testdag builds synthetic, deterministic DAGs for tests of
// dagstate and commit: fully-connected layers by default, with knobs to
// produce the adversarial shapes property tests need (missing leader
// blocks, missing leader links, equivocation, skipped proposals, minimally
// connected rounds).
package testdag

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sort"

	"github.com/luxfi/dagbft/block"
	"github.com/luxfi/dagbft/dagstate"
	"github.com/luxfi/dagbft/leaderschedule"
)

// Builder accumulates rounds of a synthetic DAG over a fixed committee.
// Not safe for concurrent use; tests drive it from a single goroutine.
type Builder struct {
	committee *block.Committee
	schedule  *leaderschedule.Schedule
	epoch     uint64

	genesis       []block.BlockRef
	lastAncestors []block.BlockRef
	blocks        map[block.BlockRef]block.VerifiedBlock
	byRound       map[block.Round][]block.BlockRef
}

// New builds a Builder seeded with one genesis block per authority.
func New(committee *block.Committee, epoch uint64, swapWindow int) *Builder {
	genesisBlocks := block.GenesisBlocks(committee)
	genesis := make([]block.BlockRef, len(genesisBlocks))
	blocks := make(map[block.BlockRef]block.VerifiedBlock, len(genesisBlocks))
	for i, g := range genesisBlocks {
		genesis[i] = g.Reference()
		blocks[g.Reference()] = g
	}
	return &Builder{
		committee:     committee,
		schedule:      leaderschedule.New(committee, swapWindow),
		epoch:         epoch,
		genesis:       genesis,
		lastAncestors: append([]block.BlockRef(nil), genesis...),
		blocks:        blocks,
		byRound:       map[block.Round][]block.BlockRef{0: genesis},
	}
}

// GenesisRefs returns the genesis block references.
func (b *Builder) GenesisRefs() []block.BlockRef {
	return append([]block.BlockRef(nil), b.genesis...)
}

// AllBlocks returns every block the builder has created, across all
// rounds, in an unspecified order.
func (b *Builder) AllBlocks() []block.VerifiedBlock {
	out := make([]block.VerifiedBlock, 0, len(b.blocks))
	for _, vb := range b.blocks {
		out = append(out, vb)
	}
	return out
}

// BlocksAtRound returns every block the builder created at round.
func (b *Builder) BlocksAtRound(round block.Round) []block.VerifiedBlock {
	refs := b.byRound[round]
	out := make([]block.VerifiedBlock, 0, len(refs))
	for _, r := range refs {
		out = append(out, b.blocks[r])
	}
	return out
}

// LeaderAt returns the elected leader block at round for offset, or false
// if that authority proposed no block there (a deliberately skipped
// leader round).
func (b *Builder) LeaderAt(round block.Round, offset int) (block.VerifiedBlock, bool) {
	author, err := b.schedule.ElectLeader(b.epoch, round, offset, nil)
	if err != nil {
		return block.VerifiedBlock{}, false
	}
	for _, ref := range b.byRound[round] {
		if ref.Author == author {
			return b.blocks[ref], true
		}
	}
	return block.VerifiedBlock{}, false
}

// Layer configures and builds one round (or a contiguous run of rounds) of
// the DAG. Obtain one via Builder.Layer or Builder.Layers.
type Layer struct {
	b          *Builder
	startRound block.Round
	endRound   block.Round

	specifiedAuthorities map[block.AuthorityIndex]bool
	skipAuthors          map[block.AuthorityIndex]bool
	equivocate           int
	skipAncestorsOf      map[block.AuthorityIndex]bool
	skipLeaderLink       bool
	skipLeaderBlock      bool
	leaderOffsets        []int
	minAncestors         bool
	minSeed              int64
}

// Layer begins configuring a single round.
func (b *Builder) Layer(round block.Round) *Layer {
	return &Layer{b: b, startRound: round, endRound: round}
}

// Layers begins configuring a contiguous run of rounds, each built with
// the same configuration.
func (b *Builder) Layers(start, end block.Round) *Layer {
	return &Layer{b: b, startRound: start, endRound: end}
}

// Authorities restricts SkipBlock/Equivocate/SkipAncestorLinks to this set
// of authorities; other authorities propose one ordinarily-linked block.
func (l *Layer) Authorities(authors ...block.AuthorityIndex) *Layer {
	l.skipAuthors = nil
	l.skipAncestorsOf = nil
	set := make(map[block.AuthorityIndex]bool, len(authors))
	for _, a := range authors {
		set[a] = true
	}
	l.specifiedAuthorities = set
	return l
}

// SkipBlock makes the Authorities() set propose no block this layer.
func (l *Layer) SkipBlock() *Layer {
	l.skipAuthors = l.specifiedAuthorities
	return l
}

// Equivocate makes the Authorities() set each propose 1+n colliding blocks
// at the same slot.
func (l *Layer) Equivocate(n int) *Layer {
	l.equivocate = n
	return l
}

// SkipAncestorLinks makes the Authorities() set omit ancestor links to the
// given authors' prior-round blocks.
func (l *Layer) SkipAncestorLinks(authors ...block.AuthorityIndex) *Layer {
	set := make(map[block.AuthorityIndex]bool, len(authors))
	for _, a := range authors {
		set[a] = true
	}
	l.skipAncestorsOf = set
	return l
}

// NoLeaderBlock skips the round's elected leader's own block proposal,
// for the given fallback offsets (none means offset 0, the primary
// leader).
func (l *Layer) NoLeaderBlock(offsets ...int) *Layer {
	l.skipLeaderBlock = true
	l.leaderOffsets = offsets
	return l
}

// NoLeaderLink skips every authority's ancestor link to the prior round's
// elected leader block, for the given fallback offsets (none means offset
// 0); every authority still proposes its own block this round. It models
// a leader that gets no votes from the following round.
func (l *Layer) NoLeaderLink(offsets ...int) *Layer {
	l.skipLeaderLink = true
	l.leaderOffsets = offsets
	return l
}

// MinAncestorLinks links each new block to only a random quorum-sized
// subset of the prior layer's ancestors, rather than all of them.
func (l *Layer) MinAncestorLinks(seed int64) *Layer {
	l.minAncestors = true
	l.minSeed = seed
	return l
}

// Build applies the configuration and creates blocks for every round in
// [startRound, endRound], updating the builder's frontier ancestor set.
func (l *Layer) Build() *Builder {
	for round := l.startRound; round <= l.endRound; round++ {
		l.buildRound(round)
	}
	return l.b
}

func (l *Layer) buildRound(round block.Round) {
	authorities := l.b.committee.Authorities()

	var leaderOffsets []int
	if len(l.leaderOffsets) > 0 {
		leaderOffsets = l.leaderOffsets
	} else {
		leaderOffsets = []int{0}
	}
	leaders := make(map[block.AuthorityIndex]bool, len(leaderOffsets))
	for _, off := range leaderOffsets {
		if author, err := l.b.schedule.ElectLeader(l.b.epoch, round, off, nil); err == nil {
			leaders[author] = true
		}
	}
	linkLeaders := make(map[block.AuthorityIndex]bool, len(leaderOffsets))
	if l.skipLeaderLink && round > 0 {
		for _, off := range leaderOffsets {
			if author, err := l.b.schedule.ElectLeader(l.b.epoch, round-1, off, nil); err == nil {
				linkLeaders[author] = true
			}
		}
	}

	ancestorsFor := func(author block.AuthorityIndex) []block.BlockRef {
		base := l.b.lastAncestors
		if l.minAncestors {
			base = minQuorumSubset(base, l.b.committee, l.minSeed, round, author)
		}
		out := make([]block.BlockRef, 0, len(base))
		for _, a := range base {
			if l.skipAncestorsOf[a.Author] && l.specifiedAuthorities[author] {
				continue
			}
			if l.skipLeaderLink && a.Round+1 == round && linkLeaders[a.Author] {
				continue
			}
			out = append(out, a)
		}
		return out
	}

	var newRefs []block.BlockRef
	for _, auth := range authorities {
		author := auth.Index
		if l.skipAuthors[author] {
			continue
		}
		if l.skipLeaderBlock && leaders[author] {
			continue
		}
		copies := 1
		if l.specifiedAuthorities[author] {
			copies = 1 + l.equivocate
		}
		for c := 0; c < copies; c++ {
			vb := newTestBlock(round, author, ancestorsFor(author), int64(round)*1000+int64(c))
			l.b.blocks[vb.Reference()] = vb
			newRefs = append(newRefs, vb.Reference())
		}
	}
	l.b.byRound[round] = newRefs
	if len(newRefs) > 0 {
		l.b.lastAncestors = newRefs
	}
}

func minQuorumSubset(ancestors []block.BlockRef, committee *block.Committee, seed int64, round block.Round, forAuthor block.AuthorityIndex) []block.BlockRef {
	quorum := int(committee.Quorum())
	if quorum > len(ancestors) {
		quorum = len(ancestors)
	}
	rng := rand.New(rand.NewSource(seed ^ int64(round)<<32 ^ int64(forAuthor)))
	shuffled := append([]block.BlockRef(nil), ancestors...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	picked := shuffled[:quorum]
	sort.Slice(picked, func(i, j int) bool { return picked[i].Less(picked[j]) })
	return picked
}

// newTestBlock builds and digest-stamps a block without going through
// blockbuilder's signature machinery: testdag callers don't exercise BV,
// only DS/CE, so an unsigned deterministic digest suffices.
func newTestBlock(round block.Round, author block.AuthorityIndex, ancestors []block.BlockRef, tsMs int64) block.VerifiedBlock {
	blk := &block.Block{
		Round:       round,
		Author:      author,
		TimestampMs: tsMs,
		Ancestors:   ancestors,
	}
	blk.SetDigest(testDigest(blk))
	return block.NewVerifiedBlock(blk)
}

func testDigest(blk *block.Block) block.Digest {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(blk.Round))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], uint32(blk.Author))
	h.Write(buf[:4])
	binary.BigEndian.PutUint64(buf[:], uint64(blk.TimestampMs))
	h.Write(buf[:])
	for _, a := range blk.Ancestors {
		binary.BigEndian.PutUint64(buf[:], uint64(a.Round))
		h.Write(buf[:])
		binary.BigEndian.PutUint32(buf[:4], uint32(a.Author))
		h.Write(buf[:4])
		h.Write(a.Digest[:])
	}
	sum := h.Sum(nil)
	var d block.Digest
	copy(d[:], sum)
	return d
}

// PersistAll writes every block the builder created into dag, in round
// order so ancestors are always admitted before their dependents.
func (b *Builder) PersistAll(dag *dagstate.State) {
	rounds := make([]block.Round, 0, len(b.byRound))
	for r := range b.byRound {
		rounds = append(rounds, r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })
	for _, r := range rounds {
		if r == 0 {
			continue // genesis was already seeded into dag.New
		}
		for _, ref := range b.byRound[r] {
			dag.Accept(b.blocks[ref])
		}
	}
}
