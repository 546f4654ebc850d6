// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commit

import (
	"testing"

	"github.com/luxfi/dagbft/block"
	"github.com/luxfi/dagbft/dagstate"
	"github.com/luxfi/dagbft/leaderschedule"
	"github.com/stretchr/testify/require"
)

const testEpoch = 1

func fourAuthorityCommittee(t *testing.T) *block.Committee {
	t.Helper()
	authorities := make([]block.Authority, 4)
	for i := range authorities {
		authorities[i] = block.Authority{Index: block.AuthorityIndex(i), Stake: 1}
	}
	c, err := block.NewCommittee(0, authorities)
	require.NoError(t, err)
	return c
}

// buildFullRound creates one block per authority at round, each
// referencing every reference in prevRound as a parent, and accepts them
// into dag. It returns the new round's references.
func buildFullRound(dag *dagstate.State, round block.Round, n int, prevRound []block.BlockRef, tagBase byte) []block.BlockRef {
	refs := make([]block.BlockRef, 0, n)
	for author := 0; author < n; author++ {
		b := &block.Block{
			Round:       round,
			Author:      block.AuthorityIndex(author),
			TimestampMs: int64(round) * 100,
			Ancestors:   append([]block.BlockRef{}, prevRound...),
		}
		var d block.Digest
		d[0] = tagBase
		d[1] = byte(round)
		d[2] = byte(author)
		b.SetDigest(d)
		vb := block.NewVerifiedBlock(b)
		dag.Accept(vb)
		refs = append(refs, vb.Reference())
	}
	return refs
}

func TestEngineCommitsFullyConnectedRounds(t *testing.T) {
	c := fourAuthorityCommittee(t)
	genesis := block.GenesisBlocks(c)
	dag := dagstate.New(genesis, nil)
	sch := leaderschedule.New(c, 0)

	genesisRefs := make([]block.BlockRef, len(genesis))
	for i, g := range genesis {
		genesisRefs[i] = g.Reference()
	}

	r1 := buildFullRound(dag, 1, 4, genesisRefs, 0x10)
	r2 := buildFullRound(dag, 2, 4, r1, 0x20)
	buildFullRound(dag, 3, 4, r2, 0x30)

	engine := NewEngine(c, dag, sch, testEpoch, nil)
	decision, leader, err := engine.Evaluate(1, nil)
	require.NoError(t, err)
	require.Equal(t, Committed, decision)
	require.Equal(t, block.Round(1), leader.Round)

	subdags, err := engine.Commit(leader)
	require.NoError(t, err)
	require.Len(t, subdags, 1)
	require.Equal(t, leader, subdags[0].Leader)
	require.NotEmpty(t, subdags[0].Blocks)
	require.EqualValues(t, 1, subdags[0].CommitRef.Index)
}

func TestEngineUndecidedWithoutRoundPlusTwo(t *testing.T) {
	c := fourAuthorityCommittee(t)
	genesis := block.GenesisBlocks(c)
	dag := dagstate.New(genesis, nil)
	sch := leaderschedule.New(c, 0)

	genesisRefs := make([]block.BlockRef, len(genesis))
	for i, g := range genesis {
		genesisRefs[i] = g.Reference()
	}
	buildFullRound(dag, 1, 4, genesisRefs, 0x10)

	engine := NewEngine(c, dag, sch, testEpoch, nil)
	decision, _, err := engine.Evaluate(1, nil)
	require.NoError(t, err)
	require.Equal(t, Undecided, decision)
}

func TestEngineSkipsWhenLeaderAbsent(t *testing.T) {
	c := fourAuthorityCommittee(t)
	genesis := block.GenesisBlocks(c)
	dag := dagstate.New(genesis, nil)
	sch := leaderschedule.New(c, 0)
	engine := NewEngine(c, dag, sch, testEpoch, nil)

	leaderAuthor, err := sch.ElectLeader(testEpoch, 1, 0, nil)
	require.NoError(t, err)

	genesisRefs := make([]block.BlockRef, len(genesis))
	for i, g := range genesis {
		genesisRefs[i] = g.Reference()
	}

	// Build round 1 with every authority except the elected leader.
	refs := make([]block.BlockRef, 0, 3)
	for author := 0; author < 4; author++ {
		if block.AuthorityIndex(author) == leaderAuthor {
			continue
		}
		b := &block.Block{Round: 1, Author: block.AuthorityIndex(author), Ancestors: genesisRefs}
		var d block.Digest
		d[0] = 0x99
		d[1] = byte(author)
		b.SetDigest(d)
		vb := block.NewVerifiedBlock(b)
		dag.Accept(vb)
		refs = append(refs, vb.Reference())
	}
	buildFullRound(dag, 2, 4, refs, 0x20)
	buildFullRound(dag, 3, 4, dag.RefsAtRound(2), 0x30)

	decision, _, err := engine.Evaluate(1, nil)
	require.NoError(t, err)
	require.Equal(t, Skipped, decision)
}

func TestCommitMarksBlocksCommitted(t *testing.T) {
	c := fourAuthorityCommittee(t)
	genesis := block.GenesisBlocks(c)
	dag := dagstate.New(genesis, nil)
	sch := leaderschedule.New(c, 0)

	genesisRefs := make([]block.BlockRef, len(genesis))
	for i, g := range genesis {
		genesisRefs[i] = g.Reference()
	}
	r1 := buildFullRound(dag, 1, 4, genesisRefs, 0x10)
	r2 := buildFullRound(dag, 2, 4, r1, 0x20)
	buildFullRound(dag, 3, 4, r2, 0x30)

	engine := NewEngine(c, dag, sch, testEpoch, nil)
	_, leader, err := engine.Evaluate(1, nil)
	require.NoError(t, err)

	first, err := engine.Commit(leader)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	require.True(t, engine.committed[leader])
}
