// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dagstate

import (
	"testing"

	"github.com/luxfi/dagbft/block"
	"github.com/stretchr/testify/require"
)

func mkBlock(round block.Round, author block.AuthorityIndex, tag byte, ancestors ...block.BlockRef) block.VerifiedBlock {
	b := &block.Block{Round: round, Author: author, Ancestors: ancestors}
	var d block.Digest
	d[0] = tag
	b.SetDigest(d)
	return block.NewVerifiedBlock(b)
}

func committee4(t *testing.T) *block.Committee {
	t.Helper()
	authorities := make([]block.Authority, 4)
	for i := range authorities {
		authorities[i] = block.Authority{Index: block.AuthorityIndex(i), Stake: 1}
	}
	c, err := block.NewCommittee(0, authorities)
	require.NoError(t, err)
	return c
}

func TestAcceptGenesisThenChild(t *testing.T) {
	c := committee4(t)
	genesis := block.GenesisBlocks(c)
	s := New(genesis, nil)

	for _, g := range genesis {
		got, ok := s.Get(g.Reference())
		require.True(t, ok)
		require.Equal(t, g.Reference(), got.Reference())
	}

	child := mkBlock(1, 0, 0x01, genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference())
	s.Accept(child)
	_, ok := s.Get(child.Reference())
	require.True(t, ok)
	require.False(t, s.IsPending(child.Reference()))
}

func TestAcceptBuffersOnMissingAncestor(t *testing.T) {
	c := committee4(t)
	genesis := block.GenesisBlocks(c)
	s := New(genesis, nil)

	missingParent := mkBlock(1, 3, 0x09, genesis[3].Reference())
	child := mkBlock(2, 0, 0x0a, missingParent.Reference(), genesis[1].Reference())

	s.Accept(child)
	require.True(t, s.IsPending(child.Reference()))
	_, ok := s.Get(child.Reference())
	require.False(t, ok)

	s.Accept(missingParent)
	require.False(t, s.IsPending(child.Reference()))
	_, ok = s.Get(child.Reference())
	require.True(t, ok)
}

func TestUncommittedAtSlotDetectsEquivocation(t *testing.T) {
	c := committee4(t)
	genesis := block.GenesisBlocks(c)
	s := New(genesis, nil)

	a := mkBlock(1, 0, 0x01, genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference())
	b := mkBlock(1, 0, 0x02, genesis[0].Reference(), genesis[1].Reference(), genesis[3].Reference())
	s.Accept(a)
	s.Accept(b)

	refs := s.UncommittedAtSlot(block.Slot{Round: 1, Author: 0})
	require.ElementsMatch(t, []block.BlockRef{a.Reference(), b.Reference()}, refs)
}

func TestAncestorsAtWalksBackToTargetRound(t *testing.T) {
	c := committee4(t)
	genesis := block.GenesisBlocks(c)
	s := New(genesis, nil)

	r1 := mkBlock(1, 0, 0x01, genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference())
	s.Accept(r1)
	r2 := mkBlock(2, 0, 0x02, r1.Reference(), genesis[1].Reference(), genesis[2].Reference())
	s.Accept(r2)

	at0, err := s.AncestorsAt(r2.Reference(), 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []block.BlockRef{genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference()}, at0)

	_, err = s.AncestorsAt(r2.Reference(), 2)
	require.Error(t, err)
}

func TestIsReachableAndLCA(t *testing.T) {
	c := committee4(t)
	genesis := block.GenesisBlocks(c)
	s := New(genesis, nil)

	r1 := mkBlock(1, 0, 0x01, genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference())
	s.Accept(r1)
	r1b := mkBlock(1, 1, 0x03, genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference())
	s.Accept(r1b)
	r2 := mkBlock(2, 0, 0x02, r1.Reference(), r1b.Reference())
	s.Accept(r2)

	require.True(t, s.IsReachable(r2.Reference(), genesis[0].Reference()))
	require.False(t, s.IsReachable(genesis[0].Reference(), r2.Reference()))

	lca, ok := s.LCA(r1.Reference(), r1b.Reference())
	require.True(t, ok)
	require.Contains(t, []block.BlockRef{genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference()}, lca)
}

func TestGCDropsOldBlocks(t *testing.T) {
	c := committee4(t)
	genesis := block.GenesisBlocks(c)
	s := New(genesis, nil)

	r1 := mkBlock(1, 0, 0x01, genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference())
	s.Accept(r1)

	s.GC(1)
	_, ok := s.Get(genesis[0].Reference())
	require.False(t, ok)
	_, ok = s.Get(r1.Reference())
	require.True(t, ok)
}
