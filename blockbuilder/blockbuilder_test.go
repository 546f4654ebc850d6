// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockbuilder

import (
	"testing"

	"github.com/luxfi/dagbft/block"
	"github.com/luxfi/dagbft/crypto/bls"
	"github.com/stretchr/testify/require"
)

type testAuthority struct {
	idx    block.AuthorityIndex
	secret *bls.SecretKey
}

func setupCommittee(t *testing.T, n int) (*block.Committee, []testAuthority) {
	t.Helper()
	authorities := make([]block.Authority, n)
	keys := make([]testAuthority, n)
	for i := 0; i < n; i++ {
		sk, err := bls.GenerateKey()
		require.NoError(t, err)
		authorities[i] = block.Authority{
			Index:  block.AuthorityIndex(i),
			Stake:  1,
			PubKey: sk.PublicKey().Bytes(),
		}
		keys[i] = testAuthority{idx: block.AuthorityIndex(i), secret: sk}
	}
	c, err := block.NewCommittee(0, authorities)
	require.NoError(t, err)
	return c, keys
}

func TestProposeAndVerifyRoundTrip(t *testing.T) {
	c, keys := setupCommittee(t, 4)
	builder := New(c, DefaultParameters(), 0, keys[0].secret)

	genesis := block.GenesisBlocks(c)
	parents := []block.BlockRef{genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference()}

	vb, err := builder.Propose(1, parents, nil, [][]byte{{1, 2, 3}}, 1000)
	require.NoError(t, err)

	ancestorInfo := map[block.BlockRef]AncestorInfo{}
	for _, p := range parents {
		ancestorInfo[p] = AncestorInfo{Known: true, TimestampMs: 0}
	}

	verifier := New(c, DefaultParameters(), 1, keys[1].secret)
	verified, err := verifier.Verify(vb.Block, ancestorInfo, 0)
	require.NoError(t, err)
	require.Equal(t, vb.Digest(), verified.Digest())
}

func TestProposeRejectsInsufficientParentQuorum(t *testing.T) {
	c, keys := setupCommittee(t, 4)
	builder := New(c, DefaultParameters(), 0, keys[0].secret)
	genesis := block.GenesisBlocks(c)

	_, err := builder.Propose(1, []block.BlockRef{genesis[0].Reference()}, nil, nil, 1000)
	require.ErrorIs(t, err, ErrInsufficientParentQuorum)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	c, keys := setupCommittee(t, 4)
	builder := New(c, DefaultParameters(), 0, keys[0].secret)
	genesis := block.GenesisBlocks(c)
	parents := []block.BlockRef{genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference()}

	vb, err := builder.Propose(1, parents, nil, nil, 1000)
	require.NoError(t, err)
	vb.Signature = []byte("not a real signature")

	ancestorInfo := map[block.BlockRef]AncestorInfo{}
	for _, p := range parents {
		ancestorInfo[p] = AncestorInfo{Known: true}
	}
	verifier := New(c, DefaultParameters(), 1, keys[1].secret)
	_, err = verifier.Verify(vb.Block, ancestorInfo, 0)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsNonMonotoneTimestamp(t *testing.T) {
	c, keys := setupCommittee(t, 4)
	builder := New(c, DefaultParameters(), 0, keys[0].secret)
	genesis := block.GenesisBlocks(c)
	parents := []block.BlockRef{genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference()}

	vb, err := builder.Propose(1, parents, nil, nil, 100)
	require.NoError(t, err)

	ancestorInfo := map[block.BlockRef]AncestorInfo{}
	for _, p := range parents {
		ancestorInfo[p] = AncestorInfo{Known: true, TimestampMs: 500}
	}
	verifier := New(c, DefaultParameters(), 1, keys[1].secret)
	_, err = verifier.Verify(vb.Block, ancestorInfo, 0)
	require.ErrorIs(t, err, ErrTimestampNotMonotone)
}

func TestVerifyRejectsBelowGCWatermark(t *testing.T) {
	c, keys := setupCommittee(t, 4)
	builder := New(c, DefaultParameters(), 0, keys[0].secret)
	genesis := block.GenesisBlocks(c)
	parents := []block.BlockRef{genesis[0].Reference(), genesis[1].Reference(), genesis[2].Reference()}

	vb, err := builder.Propose(1, parents, nil, nil, 100)
	require.NoError(t, err)

	ancestorInfo := map[block.BlockRef]AncestorInfo{}
	for _, p := range parents {
		ancestorInfo[p] = AncestorInfo{Known: true}
	}
	verifier := New(c, DefaultParameters(), 1, keys[1].secret)
	_, err = verifier.Verify(vb.Block, ancestorInfo, 5)
	require.ErrorIs(t, err, ErrBelowGC)
}
