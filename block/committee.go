// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package block

import "fmt"

// Authority is one committee member's stake-weighted identity.
type Authority struct {
	Index  AuthorityIndex
	NodeID [32]byte // opaque node identity; equality/printing only
	Stake  uint64
	PubKey []byte // compressed BLS public key bytes (crypto/bls)
}

// Committee is the ordered, stake-weighted validator set for an epoch.
//
// Derived constants follow §3: n = total stake, f = floor((n-1)/3),
// quorum = n - f, validity = f + 1.
type Committee struct {
	Epoch       uint64
	authorities []Authority
	totalStake  uint64
}

// NewCommittee builds a Committee from an ordered authority list. Indices
// must match each authority's position.
func NewCommittee(epoch uint64, authorities []Authority) (*Committee, error) {
	var total uint64
	for i, a := range authorities {
		if int(a.Index) != i {
			return nil, fmt.Errorf("block: authority %d has index %d, want %d", i, a.Index, i)
		}
		total += a.Stake
	}
	if len(authorities) == 0 {
		return nil, fmt.Errorf("block: empty committee")
	}
	cp := make([]Authority, len(authorities))
	copy(cp, authorities)
	return &Committee{Epoch: epoch, authorities: cp, totalStake: total}, nil
}

// Size returns the number of authorities.
func (c *Committee) Size() int { return len(c.authorities) }

// Authorities returns the ordered authority list. Callers must not mutate
// the returned slice.
func (c *Committee) Authorities() []Authority { return c.authorities }

// Authority returns the authority at the given index.
func (c *Committee) Authority(idx AuthorityIndex) (Authority, bool) {
	if int(idx) < 0 || int(idx) >= len(c.authorities) {
		return Authority{}, false
	}
	return c.authorities[idx], true
}

// TotalStake returns n, the sum of all authorities' stake.
func (c *Committee) TotalStake() uint64 { return c.totalStake }

// F returns the maximum Byzantine stake the committee tolerates:
// floor((n-1)/3).
func (c *Committee) F() uint64 {
	return (c.totalStake - 1) / 3
}

// Quorum returns n - f (2f+1 when n == 3f+1).
func (c *Committee) Quorum() uint64 {
	return c.totalStake - c.F()
}

// Validity returns f + 1, the minimum stake for "a candidate" support.
func (c *Committee) Validity() uint64 {
	return c.F() + 1
}

// StakeOf returns the stake for an authority index, 0 if out of range.
func (c *Committee) StakeOf(idx AuthorityIndex) uint64 {
	if a, ok := c.Authority(idx); ok {
		return a.Stake
	}
	return 0
}

// GenesisBlocks returns one round-0, ancestor-less, verified genesis block
// per authority, deterministically derived from the committee alone.
func GenesisBlocks(c *Committee) []VerifiedBlock {
	blocks := make([]VerifiedBlock, 0, c.Size())
	for _, a := range c.authorities {
		b := &Block{Round: 0, Author: a.Index, TimestampMs: 0}
		b.SetDigest(genesisDigest(c.Epoch, a.Index))
		blocks = append(blocks, NewVerifiedBlock(b))
	}
	return blocks
}

// genesisDigest deterministically derives a genesis block's digest from
// (epoch, author) alone — genesis blocks carry no signature to verify.
func genesisDigest(epoch uint64, author AuthorityIndex) Digest {
	var d Digest
	d[0] = 'G'
	for i := 0; i < 8; i++ {
		d[1+i] = byte(epoch >> (8 * i))
	}
	for i := 0; i < 4; i++ {
		d[9+i] = byte(author >> (8 * i))
	}
	return d
}
