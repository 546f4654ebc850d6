// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package blockbuilder constructs proposals for the local authority and
// verifies blocks received from peers before they are handed to dagstate.
// It is the sole place a Block's digest and signature are computed or
// checked.
package blockbuilder

import (
	"errors"
	"fmt"

	"github.com/luxfi/dagbft/block"
	"github.com/luxfi/dagbft/crypto/bls"
	"golang.org/x/crypto/blake2b"
)

// Parameters bounds proposal shape, mirroring the teacher's protocol
// parameter struct.
type Parameters struct {
	MaxParents        int
	MaxTransactions    int
	MaxTransactionBytes int
}

// DefaultParameters returns production-sized bounds.
func DefaultParameters() Parameters {
	return Parameters{
		MaxParents:         64,
		MaxTransactions:    4096,
		MaxTransactionBytes: 1 << 20,
	}
}

var (
	// ErrInsufficientParentQuorum is returned when a block's ancestor set
	// at its parent round does not carry at least quorum stake.
	ErrInsufficientParentQuorum = errors.New("blockbuilder: insufficient parent quorum")
	// ErrMissingParentLink is returned when a non-genesis block has no
	// ancestor reference at round-1.
	ErrMissingParentLink = errors.New("blockbuilder: missing parent-round link")
	// ErrTimestampNotMonotone is returned when a block's timestamp does not
	// exceed the maximum timestamp among its ancestors.
	ErrTimestampNotMonotone = errors.New("blockbuilder: timestamp not monotone")
	// ErrBadSignature is returned when signature verification fails.
	ErrBadSignature = errors.New("blockbuilder: signature verification failed")
	// ErrBelowGC is returned when a block's round is at or below the GC
	// watermark.
	ErrBelowGC = errors.New("blockbuilder: round at or below GC watermark")
	// ErrTooManyParents/ErrTooManyTransactions bound proposal shape.
	ErrTooManyParents      = errors.New("blockbuilder: too many parent references")
	ErrTooManyTransactions = errors.New("blockbuilder: too many transactions")
)

// AncestorInfo is the minimal per-ancestor context Verify needs: its
// timestamp, for monotonicity, and whether BV already has the referenced
// block (dagstate or blockstore).
type AncestorInfo struct {
	Known       bool
	TimestampMs int64
}

// Builder proposes and verifies blocks for one committee.
type Builder struct {
	committee *block.Committee
	params    Parameters
	self      block.AuthorityIndex
	secret    *bls.SecretKey
}

// New creates a Builder for the local authority identified by self, signing
// with secret.
func New(committee *block.Committee, params Parameters, self block.AuthorityIndex, secret *bls.SecretKey) *Builder {
	return &Builder{committee: committee, params: params, self: self, secret: secret}
}

// Propose assembles a new block for round from a set of candidate parent
// references (including at least one at round-1) plus optional weak links,
// and a batch of transactions. It enforces the parent-quorum invariant and
// computes the block's digest and signature.
func (b *Builder) Propose(round block.Round, parents []block.BlockRef, weakLinks []block.BlockRef, txs [][]byte, nowMs int64) (block.VerifiedBlock, error) {
	if err := b.checkParentQuorum(round, parents); err != nil {
		return block.VerifiedBlock{}, err
	}
	if len(txs) > b.params.MaxTransactions {
		return block.VerifiedBlock{}, ErrTooManyTransactions
	}

	ancestors := make([]block.BlockRef, 0, len(parents)+len(weakLinks))
	ancestors = append(ancestors, parents...)
	ancestors = append(ancestors, weakLinks...)
	if len(ancestors) > b.params.MaxParents {
		ancestors = ancestors[:b.params.MaxParents]
	}

	blk := &block.Block{
		Round:        round,
		Author:       b.self,
		TimestampMs:  nowMs,
		Ancestors:    ancestors,
		Transactions: txs,
	}

	digest := computeDigest(blk)
	blk.SetDigest(digest)
	blk.Signature = b.secret.Sign(digest[:]).Bytes()

	return block.NewVerifiedBlock(blk), nil
}

// Verify checks a received block: signature validity, parent quorum,
// timestamp monotonicity against ancestorInfo, and that its round is above
// the GC watermark. It recomputes and stamps the block's digest.
func (b *Builder) Verify(blk *block.Block, ancestorInfo map[block.BlockRef]AncestorInfo, gcRound block.Round) (block.VerifiedBlock, error) {
	if blk.Round <= gcRound && blk.Round != 0 {
		return block.VerifiedBlock{}, ErrBelowGC
	}
	if len(blk.Ancestors) > b.params.MaxParents {
		return block.VerifiedBlock{}, ErrTooManyParents
	}
	if len(blk.Transactions) > b.params.MaxTransactions {
		return block.VerifiedBlock{}, ErrTooManyTransactions
	}
	if !blk.IsGenesis() && !blk.HasParentLink() {
		return block.VerifiedBlock{}, ErrMissingParentLink
	}

	var parentStake uint64
	maxAncestorTs := int64(0)
	parentRound := blk.ParentRound()
	for _, a := range blk.Ancestors {
		info, ok := ancestorInfo[a]
		if !ok || !info.Known {
			return block.VerifiedBlock{}, fmt.Errorf("blockbuilder: ancestor %s not known", a)
		}
		if a.Round == parentRound {
			parentStake += b.committee.StakeOf(a.Author)
		}
		if info.TimestampMs > maxAncestorTs {
			maxAncestorTs = info.TimestampMs
		}
	}
	if !blk.IsGenesis() && parentStake < b.committee.Quorum() {
		return block.VerifiedBlock{}, ErrInsufficientParentQuorum
	}
	if !blk.IsGenesis() && blk.TimestampMs <= maxAncestorTs {
		return block.VerifiedBlock{}, ErrTimestampNotMonotone
	}

	digest := computeDigest(blk)
	author, ok := b.committee.Authority(blk.Author)
	if !ok {
		return block.VerifiedBlock{}, fmt.Errorf("blockbuilder: unknown author %d", blk.Author)
	}
	sig := bls.SignatureFromBytes(blk.Signature)
	if !sig.Verify(publicKeyFromBytes(author.PubKey), digest[:]) {
		return block.VerifiedBlock{}, ErrBadSignature
	}

	blk.SetDigest(digest)
	return block.NewVerifiedBlock(blk), nil
}

func (b *Builder) checkParentQuorum(round block.Round, parents []block.BlockRef) error {
	if round == 0 {
		return nil
	}
	var stake uint64
	for _, p := range parents {
		if p.Round != round-1 {
			continue
		}
		stake += b.committee.StakeOf(p.Author)
	}
	if stake < b.committee.Quorum() {
		return ErrInsufficientParentQuorum
	}
	return nil
}

// computeDigest hashes a block's content-addressed fields (everything but
// the signature and cached digest) with blake2b-256.
func computeDigest(blk *block.Block) block.Digest {
	h, _ := blake2b.New256(nil)
	var roundBuf [8]byte
	putUint64(roundBuf[:], uint64(blk.Round))
	h.Write(roundBuf[:])

	var authorBuf [4]byte
	putUint32(authorBuf[:], uint32(blk.Author))
	h.Write(authorBuf[:])

	var tsBuf [8]byte
	putUint64(tsBuf[:], uint64(blk.TimestampMs))
	h.Write(tsBuf[:])

	for _, a := range blk.Ancestors {
		var ab [8 + 4]byte
		putUint64(ab[0:8], uint64(a.Round))
		putUint32(ab[8:12], uint32(a.Author))
		h.Write(ab[:])
		h.Write(a.Digest[:])
	}
	for _, tx := range blk.Transactions {
		h.Write(tx)
	}

	var sum block.Digest
	copy(sum[:], h.Sum(nil))
	return sum
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (56 - 8*i))
	}
}

func putUint32(buf []byte, v uint32) {
	for i := 0; i < 4; i++ {
		buf[i] = byte(v >> (24 - 8*i))
	}
}

func publicKeyFromBytes(b []byte) *bls.PublicKey {
	return bls.PublicKeyFromBytes(b)
}
