// Package block defines the core DAG data model: digests, block references,
// verified blocks, slots, and committee membership shared by every other
// package in the consensus core.
package block

import (
	"bytes"
	"fmt"

	"github.com/luxfi/ids"
)

// Round is a monotone integer tagging a layer of the DAG.
type Round uint64

// AuthorityIndex identifies a committee member by position, not identity.
type AuthorityIndex uint32

// Digest is a fixed 32-byte collision-resistant hash.
type Digest [32]byte

// EmptyDigest is the zero digest, used as a sentinel (e.g. previous_digest
// of the first commit).
var EmptyDigest = Digest{}

// String returns the Base58 form of the digest.
func (d Digest) String() string {
	return ids.ID(d).String()
}

// Less reports whether d sorts before other in byte order.
func (d Digest) Less(other Digest) bool {
	return bytes.Compare(d[:], other[:]) < 0
}

// Successor returns the lexicographically smallest digest strictly greater
// than d, used to bound range scans over a digest-keyed index. It panics if
// d is the maximum digest (all 0xff), which cannot occur for real hashes.
func (d Digest) Successor() Digest {
	next := d
	for i := len(next) - 1; i >= 0; i-- {
		if next[i] != 0xff {
			next[i]++
			return next
		}
		next[i] = 0
	}
	panic("block: digest has no successor")
}

// DigestFromBytes wraps a 32-byte hash (e.g. from blake2b/sha256) as a
// Digest.
func DigestFromBytes(b [32]byte) Digest {
	return Digest(b)
}

// Slot identifies (round, author); honest authorities produce at most one
// block per slot, equivocators produce more than one.
type Slot struct {
	Round  Round
	Author AuthorityIndex
}

func (s Slot) String() string {
	return fmt.Sprintf("slot(%d,%d)", s.Round, s.Author)
}

// BlockRef uniquely identifies a block and totally orders references by
// (round, author, digest).
type BlockRef struct {
	Round  Round
	Author AuthorityIndex
	Digest Digest
}

func (r BlockRef) Slot() Slot {
	return Slot{Round: r.Round, Author: r.Author}
}

func (r BlockRef) String() string {
	return fmt.Sprintf("B(%d,%d,%s)", r.Round, r.Author, r.Digest.String())
}

// Less implements the BlockRef total order: lexicographic by
// (round, author, digest).
func (r BlockRef) Less(other BlockRef) bool {
	if r.Round != other.Round {
		return r.Round < other.Round
	}
	if r.Author != other.Author {
		return r.Author < other.Author
	}
	return r.Digest.Less(other.Digest)
}

// Block is a verified DAG vertex. Genesis blocks have Round == 0, an empty
// Ancestors slice, and one per authority.
type Block struct {
	Round        Round
	Author       AuthorityIndex
	TimestampMs  int64
	Ancestors    []BlockRef // first parent-round entry plus any weak links
	Transactions [][]byte
	Signature    []byte

	digest    Digest
	hasDigest bool
}

// SetDigest caches the block's content digest. BV computes this once during
// construction or verification; callers must not mutate Ancestors/
// Transactions afterwards without recomputing it.
func (b *Block) SetDigest(d Digest) {
	b.digest = d
	b.hasDigest = true
}

// Digest returns the cached content digest. It panics if SetDigest was never
// called, since an unhashed block should never leave BV.
func (b *Block) Digest() Digest {
	if !b.hasDigest {
		panic("block: digest not computed")
	}
	return b.digest
}

// Reference returns the BlockRef identifying this block.
func (b *Block) Reference() BlockRef {
	return BlockRef{Round: b.Round, Author: b.Author, Digest: b.Digest()}
}

// IsGenesis reports whether this is a round-0 genesis block.
func (b *Block) IsGenesis() bool {
	return b.Round == 0
}

// ParentRound returns the round this block's "parent link" ancestors come
// from: Round-1, or 0 for genesis (which has none).
func (b *Block) ParentRound() Round {
	if b.Round == 0 {
		return 0
	}
	return b.Round - 1
}

// HasParentLink reports whether Ancestors includes at least one reference at
// ParentRound(), the invariant every non-genesis block must satisfy.
func (b *Block) HasParentLink() bool {
	if b.IsGenesis() {
		return true
	}
	want := b.ParentRound()
	for _, a := range b.Ancestors {
		if a.Round == want {
			return true
		}
	}
	return false
}

// WeakLinks returns the subset of Ancestors at rounds strictly below
// ParentRound() — references to earlier rounds not reachable through the
// chosen parents.
func (b *Block) WeakLinks() []BlockRef {
	if b.IsGenesis() {
		return nil
	}
	parentRound := b.ParentRound()
	var weak []BlockRef
	for _, a := range b.Ancestors {
		if a.Round < parentRound {
			weak = append(weak, a)
		}
	}
	return weak
}

// VerifiedBlock pairs a Block with its reference, the unit stored by BS and
// referenced by DS, CE, and the archive writer.
type VerifiedBlock struct {
	*Block
	ref BlockRef
}

// NewVerifiedBlock wraps a block that has already passed BV's checks and had
// its digest computed.
func NewVerifiedBlock(b *Block) VerifiedBlock {
	return VerifiedBlock{Block: b, ref: b.Reference()}
}

func (v VerifiedBlock) Reference() BlockRef { return v.ref }