// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package block

// CommitDigest identifies a Commit record's contents.
type CommitDigest = Digest

// CommitRef identifies a Commit by its index and digest, the unit IR and SC
// key checkpoints by.
type CommitRef struct {
	Index  uint64
	Digest CommitDigest
}

// Commit is an immutable, gap-free-indexed record of one leader's
// commitment decision. index starts at 1 and increases by exactly 1 per
// commit; timestamp_ms is non-decreasing across commits.
type Commit struct {
	Index           uint64
	Leader          BlockRef
	TimestampMs     int64
	Included        []BlockRef // deterministic emission order
	PreviousDigest  CommitDigest
	digest          CommitDigest
	hasDigest       bool
}

// SetDigest caches the commit's own content digest.
func (c *Commit) SetDigest(d CommitDigest) {
	c.digest = d
	c.hasDigest = true
}

// Digest returns the cached digest, panicking if never set.
func (c *Commit) Digest() CommitDigest {
	if !c.hasDigest {
		panic("block: commit digest not computed")
	}
	return c.digest
}

// Reference returns this commit's CommitRef.
func (c *Commit) Reference() CommitRef {
	return CommitRef{Index: c.Index, Digest: c.Digest()}
}

// CommittedSubDag is the causal closure of one committed leader, linearised
// into deterministic emission order by the commit engine's linearizer.
type CommittedSubDag struct {
	Leader               BlockRef
	Blocks               []VerifiedBlock // deterministic (round,author,digest) order
	RejectedTransactions [][]byte
	TimestampMs          int64
	CommitRef            CommitRef
}
