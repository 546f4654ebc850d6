// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstore

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/dagbft/block"
)

// Wire format for a stored Block: a flat sequence of fixed-width
// big-endian fields. Ancestors and Transactions are count-prefixed
// repeated groups; counts and byte lengths are uint32.
//
//	round        uint64
//	author       uint32
//	timestamp_ms int64
//	num_ancestors uint32
//	  ancestor[i]: round uint64, author uint32, digest [32]byte
//	num_txs      uint32
//	  tx[i]: len uint32, bytes
//	sig_len      uint32
//	  sig bytes
func encodeBlock(b *block.Block) ([]byte, error) {
	size := 8 + 4 + 8 + 4 + len(b.Ancestors)*(8+4+32) + 4
	for _, tx := range b.Transactions {
		size += 4 + len(tx)
	}
	size += 4 + len(b.Signature)

	buf := make([]byte, size)
	off := 0
	putU64 := func(v uint64) { binary.BigEndian.PutUint64(buf[off:], v); off += 8 }
	putU32 := func(v uint32) { binary.BigEndian.PutUint32(buf[off:], v); off += 4 }
	putI64 := func(v int64) { putU64(uint64(v)) }

	putU64(uint64(b.Round))
	putU32(uint32(b.Author))
	putI64(b.TimestampMs)

	putU32(uint32(len(b.Ancestors)))
	for _, a := range b.Ancestors {
		putU64(uint64(a.Round))
		putU32(uint32(a.Author))
		copy(buf[off:], a.Digest[:])
		off += 32
	}

	putU32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		putU32(uint32(len(tx)))
		copy(buf[off:], tx)
		off += len(tx)
	}

	putU32(uint32(len(b.Signature)))
	copy(buf[off:], b.Signature)
	off += len(b.Signature)

	return buf[:off], nil
}

func decodeBlock(data []byte) (*block.Block, error) {
	r := &reader{buf: data}

	round, err := r.u64()
	if err != nil {
		return nil, err
	}
	author, err := r.u32()
	if err != nil {
		return nil, err
	}
	tsRaw, err := r.u64()
	if err != nil {
		return nil, err
	}

	numAncestors, err := r.u32()
	if err != nil {
		return nil, err
	}
	ancestors := make([]block.BlockRef, numAncestors)
	for i := range ancestors {
		ar, err := r.u64()
		if err != nil {
			return nil, err
		}
		aa, err := r.u32()
		if err != nil {
			return nil, err
		}
		digest, err := r.digest()
		if err != nil {
			return nil, err
		}
		ancestors[i] = block.BlockRef{Round: block.Round(ar), Author: block.AuthorityIndex(aa), Digest: digest}
	}

	numTxs, err := r.u32()
	if err != nil {
		return nil, err
	}
	txs := make([][]byte, numTxs)
	for i := range txs {
		txLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		tx, err := r.bytes(int(txLen))
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}

	sigLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	sig, err := r.bytes(int(sigLen))
	if err != nil {
		return nil, err
	}

	return &block.Block{
		Round:        block.Round(round),
		Author:       block.AuthorityIndex(author),
		TimestampMs:  int64(tsRaw),
		Ancestors:    ancestors,
		Transactions: txs,
		Signature:    sig,
	}, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return fmt.Errorf("blockstore: truncated block encoding")
	}
	return nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) digest() (block.Digest, error) {
	if err := r.need(32); err != nil {
		return block.Digest{}, err
	}
	var d block.Digest
	copy(d[:], r.buf[r.off:r.off+32])
	r.off += 32
	return d, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out, nil
}
