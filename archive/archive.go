// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package archive implements the archive reader/writer (AR): a
// manifest-driven layout of (summary, contents) file pairs over a blob
// store, used as an alternative source for the ingestion regulator during
// catch-up and an alternative sink for the commit engine's output.
package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/luxfi/dagbft/codec"
)

// FileType distinguishes the two file kinds AR pairs per checkpoint range.
type FileType int

const (
	// FileTypeSummary holds certified checkpoint summaries.
	FileTypeSummary FileType = iota
	// FileTypeContents holds full checkpoint (committed sub-dag) contents.
	FileTypeContents
)

// SummaryMagic and ContentsMagic are the 4-byte magics every summary and
// contents file begins with, per §6's archive store layout.
var (
	SummaryMagic  = [4]byte{'S', 'U', 'M', '1'}
	ContentsMagic = [4]byte{'C', 'N', 'T', '1'}
)

// SeqRange is a half-open [Start, End) checkpoint sequence range.
type SeqRange struct {
	Start uint64
	End   uint64
}

func (r SeqRange) Contains(seq uint64) bool { return seq >= r.Start && seq < r.End }

// FileMetadata describes one file in the manifest: its type, the sequence
// range it covers, and the digest the reader verifies downloads against.
type FileMetadata struct {
	Type       FileType
	SeqRange   SeqRange
	Sha3Digest [32]byte
	Path       string
}

// Manifest is the durable, versioned index of every (summary, contents)
// pair in the archive, written as MANIFEST at the store root.
type Manifest struct {
	Version uint32
	Files   []FileMetadata
}

// ErrEmptyManifest is returned when a manifest lists no files at all.
var ErrEmptyManifest = errors.New("archive: unexpected empty archive store")

// ErrGap is returned when verification finds a sequence-range gap or
// mismatch between consecutive summary/contents files.
var ErrGap = errors.New("archive: checkpoint range gap or mismatch")

// PairedFiles splits m.Files into ordered, range-matched (summary,
// contents) pairs and verifies continuity: the files must cover [0,
// latest] without gaps, summary and contents ranges must agree pairwise,
// and each pair's range must directly follow the previous pair's range.
// This mirrors ArchiveReader::verify_manifest from the reader this package
// is grounded on.
func (m Manifest) PairedFiles() ([]FilePair, error) {
	if len(m.Files) == 0 {
		return nil, ErrEmptyManifest
	}

	var summaries, contents []FileMetadata
	for _, f := range m.Files {
		switch f.Type {
		case FileTypeSummary:
			summaries = append(summaries, f)
		case FileTypeContents:
			contents = append(contents, f)
		}
	}
	if len(summaries) != len(contents) {
		return nil, fmt.Errorf("%w: %d summary files, %d contents files", ErrGap, len(summaries), len(contents))
	}

	sortByStart(summaries)
	sortByStart(contents)

	for i := 1; i < len(summaries); i++ {
		if summaries[i].SeqRange.Start != summaries[i-1].SeqRange.End {
			return nil, fmt.Errorf("%w: summary files", ErrGap)
		}
	}
	for i := 1; i < len(contents); i++ {
		if contents[i].SeqRange.Start != contents[i-1].SeqRange.End {
			return nil, fmt.Errorf("%w: contents files", ErrGap)
		}
	}

	pairs := make([]FilePair, len(summaries))
	for i := range summaries {
		if summaries[i].SeqRange != contents[i].SeqRange {
			return nil, fmt.Errorf("%w: summary/contents range mismatch at index %d", ErrGap, i)
		}
		pairs[i] = FilePair{Summary: summaries[i], Contents: contents[i]}
	}
	if pairs[0].Summary.SeqRange.Start != 0 {
		return nil, fmt.Errorf("%w: archive does not start at checkpoint 0", ErrGap)
	}
	return pairs, nil
}

// FilePair is one (summary, contents) pair covering the same SeqRange.
type FilePair struct {
	Summary  FileMetadata
	Contents FileMetadata
}

func sortByStart(files []FileMetadata) {
	for i := 1; i < len(files); i++ {
		for j := i; j > 0 && files[j].SeqRange.Start < files[j-1].SeqRange.Start; j-- {
			files[j], files[j-1] = files[j-1], files[j]
		}
	}
}

// encodeManifest serializes m using the module's shared codec, so the
// on-disk manifest format evolves alongside every other wire type.
func encodeManifest(m Manifest) ([]byte, error) {
	return codec.Codec.Marshal(codec.CurrentVersion, m)
}

// decodeManifest parses a manifest previously written by encodeManifest.
func decodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if _, err := codec.Codec.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("archive: decode manifest: %w", err)
	}
	return m, nil
}

// ComputeSha3 returns the SHA3-256 digest of data, the checksum algorithm
// AR verifies downloaded files against.
func ComputeSha3(data []byte) [32]byte {
	return sha3.Sum256(data)
}

// Store is the capability set AR needs from a blob store: get, put, list
// under a prefix, delete. The implementations in this module are in-memory (the archive
// tests and cmd/consensus's archive pipeline); no on-disk or
// object-store-backed implementation is provided.
type Store interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
}

// encodeRecords frames a sequence of byte-slice records as
// magic || (u64 length || bytes)*, the self-delimiting format §6
// specifies for checkpoint and summary files.
func encodeRecords(magic [4]byte, records [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(magic[:])
	var lenBuf [8]byte
	for _, r := range records {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(r)))
		buf.Write(lenBuf[:])
		buf.Write(r)
	}
	return buf.Bytes()
}

// decodeRecords parses a magic-prefixed, length-delimited record stream,
// verifying the leading magic matches want.
func decodeRecords(want [4]byte, data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("archive: file too short for magic")
	}
	var got [4]byte
	copy(got[:], data[:4])
	if got != want {
		return nil, fmt.Errorf("archive: bad file magic %x, want %x", got, want)
	}
	data = data[4:]

	var records [][]byte
	for len(data) > 0 {
		if len(data) < 8 {
			return nil, fmt.Errorf("archive: truncated record length")
		}
		n := binary.BigEndian.Uint64(data[:8])
		data = data[8:]
		if uint64(len(data)) < n {
			return nil, fmt.Errorf("archive: truncated record body")
		}
		records = append(records, data[:n])
		data = data[n:]
	}
	return records, nil
}
