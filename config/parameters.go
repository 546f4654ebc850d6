// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config collects the tunable parameters for every stage of the
// pipeline (BV, CE, IR, SC, AR) into one set of named presets, the way the
// teacher's own config package bundles consensus parameters for Mainnet,
// Testnet, and Local deployments.
package config

import (
	"time"

	"github.com/luxfi/dagbft/archive"
	"github.com/luxfi/dagbft/blockbuilder"
	"github.com/luxfi/dagbft/ingestion"
	"github.com/luxfi/dagbft/sequential"
)

// Parameters bundles every subsystem's configuration for one deployment
// profile.
type Parameters struct {
	// GCDepth is the number of trailing rounds dagstate/blockstore retain
	// below the highest committed round before evicting a block.
	GCDepth uint64
	// SwapWindow bounds the low-reputation suffix eligible for leader
	// swap-table substitution; 0 disables swapping.
	SwapWindow int
	// RoundTimeout bounds how long a local authority waits for a round's
	// primary leader to certify before proposing against a fallback.
	RoundTimeout time.Duration

	Block      blockbuilder.Parameters
	Ingestion  ingestion.Config
	Sequential sequential.Config
	ArchiveWriter archive.WriterConfig
	ArchiveReader archive.ReaderConfig
}

// Mainnet returns production-sized parameters.
func Mainnet() Parameters {
	return Parameters{
		GCDepth:      64,
		SwapWindow:   1,
		RoundTimeout: 2 * time.Second,
		Block:        blockbuilder.DefaultParameters(),
		Ingestion:    ingestion.DefaultConfig(),
		Sequential:   sequential.DefaultConfig(),
		ArchiveWriter: archive.WriterConfig{CheckpointsPerFile: 5000},
		ArchiveReader: archive.ReaderConfig{DownloadConcurrency: 8},
	}
}

// Testnet returns parameters sized for a smaller, less stable validator
// set: shorter GC depth and faster round timeouts so misbehavior surfaces
// quickly.
func Testnet() Parameters {
	p := Mainnet()
	p.GCDepth = 32
	p.RoundTimeout = time.Second
	p.ArchiveWriter.CheckpointsPerFile = 1000
	p.ArchiveReader.DownloadConcurrency = 4
	return p
}

// Local returns parameters for a single-process development network:
// aggressive timeouts, tiny files, no swap table (every authority is
// assumed honest).
func Local() Parameters {
	return Parameters{
		GCDepth:      8,
		SwapWindow:   0,
		RoundTimeout: 100 * time.Millisecond,
		Block:        blockbuilder.DefaultParameters(),
		Ingestion:    ingestion.Config{CheckInterval: 2, BufferSize: 0},
		Sequential:   sequential.Config{CollectInterval: 50 * time.Millisecond, CheckpointLag: 0, WarnPendingWatermarks: 200},
		ArchiveWriter: archive.WriterConfig{CheckpointsPerFile: 10},
		ArchiveReader: archive.ReaderConfig{DownloadConcurrency: 1},
	}
}
