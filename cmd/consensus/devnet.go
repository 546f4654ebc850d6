// Copyright (C) 2024-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/luxfi/dagbft/block"
	"github.com/luxfi/dagbft/blockbuilder"
	"github.com/luxfi/dagbft/blockstore"
	"github.com/luxfi/dagbft/commit"
	"github.com/luxfi/dagbft/config"
	"github.com/luxfi/dagbft/crypto/bls"
	"github.com/luxfi/dagbft/dagstate"
	"github.com/luxfi/dagbft/leaderschedule"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/spf13/cobra"
)

const devnetEpoch = 0

func devnetCmd() *cobra.Command {
	var preset string
	var authorities int
	var rounds int
	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Run the full pipeline in a single process over a synthetic committee",
		Long: `devnet builds a fully-linked local committee, proposes and verifies blocks
for a fixed number of rounds, evaluates the commit rule round by round, and
drains every resulting committed sub-DAG through the ingestion regulator,
sequential committer, and archive writer before verifying what was written.

No network transport is used: every authority's block proposal happens in
the same process, in round order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := presetByName(preset)
			if err != nil {
				return err
			}
			logger := log.NewLogger("devnet")
			return runDevnet(cmd.Context(), p, authorities, rounds, logger, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "local", "parameter preset: mainnet, testnet, local")
	cmd.Flags().IntVar(&authorities, "authorities", 4, "number of authorities in the committee")
	cmd.Flags().IntVar(&rounds, "rounds", 8, "number of rounds to produce")
	return cmd
}

// authorityKey pairs a committee slot with the secret it signs with.
type authorityKey struct {
	idx    block.AuthorityIndex
	secret *bls.SecretKey
}

func buildCommittee(n int) (*block.Committee, []authorityKey, error) {
	authorities := make([]block.Authority, n)
	keys := make([]authorityKey, n)
	for i := 0; i < n; i++ {
		sk, err := bls.GenerateKey()
		if err != nil {
			return nil, nil, fmt.Errorf("devnet: generating key for authority %d: %w", i, err)
		}
		authorities[i] = block.Authority{
			Index:  block.AuthorityIndex(i),
			Stake:  1,
			PubKey: sk.PublicKey().Bytes(),
		}
		keys[i] = authorityKey{idx: block.AuthorityIndex(i), secret: sk}
	}
	c, err := block.NewCommittee(devnetEpoch, authorities)
	if err != nil {
		return nil, nil, err
	}
	return c, keys, nil
}

func runDevnet(ctx context.Context, p config.Parameters, numAuthorities, rounds int, logger log.Logger, out io.Writer) error {
	committee, keys, err := buildCommittee(numAuthorities)
	if err != nil {
		return err
	}

	bs := blockstore.New(memdb.New(), logger)
	genesis := block.GenesisBlocks(committee)
	for _, vb := range genesis {
		if err := bs.Put(vb); err != nil {
			return fmt.Errorf("devnet: storing genesis: %w", err)
		}
	}
	dag := dagstate.New(genesis, logger)

	builders := make([]*blockbuilder.Builder, numAuthorities)
	for _, k := range keys {
		builders[k.idx] = blockbuilder.New(committee, p.Block, k.idx, k.secret)
	}

	now := time.Now().UnixMilli()
	for round := block.Round(1); round <= block.Round(rounds); round++ {
		parents := dag.RefsAtRound(round - 1)
		nowMs := now + int64(round)*100
		for _, k := range keys {
			vb, err := builders[k.idx].Propose(round, parents, nil, nil, nowMs)
			if err != nil {
				return fmt.Errorf("devnet: authority %d proposing round %d: %w", k.idx, round, err)
			}
			if err := bs.Put(vb); err != nil {
				return fmt.Errorf("devnet: storing block: %w", err)
			}
			dag.Accept(vb)
		}
	}
	fmt.Fprintf(out, "produced %d rounds from %d authorities, dag tip round=%d\n", rounds, numAuthorities, dag.MaxRound())

	sch := leaderschedule.New(committee, p.SwapWindow)
	engine := commit.NewEngine(committee, dag, sch, devnetEpoch, logger)

	var subdags []*block.CommittedSubDag
	for round := block.Round(1); round+2 <= dag.MaxRound(); round++ {
		decision, leaderRef, err := engine.Evaluate(round, nil)
		if err != nil {
			return fmt.Errorf("devnet: evaluating round %d: %w", round, err)
		}
		if decision != commit.Committed {
			continue
		}
		batch, err := engine.Commit(leaderRef)
		if err != nil {
			return fmt.Errorf("devnet: committing round %d leader: %w", round, err)
		}
		subdags = append(subdags, batch...)
	}
	fmt.Fprintf(out, "committed %d sub-dags\n", len(subdags))

	return runArchivePipeline(ctx, p, subdags, logger, out)
}
