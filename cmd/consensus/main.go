// Copyright (C) 2024-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "consensus",
	Short: "DAG-BFT consensus tools for configuration and local pipeline runs",
	Long: `The consensus command drives the block store, DAG state, leader schedule,
block builder, commit engine, ingestion regulator, sequential committer, and
archive reader/writer as a single in-process pipeline, and validates the
named deployment presets.

This binary never opens a network socket: it is a library-wiring harness for
exercising the pipeline end to end, not a peer-to-peer node.`,
}

func main() {
	rootCmd.AddCommand(
		validateConfigCmd(),
		devnetCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
