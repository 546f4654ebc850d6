// Copyright (C) 2024-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/luxfi/dagbft/config"
	"github.com/spf13/cobra"
)

func validateConfigCmd() *cobra.Command {
	var preset string
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate a named deployment preset",
		Long: `Load one of the mainnet, testnet, or local parameter presets and report
whether it satisfies config.Parameters.Validate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := presetByName(preset)
			if err != nil {
				return err
			}
			if err := p.Validate(); err != nil {
				return fmt.Errorf("preset %q invalid: %w", preset, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "preset %q valid: gc_depth=%d swap_window=%d round_timeout=%s\n",
				preset, p.GCDepth, p.SwapWindow, p.RoundTimeout)
			return nil
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "local", "preset to validate: mainnet, testnet, local")
	return cmd
}

func presetByName(name string) (config.Parameters, error) {
	switch name {
	case "mainnet":
		return config.Mainnet(), nil
	case "testnet":
		return config.Testnet(), nil
	case "local":
		return config.Local(), nil
	default:
		return config.Parameters{}, fmt.Errorf("unknown preset %q (want mainnet, testnet, or local)", name)
	}
}
