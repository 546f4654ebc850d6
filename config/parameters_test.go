// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresetsValidate(t *testing.T) {
	for name, p := range map[string]Parameters{
		"mainnet": Mainnet(),
		"testnet": Testnet(),
		"local":   Local(),
	} {
		require.NoErrorf(t, p.Validate(), "%s preset should validate", name)
	}
}

func TestValidateRejectsZeroGCDepth(t *testing.T) {
	p := Local()
	p.GCDepth = 0
	require.ErrorIs(t, p.Validate(), ErrInvalidGCDepth)
}

func TestValidateRejectsNonPositiveRoundTimeout(t *testing.T) {
	p := Local()
	p.RoundTimeout = 0
	require.ErrorIs(t, p.Validate(), ErrInvalidRoundTimeout)
}
