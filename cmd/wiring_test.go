package cmd

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zpoken/zkv-attestation-relay/types"
)

func TestParseVkHash(t *testing.T) {
	hash := "0x9e1b7d1f0e3a6c2d4b5a69788796a5b4c3d2e1f00112233445566778899aabbc"

	got, err := parseVkHash(hash)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash(hash), got)

	got, err = parseVkHash("")
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, got)

	for _, bad := range []string{
		"9e1b7d1f0e3a6c2d4b5a69788796a5b4c3d2e1f00112233445566778899aabbc",
		"0xnothex",
		"0x1234",
		"0x" + hash[2:] + "00",
		"0x0000000000000000000000000000000000000000000000000000000000000000",
	} {
		_, err := parseVkHash(bad)
		require.ErrorIs(t, err, types.ErrInvalidConfig, bad)
	}
}
