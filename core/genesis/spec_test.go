package genesis

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nhbmarket/core/types"
	"nhbmarket/crypto"
)

func TestLoadGenesisSpec(t *testing.T) {
	addr1 := crypto.MustNewAddress(crypto.NHBPrefix, bytes.Repeat([]byte{0x02}, 20))
	addr2 := crypto.MustNewAddress(crypto.NHBPrefix, bytes.Repeat([]byte{0x01}, 20))
	doc := fmt.Sprintf(`genesisTime: "2024-01-01T00:00:00Z"
chainId: 42
alloc:
  %s: "10 ether"
  %s: "500"
`, addr1, addr2)

	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	spec, err := LoadGenesisSpec(path)
	require.NoError(t, err)
	require.Equal(t, uint64(42), spec.ChainIDValue())
	require.Equal(t, 2024, spec.GenesisTimestamp().Year())

	allocs := spec.Allocations()
	require.Len(t, allocs, 2)
	require.Equal(t, addr2.Raw(), allocs[0].Address, "allocations are sorted by address")
	require.Equal(t, "500", allocs[0].Amount.String())
	require.Equal(t, "10000000000000000000", allocs[1].Amount.String())
}

func TestParseGenesisSpecRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing time":  "alloc: {}\n",
		"unknown field": "genesisTime: \"2024-01-01T00:00:00Z\"\nvalidators: []\n",
		"bad address":   "genesisTime: \"2024-01-01T00:00:00Z\"\nalloc:\n  nope: \"1\"\n",
		"zero chain id": "genesisTime: \"2024-01-01T00:00:00Z\"\nchainId: 0\n",
	}
	for name, doc := range cases {
		_, err := ParseGenesisSpec([]byte(doc))
		require.Error(t, err, name)
	}
}

func TestDefaultChainID(t *testing.T) {
	spec, err := ParseGenesisSpec([]byte("genesisTime: \"2024-01-01T00:00:00Z\"\n"))
	require.NoError(t, err)
	require.Equal(t, types.DefaultChainID, spec.ChainIDValue())
	require.Empty(t, spec.Allocations())
}

func TestGenesisPausedModules(t *testing.T) {
	spec, err := ParseGenesisSpec([]byte("genesisTime: \"2024-01-01T00:00:00Z\"\npaused:\n  - Marketplace\n"))
	require.NoError(t, err)
	require.True(t, spec.IsPaused("marketplace"))
	require.False(t, spec.IsPaused("bank"))

	var nilSpec *GenesisSpec
	require.False(t, nilSpec.IsPaused("marketplace"))
}
