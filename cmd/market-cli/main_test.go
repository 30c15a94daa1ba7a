package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nhbmarket/core"
	"nhbmarket/core/genesis"
	"nhbmarket/rpc"
	"nhbmarket/storage"
)

type harness struct {
	cli    *cli
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(endpoint string) *harness {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	return &harness{
		cli: &cli{
			client:     newRPCClient(endpoint, ""),
			passphrase: func() (string, error) { return "correct horse", nil },
			stdout:     stdout,
			stderr:     stderr,
		},
		stdout: stdout,
		stderr: stderr,
	}
}

func (h *harness) run(t *testing.T, command string, args ...string) string {
	t.Helper()
	h.stdout.Reset()
	h.stderr.Reset()
	code := h.cli.dispatch(command, args)
	require.Equal(t, 0, code, "stderr: %s", h.stderr.String())
	return strings.TrimSpace(h.stdout.String())
}

func TestCLIMarketplaceFlow(t *testing.T) {
	dir := t.TempDir()
	offline := newHarness("http://127.0.0.1:0")
	sellerKey := filepath.Join(dir, "seller.json")
	buyerKey := filepath.Join(dir, "buyer.json")
	offline.run(t, "generate-key", "--out", sellerKey)
	offline.run(t, "generate-key", "--out", buyerKey)
	buyerAddr := offline.run(t, "address", "--key", buyerKey)
	require.True(t, strings.HasPrefix(buyerAddr, "nhb1"))

	spec, err := genesis.ParseGenesisSpec([]byte(fmt.Sprintf("genesisTime: \"2024-01-01T00:00:00Z\"\nalloc:\n  %s: \"5 ether\"\n", buyerAddr)))
	require.NoError(t, err)
	node, err := core.NewNode(storage.NewMemDB(), core.WithGenesis(spec))
	require.NoError(t, err)
	srv := httptest.NewServer(rpc.NewServer(node, rpc.Config{}, nil).Handler())
	defer srv.Close()

	h := newHarness(srv.URL)
	require.Equal(t, "Marketplace", h.run(t, "name"))
	require.Equal(t, "0", h.run(t, "count"))

	out := h.run(t, "list", "--key", sellerKey, "--name", "phone", "--price", "1.5 ether")
	require.Contains(t, out, `"productId": 1`)
	require.Equal(t, "1", h.run(t, "count"))

	out = h.run(t, "purchase", "--key", buyerKey, "--id", "1", "--payment", "1.5 ether")
	require.Contains(t, out, `"purchased": true`)

	out = h.run(t, "product", "1")
	require.Contains(t, out, buyerAddr)

	out = h.run(t, "balance", buyerAddr)
	require.Contains(t, out, "Balance: 3.5")
	require.Contains(t, out, "Nonce:   1")

	out = h.run(t, "events", "--cursor", "1")
	require.Contains(t, out, "marketplace.product.purchased")

	exportPath := filepath.Join(dir, "events.parquet")
	out = h.run(t, "export", "--out", exportPath)
	require.Contains(t, out, "Wrote 3 records")
	info, err := os.Stat(exportPath)
	require.NoError(t, err)
	require.Positive(t, info.Size())

	h.stdout.Reset()
	h.stderr.Reset()
	code := h.cli.dispatch("purchase", []string{"--key", buyerKey, "--id", "1", "--payment", "2 ether"})
	require.Equal(t, 2, code)
	require.Contains(t, h.stderr.String(), "already purchased")
}

func TestCLIRejectsUnknownCommand(t *testing.T) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	require.Equal(t, 1, run([]string{"frobnicate"}, stdout, stderr))
	require.Contains(t, stderr.String(), "Unknown command: frobnicate")
	require.Equal(t, 1, run(nil, stdout, stderr))
}

func TestGenerateKeyRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	h := newHarness("http://127.0.0.1:0")
	require.Equal(t, 1, h.cli.dispatch("generate-key", []string{"--out", path}))
	require.Contains(t, h.stderr.String(), "refusing to overwrite")
}
