package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultRPCAddress, cfg.RPCAddress)
	require.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.DataDir, reloaded.DataDir)
	require.Equal(t, 120, reloaded.RPC.RequestsPerMinute)
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
DBBackend = "bolt"
GenesisFile = "genesis.yaml"
Env = "staging"

[Pauses]
Marketplace = true

[Quotas.Marketplace]
MaxRequestsPerEpoch = 5
EpochSeconds = 60

[RPC]
JWTSecretEnv = "MARKET_TEST_JWT"
RequestsPerMinute = 30
Burst = 5
AllowedOrigins = ["https://shop.example"]
MaxConnections = 64

[Telemetry]
Endpoint = "otel:4318"
Traces = true

[Indexer]
DatabaseURL = "file::memory:"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	t.Setenv("MARKET_TEST_JWT", "0123456789abcdef0123456789abcdef")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.RPCAddress)
	require.Equal(t, DefaultNetworkName, cfg.NetworkName)
	require.Equal(t, "bolt", cfg.DBBackend)
	require.Equal(t, 64, cfg.RPC.MaxConnections)
	require.True(t, cfg.Pauses.IsPaused("marketplace"))
	require.False(t, cfg.Pauses.IsPaused("bank"))
	require.Equal(t, uint32(5), cfg.Quotas.Marketplace.Common().MaxRequestsPerEpoch)
	require.Equal(t, "0123456789abcdef0123456789abcdef", cfg.RPC.JWTSecret)
	require.Equal(t, []string{"https://shop.example"}, cfg.RPC.AllowedOrigins)
	require.True(t, cfg.Telemetry.Traces)
	require.True(t, cfg.Indexer.Enabled())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ListenAddress = \":6001\"\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad address":  func(c *Config) { c.RPCAddress = "nope" },
		"no data dir":  func(c *Config) { c.DataDir = " " },
		"bad backend":  func(c *Config) { c.DBBackend = "rocksdb" },
		"conn limit":   func(c *Config) { c.RPC.MaxConnections = -1 },
		"short secret": func(c *Config) { c.RPC.JWTSecret = "short" },
		"zero burst":   func(c *Config) { c.RPC.Burst = 0 },
		"bad origin":   func(c *Config) { c.RPC.AllowedOrigins = []string{"shop"} },
		"quota epoch":  func(c *Config) { c.Quotas.Marketplace.MaxRequestsPerEpoch = 1 },
		"otel endpoint": func(c *Config) {
			c.Telemetry.Metrics = true
			c.Telemetry.Endpoint = ""
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
	require.NoError(t, Default().Validate())
}
