package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultRPCAddress  = "127.0.0.1:8545"
	DefaultDataDir     = "./nhb-market-data"
	DefaultNetworkName = "nhb-market-local"
	DefaultDBBackend   = "leveldb"
)

type Config struct {
	RPCAddress  string          `toml:"RPCAddress"`
	DataDir     string          `toml:"DataDir"`
	DBBackend   string          `toml:"DBBackend"`
	NetworkName string          `toml:"NetworkName"`
	GenesisFile string          `toml:"GenesisFile"`
	Env         string          `toml:"Env"`
	LogFile     string          `toml:"LogFile"`
	Pauses      Pauses          `toml:"Pauses"`
	Quotas      Quotas          `toml:"Quotas"`
	RPC         RPCConfig       `toml:"RPC"`
	Telemetry   TelemetryConfig `toml:"Telemetry"`
	Indexer     IndexerConfig   `toml:"Indexer"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %q", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = DefaultNetworkName
	}
	if strings.TrimSpace(cfg.DBBackend) == "" {
		cfg.DBBackend = DefaultDBBackend
	}
	if cfg.RPC.AllowedOrigins == nil {
		cfg.RPC.AllowedOrigins = []string{}
	}
	if cfg.RPC.JWTSecret == "" && cfg.RPC.JWTSecretEnv != "" {
		cfg.RPC.JWTSecret = os.Getenv(cfg.RPC.JWTSecretEnv)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		RPCAddress:  DefaultRPCAddress,
		DataDir:     DefaultDataDir,
		DBBackend:   DefaultDBBackend,
		NetworkName: DefaultNetworkName,
		Env:         "local",
		RPC: RPCConfig{
			JWTIssuer:         "nhb-market",
			RequestsPerMinute: 120,
			Burst:             20,
			AllowedOrigins:    []string{},
		},
		Telemetry: TelemetryConfig{Endpoint: "localhost:4318", Insecure: true},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
