package config

import (
	"strings"

	"nhbmarket/native/common"
)

// Pauses holds operator switches that reject mutating calls per module.
type Pauses struct {
	Marketplace bool `toml:"Marketplace"`
}

// IsPaused implements common.PauseView.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "marketplace":
		return p.Marketplace
	default:
		return false
	}
}

// Quota defines rate limits for module interactions on a per-address basis.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds"`
}

// Common converts the quota into its runtime form.
func (q Quota) Common() common.Quota {
	return common.Quota{MaxRequestsPerEpoch: q.MaxRequestsPerEpoch, EpochSeconds: q.EpochSeconds}
}

// Quotas groups quotas for each module.
type Quotas struct {
	Marketplace Quota `toml:"Marketplace"`
}

// RPCConfig controls the JSON-RPC listener.
type RPCConfig struct {
	// JWTSecret enables bearer authentication on market_sendTransaction when
	// non-empty. JWTSecretEnv names an environment variable to read it from.
	JWTSecret         string   `toml:"JWTSecret"`
	JWTSecretEnv      string   `toml:"JWTSecretEnv"`
	JWTIssuer         string   `toml:"JWTIssuer"`
	RequestsPerMinute int      `toml:"RequestsPerMinute"`
	Burst             int      `toml:"Burst"`
	AllowedOrigins    []string `toml:"AllowedOrigins"`
	// MaxConnections caps concurrently accepted connections; zero means
	// unlimited.
	MaxConnections    int      `toml:"MaxConnections"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// IndexerConfig enables the SQL projection of the event log.
type IndexerConfig struct {
	DatabaseURL string `toml:"DatabaseURL"`
}

// Enabled reports whether a projection database is configured.
func (i IndexerConfig) Enabled() bool { return strings.TrimSpace(i.DatabaseURL) != "" }
