package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	switch strings.ToLower(strings.TrimSpace(c.DBBackend)) {
	case "leveldb", "bolt":
	default:
		return fmt.Errorf("DBBackend %q must be leveldb or bolt", c.DBBackend)
	}
	if _, _, err := net.SplitHostPort(c.RPCAddress); err != nil {
		return fmt.Errorf("RPCAddress %q: %w", c.RPCAddress, err)
	}
	if c.RPC.MaxConnections < 0 {
		return fmt.Errorf("rpc: MaxConnections must not be negative")
	}
	if c.RPC.RequestsPerMinute < 0 || c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: RequestsPerMinute and Burst must not be negative")
	}
	if c.RPC.RequestsPerMinute > 0 && c.RPC.Burst == 0 {
		return fmt.Errorf("rpc: Burst must be positive when RequestsPerMinute is set")
	}
	if secret := c.RPC.JWTSecret; secret != "" && len(secret) < 32 {
		return fmt.Errorf("rpc: JWTSecret must be at least 32 bytes")
	}
	for _, origin := range c.RPC.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("rpc: invalid allowed origin %q", origin)
		}
	}
	q := c.Quotas.Marketplace
	if q.MaxRequestsPerEpoch > 0 && q.EpochSeconds == 0 {
		return fmt.Errorf("quotas.marketplace: EpochSeconds must be positive when MaxRequestsPerEpoch is set")
	}
	if c.Telemetry.Traces || c.Telemetry.Metrics {
		if strings.TrimSpace(c.Telemetry.Endpoint) == "" {
			return fmt.Errorf("telemetry: Endpoint required when exporters are enabled")
		}
	}
	if dsn := strings.TrimSpace(c.Indexer.DatabaseURL); dsn != "" && strings.ContainsAny(dsn, "\n\r") {
		return fmt.Errorf("indexer: DatabaseURL must be a single line")
	}
	return nil
}
