// Package config loads the gateway's single YAML configuration tree,
// scoped to exactly the settings the gateway core needs: listen
// addresses, storage location, token TTLs, and buffer sizes. Chat-adapter
// and CLI cosmetic settings live with their own binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the gRPC and HTTP listeners.
type ServerConfig struct {
	Host     string `yaml:"host"`
	GRPCPort int    `yaml:"grpc_port"`
	HTTPPort int    `yaml:"http_port"`
}

// StorageConfig configures the durable relational store.
type StorageConfig struct {
	// Driver selects "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the sqlite file path or postgres connection string.
	DSN string `yaml:"dsn"`
}

// AuthConfig configures bearer-token signing.
type AuthConfig struct {
	// JWTSecret signs issued bearer tokens. Required in production;
	// a random secret is generated for a config that omits it, which
	// invalidates every previously issued token on restart.
	JWTSecret string `yaml:"jwt_secret"`
}

// TimeoutsConfig overrides some of the gateway's default timing constants.
// Zero values fall back to the package defaults. Only ToolApproval and
// HeartbeatInterval are applied; PackExecute and LinkCodePending are parsed
// but not read, so pack execution timeouts and link-code expiry come from
// internal/packdispatch and internal/linking alone.
type TimeoutsConfig struct {
	ToolApproval   time.Duration `yaml:"tool_approval"`
	PackExecute    time.Duration `yaml:"pack_execute"`
	LinkCodePending time.Duration `yaml:"link_code_pending"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// Config is the gateway's complete runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	LogFormat string          `yaml:"log_format"` // "text" or "json"
	LogLevel  string          `yaml:"log_level"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			GRPCPort: 7330,
			HTTPPort: 7331,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "gateway.db",
		},
		LogFormat: "text",
		LogLevel:  "info",
	}
}

// Load reads and parses a YAML configuration file at path, overlaying it
// onto Default() so an operator only needs to specify overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
