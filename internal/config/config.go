// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// Config represents the complete server configuration
type Config struct {
	Server       ServerConfig    `yaml:"server"`
	RelyingParty passkey.Config  `yaml:"relying_party"`
	Logging      LoggingConfig   `yaml:"logging"`
	TLS          TLSConfig       `yaml:"tls"`
	Token        TokenConfig     `yaml:"token"`
	RateLimit    RateLimitConfig `yaml:"ratelimit"`
	Metrics      MetricsConfig   `yaml:"metrics"`
	Health       HealthConfig    `yaml:"health"`
	Storage      StorageConfig   `yaml:"storage"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TLSConfig controls TLS/SSL settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Client certificate verification (mTLS)
	ClientAuth string   `yaml:"client_auth"` // none, request, require, verify, require_and_verify
	ClientCAs  []string `yaml:"client_cas"`  // Additional client CA certificates

	// TLS version bounds
	MinVersion string `yaml:"min_version"` // TLS1.2, TLS1.3
	MaxVersion string `yaml:"max_version"` // TLS1.2, TLS1.3
}

// TokenConfig controls post-authentication token issuance
type TokenConfig struct {
	Enabled bool `yaml:"enabled"`

	// Secret signs tokens with HMAC-SHA256. Mutually exclusive with
	// PrivateKeyFile.
	Secret string `yaml:"secret"`

	// PrivateKeyFile is a PEM-encoded ECDSA, Ed25519 or RSA private key.
	PrivateKeyFile string `yaml:"private_key_file"`

	Issuer    string        `yaml:"issuer"`
	Audience  []string      `yaml:"audience"`
	ExpiresIn time.Duration `yaml:"expires_in"`
	KeyID     string        `yaml:"key_id"`
}

// RateLimitConfig controls rate limiting on the verification endpoints
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Port    int    `yaml:"port"`
}

// HealthConfig controls health check endpoints
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StorageConfig selects the persistence backend for users, passkeys
// and challenges
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite
	Path    string `yaml:"path"`    // sqlite database file
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration suitable for local development: memory
// storage, plaintext HTTP on localhost, metrics and health enabled.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 8080},
		RelyingParty: passkey.Config{
			RPID:          "localhost",
			RPDisplayName: "go-passkey",
			RPOrigins:     []string{"http://localhost:8080"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Health:  HealthConfig{Enabled: true},
		Storage: StorageConfig{Backend: "memory"},
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in unset fields with sensible defaults
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.RateLimit.RequestsPerMin == 0 {
		c.RateLimit.RequestsPerMin = 60
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	c.RelyingParty.SetDefaults()
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PASSKEY_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portEnv := os.Getenv("PASSKEY_PORT"); portEnv != "" {
		port, err := strconv.Atoi(portEnv)
		if err != nil {
			log.Printf("Warning: invalid PASSKEY_PORT value %q, using default %d: %v",
				portEnv, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid PASSKEY_PORT value %q (out of range 1-65535), using default %d",
				portEnv, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	// Logging
	if level := os.Getenv("PASSKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PASSKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Relying party
	if rpID := os.Getenv("PASSKEY_RP_ID"); rpID != "" {
		cfg.RelyingParty.RPID = rpID
	}
	if origins := os.Getenv("PASSKEY_RP_ORIGINS"); origins != "" {
		cfg.RelyingParty.RPOrigins = strings.Split(origins, ",")
	}

	// Storage
	if dataPath := os.Getenv("PASSKEY_DATA_PATH"); dataPath != "" {
		cfg.Storage.Path = dataPath
	}

	// Token signing secret; keeps the secret out of the config file
	if secret := os.Getenv("PASSKEY_TOKEN_SECRET"); secret != "" {
		cfg.Token.Secret = secret
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json, text, or console)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s (must be memory or sqlite)", c.Storage.Backend)
	}

	if c.Token.Enabled {
		if c.Token.Secret == "" && c.Token.PrivateKeyFile == "" {
			return fmt.Errorf("token signing requires a secret or private_key_file")
		}
		if c.Token.Secret != "" && c.Token.PrivateKeyFile != "" {
			return fmt.Errorf("token secret and private_key_file are mutually exclusive")
		}
	}

	if err := c.RelyingParty.Validate(); err != nil {
		return fmt.Errorf("relying_party: %w", err)
	}

	return nil
}
