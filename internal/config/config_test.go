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
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9090
  shutdown_timeout: 10s

relying_party:
  id: example.com
  display_name: Example Corp
  origins:
    - https://example.com
  challenge_ttl: 2m
  user_verification: required

logging:
  level: debug
  format: text

storage:
  backend: sqlite
  path: /var/lib/passkey/passkey.db

ratelimit:
  enabled: true
  requests_per_min: 120
  burst: 20

metrics:
  enabled: true
  port: 9091

health:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "example.com", cfg.RelyingParty.RPID)
	assert.Equal(t, "Example Corp", cfg.RelyingParty.RPDisplayName)
	assert.Equal(t, []string{"https://example.com"}, cfg.RelyingParty.RPOrigins)
	assert.Equal(t, 2*time.Minute, cfg.RelyingParty.ChallengeTTL)
	assert.Equal(t, "required", cfg.RelyingParty.UserVerification)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/passkey/passkey.db", cfg.Storage.Path)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMin)
	assert.Equal(t, 20, cfg.RateLimit.Burst)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path) // defaulted
	assert.Equal(t, 9091, cfg.Metrics.Port)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
relying_party:
  id: example.com
  display_name: Example
  origins: [https://example.com]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMin)

	// Relying party defaults flow through too.
	assert.Equal(t, 5*time.Minute, cfg.RelyingParty.ChallengeTTL)
	assert.Equal(t, "preferred", cfg.RelyingParty.UserVerification)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PASSKEY_HOST", "0.0.0.0")
	t.Setenv("PASSKEY_PORT", "9999")
	t.Setenv("PASSKEY_LOG_LEVEL", "warn")
	t.Setenv("PASSKEY_RP_ID", "override.example.com")
	t.Setenv("PASSKEY_RP_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("PASSKEY_TOKEN_SECRET", "env-secret")

	path := writeConfig(t, `
relying_party:
  id: example.com
  display_name: Example
  origins: [https://example.com]
token:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "override.example.com", cfg.RelyingParty.RPID)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RelyingParty.RPOrigins)
	assert.Equal(t, "env-secret", cfg.Token.Secret)
}

func TestLoad_InvalidEnvPort(t *testing.T) {
	t.Setenv("PASSKEY_PORT", "not-a-port")

	path := writeConfig(t, `
relying_party:
  id: example.com
  display_name: Example
  origins: [https://example.com]
`)

	// An unparseable port falls back to the configured value.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(cfg *Config) { cfg.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(cfg *Config) { cfg.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name:    "tls without cert",
			mutate:  func(cfg *Config) { cfg.TLS.Enabled = true; cfg.TLS.KeyFile = "key.pem" },
			wantErr: "cert_file is required",
		},
		{
			name:    "tls without key",
			mutate:  func(cfg *Config) { cfg.TLS.Enabled = true; cfg.TLS.CertFile = "cert.pem" },
			wantErr: "key_file is required",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(cfg *Config) { cfg.Storage.Backend = "postgres" },
			wantErr: "unknown storage backend",
		},
		{
			name:    "sqlite without path",
			mutate:  func(cfg *Config) { cfg.Storage.Backend = "sqlite" },
			wantErr: "storage path is required",
		},
		{
			name:    "token enabled without key material",
			mutate:  func(cfg *Config) { cfg.Token.Enabled = true },
			wantErr: "requires a secret or private_key_file",
		},
		{
			name: "token secret and key file",
			mutate: func(cfg *Config) {
				cfg.Token.Enabled = true
				cfg.Token.Secret = "s"
				cfg.Token.PrivateKeyFile = "key.pem"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "invalid relying party",
			mutate:  func(cfg *Config) { cfg.RelyingParty.RPID = "" },
			wantErr: "relying_party",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTokenConfig_CreateTokenGenerator_Disabled(t *testing.T) {
	cfg := &TokenConfig{}
	generator, err := cfg.CreateTokenGenerator()
	require.NoError(t, err)
	assert.Nil(t, generator)
}

func TestTokenConfig_CreateTokenGenerator_Secret(t *testing.T) {
	cfg := &TokenConfig{
		Enabled: true,
		Secret:  "test-secret",
		Issuer:  "test-issuer",
	}
	generator, err := cfg.CreateTokenGenerator()
	require.NoError(t, err)
	require.NotNil(t, generator)

	token, err := generator.GenerateToken(context.Background(), &passkey.User{
		ID:       "user-1",
		Username: "alice@example.com",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestTokenConfig_CreateTokenGenerator_PrivateKeyFile(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "key.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(keyPath, pemData, 0600))

	cfg := &TokenConfig{
		Enabled:        true,
		PrivateKeyFile: keyPath,
	}
	generator, err := cfg.CreateTokenGenerator()
	require.NoError(t, err)
	require.NotNil(t, generator)

	token, err := generator.GenerateToken(context.Background(), &passkey.User{
		ID:       "user-1",
		Username: "alice@example.com",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestTokenConfig_CreateTokenGenerator_BadKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a pem file"), 0600))

	cfg := &TokenConfig{
		Enabled:        true,
		PrivateKeyFile: keyPath,
	}
	_, err := cfg.CreateTokenGenerator()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PEM block")
}

func TestTokenConfig_CreateTokenGenerator_MissingKeyFile(t *testing.T) {
	cfg := &TokenConfig{
		Enabled:        true,
		PrivateKeyFile: "/nonexistent/key.pem",
	}
	_, err := cfg.CreateTokenGenerator()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load token signing key")
}
