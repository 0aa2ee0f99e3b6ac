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
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// CreateTokenGenerator builds the token generator from the configuration.
// Returns nil when token issuance is disabled; the coordinator then returns
// the username alone on successful sign-in.
func (cfg *TokenConfig) CreateTokenGenerator() (passkey.TokenGenerator, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	generatorConfig := &passkey.JWTGeneratorConfig{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		ExpiresIn: cfg.ExpiresIn,
		KeyID:     cfg.KeyID,
	}

	if cfg.PrivateKeyFile != "" {
		key, err := loadPrivateKey(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load token signing key: %w", err)
		}
		generatorConfig.PrivateKey = key
	} else {
		generatorConfig.Secret = []byte(cfg.Secret)
	}

	return passkey.NewJWTGenerator(generatorConfig)
}

// loadPrivateKey reads a PEM-encoded private key from disk. PKCS#8, SEC1
// (EC) and PKCS#1 (RSA) encodings are accepted.
func loadPrivateKey(path string) (crypto.PrivateKey, error) {
	// #nosec G304 - Key file path from trusted config
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		switch k := key.(type) {
		case *ecdsa.PrivateKey, ed25519.PrivateKey, *rsa.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("unsupported key type %T in %s", key, path)
		}
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("failed to parse private key in %s", path)
}
