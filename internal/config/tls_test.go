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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSignedCert generates a throwaway certificate and key pair and
// returns their paths.
func writeSelfSignedCert(t *testing.T) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	require.NoError(t, os.WriteFile(certPath,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyPath,
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0600))
	return certPath, keyPath
}

func TestLoadTLSConfig_Disabled(t *testing.T) {
	cfg := &TLSConfig{}
	tlsConfig, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsConfig)
}

func TestLoadTLSConfig(t *testing.T) {
	certPath, keyPath := writeSelfSignedCert(t)

	cfg := &TLSConfig{
		Enabled:  true,
		CertFile: certPath,
		KeyFile:  keyPath,
	}
	tlsConfig, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	require.NotNil(t, tlsConfig)

	assert.Len(t, tlsConfig.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
	assert.Equal(t, tls.NoClientCert, tlsConfig.ClientAuth)
}

func TestLoadTLSConfig_Versions(t *testing.T) {
	certPath, keyPath := writeSelfSignedCert(t)

	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certPath,
		KeyFile:    keyPath,
		MinVersion: "TLS1.3",
		MaxVersion: "TLS1.3",
	}
	tlsConfig, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), tlsConfig.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), tlsConfig.MaxVersion)
}

func TestLoadTLSConfig_ClientAuth(t *testing.T) {
	certPath, keyPath := writeSelfSignedCert(t)

	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certPath,
		KeyFile:    keyPath,
		ClientAuth: "require_and_verify",
		CAFile:     certPath,
	}
	tlsConfig, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, tlsConfig.ClientAuth)
	assert.NotNil(t, tlsConfig.ClientCAs)
}

func TestLoadTLSConfig_InvalidClientAuth(t *testing.T) {
	certPath, keyPath := writeSelfSignedCert(t)

	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certPath,
		KeyFile:    keyPath,
		ClientAuth: "sometimes",
	}
	_, err := cfg.LoadTLSConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown client auth type")
}

func TestLoadTLSConfig_MissingCert(t *testing.T) {
	cfg := &TLSConfig{
		Enabled:  true,
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	}
	_, err := cfg.LoadTLSConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load server certificate")
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("TLS1.2"))
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("TLS1.3"))
	// Unknown versions fall back to TLS 1.2.
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("SSL3.0"))
}

func TestParseClientAuthType(t *testing.T) {
	tests := []struct {
		in      string
		want    tls.ClientAuthType
		wantErr bool
	}{
		{"", tls.NoClientCert, false},
		{"none", tls.NoClientCert, false},
		{"request", tls.RequestClientCert, false},
		{"require", tls.RequireAnyClientCert, false},
		{"verify", tls.VerifyClientCertIfGiven, false},
		{"require_and_verify", tls.RequireAndVerifyClientCert, false},
		{"bogus", tls.NoClientCert, true},
	}

	for _, tt := range tests {
		got, err := parseClientAuthType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
