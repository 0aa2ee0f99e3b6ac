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

package passkey

import (
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "missing RPID",
			config:  Config{RPDisplayName: "Example", RPOrigins: []string{"https://example.com"}},
			wantErr: "RPID is required",
		},
		{
			name:    "missing display name",
			config:  Config{RPID: "example.com", RPOrigins: []string{"https://example.com"}},
			wantErr: "RPDisplayName is required",
		},
		{
			name:    "missing origins",
			config:  Config{RPID: "example.com", RPDisplayName: "Example"},
			wantErr: "at least one RPOrigin is required",
		},
		{
			name: "negative challenge TTL",
			config: Config{
				RPID: "example.com", RPDisplayName: "Example",
				RPOrigins:    []string{"https://example.com"},
				ChallengeTTL: -time.Minute,
			},
			wantErr: "challenge TTL must not be negative",
		},
		{
			name: "invalid user verification",
			config: Config{
				RPID: "example.com", RPDisplayName: "Example",
				RPOrigins:        []string{"https://example.com"},
				UserVerification: "sometimes",
			},
			wantErr: "invalid user verification",
		},
		{
			name: "invalid attestation preference",
			config: Config{
				RPID: "example.com", RPDisplayName: "Example",
				RPOrigins:             []string{"https://example.com"},
				AttestationPreference: "always",
			},
			wantErr: "invalid attestation preference",
		},
		{
			name: "invalid resident key requirement",
			config: Config{
				RPID: "example.com", RPDisplayName: "Example",
				RPOrigins:              []string{"https://example.com"},
				ResidentKeyRequirement: "maybe",
			},
			wantErr: "invalid resident key requirement",
		},
		{
			name: "invalid authenticator attachment",
			config: Config{
				RPID: "example.com", RPDisplayName: "Example",
				RPOrigins:               []string{"https://example.com"},
				AuthenticatorAttachment: "usb",
			},
			wantErr: "invalid authenticator attachment",
		},
		{
			name: "valid minimal",
			config: Config{
				RPID: "example.com", RPDisplayName: "Example",
				RPOrigins: []string{"https://example.com"},
			},
		},
		{
			name: "valid full",
			config: Config{
				RPID: "example.com", RPDisplayName: "Example",
				RPOrigins:               []string{"https://example.com", "https://www.example.com"},
				Timeout:                 time.Minute,
				ChallengeTTL:            10 * time.Minute,
				UserVerification:        "required",
				AttestationPreference:   "direct",
				ResidentKeyRequirement:  "preferred",
				AuthenticatorAttachment: "platform",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	config := &Config{}
	config.SetDefaults()

	assert.Equal(t, 60*time.Second, config.Timeout)
	assert.Equal(t, 5*time.Minute, config.ChallengeTTL)
	assert.Equal(t, "preferred", config.UserVerification)
	assert.Equal(t, "none", config.AttestationPreference)
	// Resident keys default to required so registered passkeys can complete
	// the username-less flow.
	assert.Equal(t, "required", config.ResidentKeyRequirement)
}

func TestConfig_SetDefaults_PreservesExisting(t *testing.T) {
	config := &Config{
		Timeout:                30 * time.Second,
		ChallengeTTL:           time.Minute,
		UserVerification:       "required",
		ResidentKeyRequirement: "discouraged",
	}
	config.SetDefaults()

	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, time.Minute, config.ChallengeTTL)
	assert.Equal(t, "required", config.UserVerification)
	assert.Equal(t, "discouraged", config.ResidentKeyRequirement)
}

func TestConfig_ToWebAuthnConfig(t *testing.T) {
	config := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	}
	config.SetDefaults()

	waConfig := config.ToWebAuthnConfig()
	assert.Equal(t, "example.com", waConfig.RPID)
	assert.Equal(t, "Example", waConfig.RPDisplayName)
	assert.Equal(t, []string{"https://example.com"}, waConfig.RPOrigins)
	assert.Equal(t, protocol.PreferNoAttestation, waConfig.AttestationPreference)
	assert.Equal(t, protocol.VerificationPreferred, waConfig.AuthenticatorSelection.UserVerification)
	assert.Equal(t, protocol.ResidentKeyRequirementRequired, waConfig.AuthenticatorSelection.ResidentKey)
	require.NotNil(t, waConfig.AuthenticatorSelection.RequireResidentKey)
	assert.True(t, *waConfig.AuthenticatorSelection.RequireResidentKey)
	assert.True(t, waConfig.Timeouts.Login.Enforce)
	assert.Equal(t, 60*time.Second, waConfig.Timeouts.Login.Timeout)
}

func TestConfig_ToWebAuthnConfig_Attachment(t *testing.T) {
	config := &Config{
		RPID:                    "example.com",
		RPDisplayName:           "Example",
		RPOrigins:               []string{"https://example.com"},
		UserVerification:        "required",
		AttestationPreference:   "direct",
		AuthenticatorAttachment: "platform",
	}

	waConfig := config.ToWebAuthnConfig()
	assert.Equal(t, protocol.VerificationRequired, waConfig.AuthenticatorSelection.UserVerification)
	assert.Equal(t, protocol.PreferDirectAttestation, waConfig.AttestationPreference)
	assert.Equal(t, protocol.Platform, waConfig.AuthenticatorSelection.AuthenticatorAttachment)
}
