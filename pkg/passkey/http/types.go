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

package http

import (
	"encoding/json"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// RegistrationOptionsRequest is the request body for
// POST /api/generate-registration-options.
type RegistrationOptionsRequest struct {
	// Username is the account to register a passkey for (required).
	Username string `json:"username"`

	// UserVerification overrides the configured user verification
	// requirement for this ceremony.
	UserVerification string `json:"userVerification,omitempty"`

	// ResidentKey overrides the configured resident key requirement.
	ResidentKey string `json:"residentKey,omitempty"`

	// AuthenticatorAttachment restricts the authenticator type.
	AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`

	// AttestationType overrides the attestation conveyance preference.
	AttestationType string `json:"attestationType,omitempty"`

	// Timeout overrides the advertised ceremony timeout, in milliseconds.
	Timeout int `json:"timeout,omitempty"`
}

// AuthenticationOptionsRequest is the request body for
// POST /api/generate-authentication-options. All fields are optional; an
// empty body requests a discoverable (username-less) ceremony.
type AuthenticationOptionsRequest struct {
	// Username requests a ceremony bound to this account's credentials.
	Username string `json:"username,omitempty"`

	// UserVerification overrides the configured user verification
	// requirement for this ceremony.
	UserVerification string `json:"userVerification,omitempty"`

	// Timeout overrides the advertised ceremony timeout, in milliseconds.
	Timeout int `json:"timeout,omitempty"`
}

// RegistrationOptionsResponse carries the creation options with the
// challenge ID alongside. The embedded options marshal flat, so clients can
// pass the body straight to the platform credential API after lifting out
// challengeId.
type RegistrationOptionsResponse struct {
	protocol.PublicKeyCredentialCreationOptions

	// ChallengeID must be echoed back on /api/verify-registration.
	ChallengeID string `json:"challengeId"`
}

// AuthenticationOptionsResponse carries the assertion options with the
// challenge ID alongside.
type AuthenticationOptionsResponse struct {
	protocol.PublicKeyCredentialRequestOptions

	// ChallengeID must be echoed back on /api/verify-authentication.
	ChallengeID string `json:"challengeId"`
}

// VerifyRequest is the request body for both verification endpoints.
type VerifyRequest struct {
	// Response is the raw authenticator response as produced by the
	// platform credential API.
	Response json.RawMessage `json:"response"`

	// ChallengeID identifies the ceremony being completed.
	ChallengeID string `json:"challengeId"`
}

// VerifyRegistrationResponse is the response body for
// POST /api/verify-registration.
type VerifyRegistrationResponse struct {
	Verified         bool              `json:"verified"`
	RegistrationInfo *RegistrationInfo `json:"registrationInfo,omitempty"`
}

// RegistrationInfo describes the newly registered passkey.
type RegistrationInfo struct {
	CredentialID     string   `json:"credentialId"`
	AttestationType  string   `json:"attestationType"`
	Transports       []string `json:"transports,omitempty"`
	SignatureCounter uint32   `json:"signatureCounter"`
}

// VerifyAuthenticationResponse is the response body for
// POST /api/verify-authentication. Username and Token are only present when
// Verified is true.
type VerifyAuthenticationResponse struct {
	Verified bool   `json:"verified"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UserSummary describes one account on the debug listing endpoint.
type UserSummary struct {
	Username  string           `json:"username"`
	CreatedAt time.Time        `json:"createdAt"`
	Passkeys  []PasskeySummary `json:"passkeys"`
}

// PasskeySummary describes one registered passkey without exposing key
// material.
type PasskeySummary struct {
	CredentialID     string    `json:"credentialId"`
	Transports       []string  `json:"transports,omitempty"`
	SignatureCounter uint32    `json:"signatureCounter"`
	CloneWarning     bool      `json:"cloneWarning"`
	CreatedAt        time.Time `json:"createdAt"`
	LastUsedAt       time.Time `json:"lastUsedAt,omitempty"`
}
