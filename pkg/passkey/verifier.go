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
	"context"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// webAuthnVerifier is the default CredentialVerifier. It delegates all
// cryptographic checks (origin, RP ID hash, challenge binding, signature)
// to the go-webauthn library.
type webAuthnVerifier struct {
	webauthn *webauthn.WebAuthn
}

// NewWebAuthnVerifier creates the default verifier from the given config.
func NewWebAuthnVerifier(config *Config) (CredentialVerifier, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}
	return &webAuthnVerifier{webauthn: wa}, nil
}

// newVerifierFromInstance wraps an already-built webauthn instance.
func newVerifierFromInstance(wa *webauthn.WebAuthn) CredentialVerifier {
	return &webAuthnVerifier{webauthn: wa}
}

// VerifyAssertion verifies an authentication response.
//
// The session stored at issuance may predate knowledge of the credential
// owner (discoverable ceremonies), so the expected user handle is filled in
// here before validation. The library checks challenge binding, origin,
// RP ID hash, the user-presence flags and the signature; it does NOT fail
// on a counter regression, it only flags it. The counter policy is applied
// by the coordinator.
func (v *webAuthnVerifier) VerifyAssertion(ctx context.Context, assertion *protocol.ParsedCredentialAssertionData, expected Expected) (uint32, error) {
	if expected.User == nil {
		return 0, NewError("verify assertion", ErrUserNotFound)
	}

	session := expected.Session
	session.UserID = expected.User.Handle()

	cred, err := v.webauthn.ValidateLogin(&webauthnUser{user: expected.User}, session, assertion)
	if err != nil {
		return 0, WrapError("validate assertion", err)
	}

	return cred.Authenticator.SignCount, nil
}

// VerifyAttestation verifies a registration response and returns the
// resulting passkey.
func (v *webAuthnVerifier) VerifyAttestation(ctx context.Context, creation *protocol.ParsedCredentialCreationData, expected Expected) (*Passkey, error) {
	if expected.User == nil {
		return nil, NewError("verify attestation", ErrUserNotFound)
	}

	cred, err := v.webauthn.CreateCredential(&webauthnUser{user: expected.User}, expected.Session, creation)
	if err != nil {
		return nil, WrapError("validate attestation", err)
	}

	return FromWebAuthnCredential(cred), nil
}
