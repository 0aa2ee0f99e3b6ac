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

package client

import (
	"bytes"
	"context"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// Authenticator abstracts the platform credential capability: given
// assertion options it either produces a signed response or reports why it
// could not.
//
// Implementations return ErrNoCredential when no usable passkey exists for
// the ceremony and ErrCancelled when the user dismissed the prompt. Both
// are expected outcomes, not failures.
type Authenticator interface {
	// GetAssertion signs the challenge in the given options.
	GetAssertion(ctx context.Context, options protocol.PublicKeyCredentialRequestOptions) (*protocol.CredentialAssertionResponse, error)

	// CreateCredential produces a registration response for the given
	// creation options.
	CreateCredential(ctx context.Context, options protocol.PublicKeyCredentialCreationOptions) (*protocol.CredentialCreationResponse, error)
}

// LocalAuthenticator is an Authenticator backed by an in-process software
// passkey. It is used by the demo CLI and in tests; real deployments plug
// in the platform credential API instead.
type LocalAuthenticator struct {
	authenticator *passkey.MockAuthenticator
	origin        string
	registered    bool
}

// NewLocalAuthenticator creates a local authenticator for the given relying
// party and origin. The passkey starts unregistered; CreateCredential marks
// it registered so later assertions can find it.
func NewLocalAuthenticator(rpID, origin string, userHandle []byte) (*LocalAuthenticator, error) {
	authenticator, err := passkey.NewMockAuthenticator(rpID, passkey.WithUserHandle(userHandle))
	if err != nil {
		return nil, err
	}
	return &LocalAuthenticator{
		authenticator: authenticator,
		origin:        origin,
	}, nil
}

// Registered reports whether the passkey has completed registration.
func (a *LocalAuthenticator) Registered() bool {
	return a.registered
}

// CredentialID returns the passkey's credential ID.
func (a *LocalAuthenticator) CredentialID() []byte {
	return a.authenticator.CredentialID
}

// GetAssertion signs the challenge from the options. It honors the
// allowCredentials restriction: if the list is non-empty and does not
// contain this passkey, the assertion is refused with ErrNoCredential,
// matching a platform authenticator with no eligible credential.
func (a *LocalAuthenticator) GetAssertion(ctx context.Context, options protocol.PublicKeyCredentialRequestOptions) (*protocol.CredentialAssertionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !a.registered {
		return nil, ErrNoCredential
	}
	if len(options.AllowedCredentials) > 0 && !a.allowed(options.AllowedCredentials) {
		return nil, ErrNoCredential
	}

	parsed, err := a.authenticator.CreateAssertionResponse(options.Challenge, a.origin)
	if err != nil {
		return nil, err
	}
	return &parsed.Raw, nil
}

// CreateCredential produces a registration response for the options.
func (a *LocalAuthenticator) CreateCredential(ctx context.Context, options protocol.PublicKeyCredentialCreationOptions) (*protocol.CredentialCreationResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, excluded := range options.CredentialExcludeList {
		if bytes.Equal(excluded.CredentialID, a.authenticator.CredentialID) {
			return nil, ErrNoCredential
		}
	}

	parsed, err := a.authenticator.CreateAttestationResponse(options.Challenge, a.origin)
	if err != nil {
		return nil, err
	}
	a.registered = true
	return &parsed.Raw, nil
}

func (a *LocalAuthenticator) allowed(descriptors []protocol.CredentialDescriptor) bool {
	for _, d := range descriptors {
		if bytes.Equal(d.CredentialID, a.authenticator.CredentialID) {
			return true
		}
	}
	return false
}
