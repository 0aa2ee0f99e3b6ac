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

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// UserStore persists users and their passkeys.
type UserStore interface {
	// Get retrieves a user by username.
	// Returns ErrUserNotFound if the user doesn't exist.
	Get(ctx context.Context, username string) (*User, error)

	// Create creates a new user with the given username.
	// Returns ErrUserExists if the username is taken.
	Create(ctx context.Context, username string) (*User, error)

	// AddPasskey appends a passkey to a user.
	// Returns ErrUserNotFound if the user doesn't exist and
	// ErrCredentialExists if the credential ID is already registered.
	AddPasskey(ctx context.Context, username string, passkey *Passkey) error

	// FindByCredentialID resolves a credential ID to its owner and the
	// matching passkey. Returns ErrCredentialNotFound if no user owns it.
	FindByCredentialID(ctx context.Context, credentialID []byte) (*User, *Passkey, error)

	// UpdateCounter persists a new signature counter using compare-and-swap
	// semantics: the update applies only if the stored counter still equals
	// observed. Returns ErrCounterConflict if it doesn't, so the caller can
	// re-read and re-apply the counter policy.
	UpdateCounter(ctx context.Context, credentialID []byte, observed, updated uint32) error

	// FlagClone marks a passkey as possibly cloned after a counter
	// regression.
	FlagClone(ctx context.Context, credentialID []byte) error

	// List returns all users.
	List(ctx context.Context) ([]*User, error)

	// Delete removes a user and all their passkeys.
	// Returns ErrUserNotFound if the user doesn't exist.
	Delete(ctx context.Context, username string) error
}

// ChallengeStore persists issued challenges for the duration of a ceremony.
// Implementations enforce the challenge TTL.
type ChallengeStore interface {
	// Put stores a newly issued challenge.
	Put(ctx context.Context, challenge *Challenge) error

	// Get retrieves a challenge without consuming it.
	// Returns ErrChallengeNotFound if absent, ErrChallengeExpired if the
	// TTL elapsed.
	Get(ctx context.Context, id string) (*Challenge, error)

	// Consume atomically retrieves and deletes a challenge. At most one
	// caller ever receives a given challenge; all others get
	// ErrChallengeNotFound. Expired challenges are removed and reported
	// as ErrChallengeExpired.
	Consume(ctx context.Context, id string) (*Challenge, error)

	// Delete removes a challenge if present.
	Delete(ctx context.Context, id string) error
}

// Expected describes what a verification must match: the stored ceremony
// session and the candidate credential owner.
type Expected struct {
	// Session is the session state stored when the challenge was issued.
	Session webauthn.SessionData

	// User is the candidate credential owner.
	User *User

	// Passkey is the candidate credential. Set for assertions only.
	Passkey *Passkey
}

// CredentialVerifier performs the cryptographic verification of
// authenticator responses. The default implementation delegates to the
// go-webauthn protocol machinery; tests substitute their own.
type CredentialVerifier interface {
	// VerifyAssertion verifies an authentication response against the
	// expected session and credential. On success it returns the signature
	// counter reported by the authenticator. The counter policy itself is
	// enforced by the coordinator, not here.
	VerifyAssertion(ctx context.Context, assertion *protocol.ParsedCredentialAssertionData, expected Expected) (uint32, error)

	// VerifyAttestation verifies a registration response and returns the
	// resulting passkey.
	VerifyAttestation(ctx context.Context, creation *protocol.ParsedCredentialCreationData, expected Expected) (*Passkey, error)
}

// TokenGenerator creates session tokens for authenticated users.
type TokenGenerator interface {
	// GenerateToken creates a signed token for the given user.
	GenerateToken(ctx context.Context, user *User) (string, error)
}
