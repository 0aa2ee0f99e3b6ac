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
	"bytes"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// User represents an account that owns zero or more passkeys.
type User struct {
	// ID is the opaque server-assigned user handle. It is stable for the
	// lifetime of the account and is what authenticators store as the
	// userHandle of discoverable credentials.
	ID string `json:"id"`

	// Username is the unique, human-memorable account name.
	Username string `json:"username"`

	// Passkeys are the credentials registered to this user.
	Passkeys []*Passkey `json:"passkeys"`

	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"created_at"`
}

// Handle returns the user handle bytes sent to authenticators.
func (u *User) Handle() []byte {
	return []byte(u.ID)
}

// Passkey returns the passkey with the given credential ID, or nil.
func (u *User) Passkey(credentialID []byte) *Passkey {
	for _, pk := range u.Passkeys {
		if bytes.Equal(pk.ID, credentialID) {
			return pk
		}
	}
	return nil
}

// CredentialFlags stores authenticator-reported flags for a passkey.
type CredentialFlags struct {
	// UserPresent indicates the user was present during registration.
	UserPresent bool `json:"user_present"`
	// UserVerified indicates the user was verified during registration.
	UserVerified bool `json:"user_verified"`
	// BackupEligible indicates the credential can be backed up.
	BackupEligible bool `json:"backup_eligible"`
	// BackupState indicates the credential is currently backed up.
	BackupState bool `json:"backup_state"`
}

// Passkey represents a registered public-key credential.
type Passkey struct {
	// ID is the credential ID assigned by the authenticator.
	ID []byte `json:"id"`

	// PublicKey is the COSE-encoded public key.
	PublicKey []byte `json:"public_key"`

	// AttestationType is the attestation format used during registration.
	AttestationType string `json:"attestation_type"`

	// Transports are the transports the authenticator supports.
	Transports []protocol.AuthenticatorTransport `json:"transports,omitempty"`

	// Flags are the authenticator flags captured at registration.
	Flags CredentialFlags `json:"flags"`

	// AAGUID identifies the authenticator model.
	AAGUID []byte `json:"aaguid,omitempty"`

	// SignatureCounter is the highest signature counter observed for this
	// credential. Each accepted assertion must carry a strictly greater
	// counter unless both values are zero.
	SignatureCounter uint32 `json:"signature_counter"`

	// CloneWarning is set when a counter regression was observed, meaning
	// the private key may exist on more than one authenticator.
	CloneWarning bool `json:"clone_warning"`

	// CreatedAt is when the passkey was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the passkey last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// ToWebAuthn converts the passkey to a webauthn.Credential.
func (p *Passkey) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              p.ID,
		PublicKey:       p.PublicKey,
		AttestationType: p.AttestationType,
		Transport:       p.Transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    p.Flags.UserPresent,
			UserVerified:   p.Flags.UserVerified,
			BackupEligible: p.Flags.BackupEligible,
			BackupState:    p.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:       p.AAGUID,
			SignCount:    p.SignatureCounter,
			CloneWarning: p.CloneWarning,
		},
	}
}

// FromWebAuthnCredential converts a webauthn.Credential produced by a
// successful registration into a Passkey.
func FromWebAuthnCredential(cred *webauthn.Credential) *Passkey {
	return &Passkey{
		ID:              cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      cred.Transport,
		Flags: CredentialFlags{
			UserPresent:    cred.Flags.UserPresent,
			UserVerified:   cred.Flags.UserVerified,
			BackupEligible: cred.Flags.BackupEligible,
			BackupState:    cred.Flags.BackupState,
		},
		AAGUID:           cred.Authenticator.AAGUID,
		SignatureCounter: cred.Authenticator.SignCount,
		CreatedAt:        time.Now().UTC(),
	}
}

// CeremonyKind distinguishes the two WebAuthn ceremony types.
type CeremonyKind string

const (
	// CeremonyRegistration is an attestation (credential creation) ceremony.
	CeremonyRegistration CeremonyKind = "registration"

	// CeremonyAuthentication is an assertion (sign-in) ceremony.
	CeremonyAuthentication CeremonyKind = "authentication"
)

// Challenge is one issued, single-use ceremony challenge together with the
// session state needed to verify the matching authenticator response.
type Challenge struct {
	// ID is the opaque handle returned to the client alongside the options.
	ID string `json:"id"`

	// Kind is the ceremony this challenge was issued for. A challenge
	// issued for one ceremony kind cannot complete the other.
	Kind CeremonyKind `json:"kind"`

	// Session is the library session state captured at issuance: the
	// challenge bytes, relying party ID, allowed credentials and
	// verification requirements.
	Session webauthn.SessionData `json:"session"`

	// Username is the account the challenge was requested for. Empty for
	// discoverable authentication ceremonies.
	Username string `json:"username,omitempty"`

	// CreatedAt is when the challenge was issued. Stores enforce the TTL
	// relative to this timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the challenge is older than the given TTL.
func (c *Challenge) Expired(ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return time.Since(c.CreatedAt) > ttl
}

// webauthnUser adapts a User to the webauthn.User interface.
type webauthnUser struct {
	user *User
}

// WebAuthnID returns the user handle.
func (w *webauthnUser) WebAuthnID() []byte {
	return w.user.Handle()
}

// WebAuthnName returns the username.
func (w *webauthnUser) WebAuthnName() string {
	return w.user.Username
}

// WebAuthnDisplayName returns the display name.
func (w *webauthnUser) WebAuthnDisplayName() string {
	return w.user.Username
}

// WebAuthnCredentials returns the user's credentials.
func (w *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(w.user.Passkeys))
	for _, pk := range w.user.Passkeys {
		creds = append(creds, pk.ToWebAuthn())
	}
	return creds
}

// AuthResult is the outcome of a successful assertion verification.
type AuthResult struct {
	// Username is the account that authenticated.
	Username string `json:"username"`

	// Token is a signed session token, present when a token generator is
	// configured.
	Token string `json:"token,omitempty"`
}
