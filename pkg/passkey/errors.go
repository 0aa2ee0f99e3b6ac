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
	"errors"
	"fmt"
)

// Sentinel errors for ceremony operations.
var (
	// ErrUserNotFound is returned when a user cannot be found.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when attempting to create a user that already exists.
	ErrUserExists = errors.New("user already exists")

	// ErrCredentialNotFound is returned when no user owns a passkey with the
	// presented credential ID.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialExists is returned when registering a duplicate credential ID.
	ErrCredentialExists = errors.New("credential already exists")

	// ErrChallengeNotFound is returned when a challenge ID was never issued or
	// has already been consumed. This is the anti-replay guarantee: every
	// challenge ID is usable at most once.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeExpired is returned when a challenge outlived its TTL.
	// Callers should treat it exactly like ErrChallengeNotFound; the distinct
	// sentinel exists for server-side logging only.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrVerificationFailed is returned when assertion or attestation
	// verification fails. Credential-missing, signature and counter failures
	// all collapse to this error at the API boundary so callers cannot probe
	// which check failed.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrClonedCredential is returned when the signature counter did not
	// strictly increase, indicating the credential may have been duplicated
	// outside the legitimate authenticator.
	ErrClonedCredential = errors.New("cloned credential detected")

	// ErrCounterConflict is returned by UserStore.UpdateCounter when the
	// stored counter no longer matches the observed value. Callers re-read
	// and retry.
	ErrCounterConflict = errors.New("signature counter conflict")

	// ErrNoCredentials is returned when a user has no registered passkeys.
	ErrNoCredentials = errors.New("user has no registered passkeys")

	// ErrInvalidRequest is returned when a request is malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidResponse is returned when an authenticator response is
	// structurally invalid.
	ErrInvalidResponse = errors.New("invalid authenticator response")

	// ErrNotConfigured is returned when the coordinator is not properly configured.
	ErrNotConfigured = errors.New("ceremony coordinator not configured")
)

// CeremonyError wraps an error with the operation that produced it.
type CeremonyError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *CeremonyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CeremonyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new CeremonyError with the given operation and error.
func NewError(op string, err error) error {
	return &CeremonyError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsUserNotFound returns true if the error indicates a user was not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsCredentialNotFound returns true if the error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsChallengeNotFound returns true if the error indicates a challenge was
// never issued, already consumed, or expired.
func IsChallengeNotFound(err error) bool {
	return errors.Is(err, ErrChallengeNotFound) || errors.Is(err, ErrChallengeExpired)
}

// IsVerificationFailed returns true if the error indicates verification failed.
func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}

// IsClonedCredential returns true if the error indicates a counter regression.
func IsClonedCredential(err error) bool {
	return errors.Is(err, ErrClonedCredential)
}

// IsCounterConflict returns true if the error indicates a lost
// compare-and-swap on the signature counter.
func IsCounterConflict(err error) bool {
	return errors.Is(err, ErrCounterConflict)
}
