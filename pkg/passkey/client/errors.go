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

import "errors"

var (
	// ErrTransport is returned when the server could not be reached or
	// returned an unreadable response.
	ErrTransport = errors.New("transport error")

	// ErrNotVerified is returned when the server answered
	// {"verified": false}: the response was well-formed but failed
	// cryptographic or counter checks.
	ErrNotVerified = errors.New("assertion not verified")

	// ErrChallengeRejected is returned when the server rejected the
	// challenge ID (unknown, expired or already used). The ceremony must
	// be restarted from options generation.
	ErrChallengeRejected = errors.New("challenge rejected")

	// ErrNoCredential is returned by an Authenticator when it holds no
	// passkey usable for the requested ceremony.
	ErrNoCredential = errors.New("no credential available")

	// ErrCancelled is returned by an Authenticator when the user dismissed
	// the credential prompt.
	ErrCancelled = errors.New("credential prompt cancelled")
)
