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

// Package passkey implements server-side passkey (WebAuthn) authentication
// ceremonies: challenge issuance, assertion and attestation verification,
// and signature counter based clone detection.
//
// The central type is the Coordinator. It issues single-use challenges with
// a server-enforced TTL, verifies authenticator responses against the stored
// ceremony session, and requires the signature counter to strictly increase
// on every assertion (authenticators that always report zero are exempt).
// A challenge is consumed by its first verification attempt regardless of
// outcome, so a captured response can never be replayed.
//
// Basic usage:
//
//	coordinator, err := passkey.NewCoordinator(passkey.CoordinatorParams{
//		Config: &passkey.Config{
//			RPID:          "example.com",
//			RPDisplayName: "Example Corp",
//			RPOrigins:     []string{"https://example.com"},
//		},
//		UserStore:      passkey.NewMemoryUserStore(),
//		ChallengeStore: passkey.NewMemoryChallengeStore(),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Issue a challenge. An empty username yields a discoverable
//	// (username-less) ceremony.
//	options, challengeID, err := coordinator.IssueChallenge(ctx, "", passkey.ChallengeOptions{})
//
//	// ... client signs options.Response.Challenge ...
//
//	result, err := coordinator.VerifyAssertion(ctx, challengeID, assertion)
//
// Persistence is pluggable through the UserStore and ChallengeStore
// interfaces. In-memory implementations are provided for development and
// testing; the sqlite subpackage provides durable ones.
package passkey
