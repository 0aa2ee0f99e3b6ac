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

// Package http provides composable HTTP handlers for passkey ceremonies.
//
// This package allows applications to add passkey authentication to their
// existing HTTP servers without coupling to the bundled server binary.
//
// # Usage
//
// Create a handler from a ceremony coordinator and mount it on your router:
//
//	coordinator, _ := passkey.NewCoordinator(...)
//	handler := passkeyhttp.NewHandler(coordinator, users)
//
//	// For chi router:
//	r.Route("/api", func(r chi.Router) {
//	    passkeyhttp.MountChi(r, handler)
//	})
//
//	// For stdlib http.ServeMux (Go 1.22+):
//	passkeyhttp.MountStdlib(mux, "/api", handler)
//
// # Endpoints
//
// The handler provides the following endpoints:
//
//	POST /generate-registration-options    - Issue a registration challenge
//	POST /verify-registration              - Complete registration
//	POST /generate-authentication-options  - Issue an authentication challenge
//	POST /verify-authentication            - Complete authentication
//	GET  /users                            - List accounts (debug)
//
// # Response Format
//
// All responses are JSON. Option responses are the flattened WebAuthn
// options with a challengeId field alongside; verification responses carry
// a verified flag. Error responses have the format:
//
//	{
//	    "error": "Human-readable message"
//	}
package http
