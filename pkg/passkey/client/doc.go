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

// Package client implements the client side of passkey sign-in: an API
// client for the ceremony endpoints and an orchestrator that drives the
// sign-in screen.
//
// The orchestrator races two channels against each other. The automatic
// channel fires on screen entry: it fetches a discoverable challenge and
// probes the authenticator without user interaction, falling back to
// manual entry when no passkey is available. The manual channel fires when
// the user submits a username. The first channel to complete a verified
// sign-in wins; anything finishing after that is dropped. Non-terminal
// outcomes (no credential, prompt dismissed, verification errors) update
// the screen without ending the ceremony, so the other channel keeps its
// chance.
//
//	api, _ := client.New(&client.Config{BaseURL: "https://auth.example.com"})
//	o := client.NewOrchestrator(api, authenticator,
//	    client.WithListener(func(u client.Update) { render(u) }))
//	o.Start(ctx)           // automatic attempt
//	...
//	o.SignIn(ctx, "alice") // manual attempt
//
// Authenticator abstracts the platform credential API; LocalAuthenticator
// provides an in-process software passkey for demos and tests.
package client
