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

// Command demo drives a full passkey ceremony against a running server
// using an in-process software authenticator: register a passkey for a
// username, then sign in through the orchestrated automatic/manual flow.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/passkey/client"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Passkey server base URL")
	username := flag.String("username", "demo@example.com", "Username to register and sign in")
	rpID := flag.String("rp-id", "localhost", "Relying party ID the server is configured with")
	origin := flag.String("origin", "http://localhost:8080", "Origin the server accepts")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall deadline")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *serverURL, *username, *rpID, *origin); err != nil {
		slog.Error("Demo failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, serverURL, username, rpID, origin string) error {
	api, err := client.New(&client.Config{BaseURL: serverURL})
	if err != nil {
		return err
	}

	authenticator, err := client.NewLocalAuthenticator(rpID, origin, nil)
	if err != nil {
		return err
	}

	// Register a passkey for the username.
	options, err := api.GenerateRegistrationOptions(ctx, username)
	if err != nil {
		return fmt.Errorf("registration options: %w", err)
	}
	creation, err := authenticator.CreateCredential(ctx, options.PublicKeyCredentialCreationOptions)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	info, err := api.VerifyRegistration(ctx, creation, options.ChallengeID)
	if err != nil {
		return fmt.Errorf("verify registration: %w", err)
	}
	fmt.Printf("registered passkey %s for %s\n", info.CredentialID, username)

	// Sign in: the automatic channel should find the passkey we just
	// registered without a username. If it routes to manual entry, submit
	// the username instead.
	updates := make(chan client.Update, 16)
	o := client.NewOrchestrator(api, authenticator,
		client.WithListener(func(u client.Update) { updates <- u }))

	o.Start(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-updates:
			switch u.State {
			case client.StateSuccess:
				fmt.Printf("signed in as %s\n", u.Username)
				return nil
			case client.StateManualEntry:
				fmt.Println("no automatic sign-in; trying manual entry")
				o.SignIn(ctx, username)
			case client.StateError:
				return fmt.Errorf("sign-in failed: %s", u.Err)
			}
		}
	}
}
