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
	"log/slog"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// counterUpdateRetries bounds the optimistic counter commit loop. Conflicts
// only occur when the same credential completes concurrent ceremonies, so a
// small bound is plenty.
const counterUpdateRetries = 3

// Coordinator drives passkey registration and authentication ceremonies:
// it issues single-use challenges, verifies authenticator responses against
// them, and enforces the signature counter policy.
type Coordinator struct {
	webauthn   *webauthn.WebAuthn
	config     *Config
	users      UserStore
	challenges ChallengeStore
	verifier   CredentialVerifier
	tokens     TokenGenerator // optional
	logger     *slog.Logger
	configured bool
}

// CoordinatorParams contains dependencies for creating a Coordinator.
type CoordinatorParams struct {
	// Config is the relying party configuration (required).
	Config *Config

	// UserStore is the user and passkey persistence layer (required).
	UserStore UserStore

	// ChallengeStore is the challenge persistence layer (required).
	ChallengeStore ChallengeStore

	// Verifier overrides the default go-webauthn backed verifier.
	// Leave nil outside of tests.
	Verifier CredentialVerifier

	// TokenGenerator is an optional post-authentication token generator.
	// If nil, successful authentications return the username only.
	TokenGenerator TokenGenerator

	// Logger is an optional structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewCoordinator creates a new ceremony coordinator with the provided
// dependencies.
func NewCoordinator(params CoordinatorParams) (*Coordinator, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.UserStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if params.ChallengeStore == nil {
		return nil, fmt.Errorf("challenge store is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	verifier := params.Verifier
	if verifier == nil {
		verifier = newVerifierFromInstance(wa)
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		webauthn:   wa,
		config:     params.Config,
		users:      params.UserStore,
		challenges: params.ChallengeStore,
		verifier:   verifier,
		tokens:     params.TokenGenerator,
		logger:     logger,
		configured: true,
	}, nil
}

// Config returns the coordinator's configuration.
func (c *Coordinator) Config() *Config {
	return c.config
}

// ChallengeOptions carries per-request overrides for an authentication
// challenge.
type ChallengeOptions struct {
	// UserVerification overrides the configured user verification
	// requirement ("required", "preferred", "discouraged").
	UserVerification string

	// Timeout overrides the advertised ceremony timeout.
	Timeout time.Duration
}

// RegistrationOptions carries per-request overrides for a registration
// challenge.
type RegistrationOptions struct {
	// UserVerification overrides the configured user verification
	// requirement.
	UserVerification string

	// ResidentKey overrides the configured resident key requirement.
	ResidentKey string

	// AuthenticatorAttachment restricts the authenticator type
	// ("platform", "cross-platform").
	AuthenticatorAttachment string

	// Attestation overrides the attestation conveyance preference.
	Attestation string

	// Timeout overrides the advertised ceremony timeout.
	Timeout time.Duration
}

// IssueChallenge starts an authentication ceremony and returns the assertion
// options plus the challenge ID the client must echo back at verification.
//
// When username names an existing user with passkeys, the options carry an
// allowCredentials list restricting the ceremony to that user's credentials.
// Otherwise the ceremony is discoverable: allowCredentials stays empty and
// the authenticator picks a resident credential. An unknown username
// deliberately produces the same discoverable response as an empty one, so
// the endpoint cannot be used to probe which accounts exist.
func (c *Coordinator) IssueChallenge(ctx context.Context, username string, opts ChallengeOptions) (*protocol.CredentialAssertion, string, error) {
	if !c.configured {
		return nil, "", ErrNotConfigured
	}

	var loginOpts []webauthn.LoginOption
	if uv := opts.UserVerification; uv != "" {
		loginOpts = append(loginOpts, webauthn.WithUserVerification(protocol.UserVerificationRequirement(uv)))
	}

	username = strings.TrimSpace(username)

	var (
		options *protocol.CredentialAssertion
		session *webauthn.SessionData
		err     error
	)
	if username != "" {
		user, uerr := c.users.Get(ctx, username)
		switch {
		case uerr == nil && len(user.Passkeys) > 0:
			options, session, err = c.webauthn.BeginLogin(&webauthnUser{user: user}, loginOpts...)
		case uerr != nil && !IsUserNotFound(uerr):
			return nil, "", WrapError("get user", uerr)
		}
	}
	if options == nil && err == nil {
		options, session, err = c.webauthn.BeginDiscoverableLogin(loginOpts...)
	}
	if err != nil {
		return nil, "", WrapError("begin authentication", err)
	}

	if opts.Timeout > 0 {
		options.Response.Timeout = int(opts.Timeout.Milliseconds())
	}

	challenge := &Challenge{
		ID:        uuid.NewString(),
		Kind:      CeremonyAuthentication,
		Session:   *session,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.challenges.Put(ctx, challenge); err != nil {
		return nil, "", WrapError("store challenge", err)
	}

	c.logger.Debug("issued authentication challenge",
		"challenge_id", challenge.ID,
		"bound", username != "",
		"allowed_credentials", len(options.Response.AllowedCredentials))

	return options, challenge.ID, nil
}

// VerifyAssertion completes an authentication ceremony.
//
// The challenge is consumed up front: whatever the verification outcome,
// the challenge ID is spent and a second submission fails with
// ErrChallengeNotFound. Verification failures collapse to
// ErrVerificationFailed so callers cannot distinguish an unknown credential
// from a bad signature; the details are logged server-side.
func (c *Coordinator) VerifyAssertion(ctx context.Context, challengeID string, assertion *protocol.ParsedCredentialAssertionData) (*AuthResult, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	if assertion == nil {
		return nil, NewError("verify assertion", ErrInvalidResponse)
	}

	challenge, err := c.challenges.Consume(ctx, challengeID)
	if err != nil {
		return nil, WrapError("consume challenge", err)
	}
	if challenge.Kind != CeremonyAuthentication {
		c.logger.Warn("challenge kind mismatch",
			"challenge_id", challengeID,
			"kind", challenge.Kind)
		return nil, NewError("consume challenge", ErrChallengeNotFound)
	}

	user, pk, err := c.users.FindByCredentialID(ctx, assertion.RawID)
	if err != nil {
		if IsCredentialNotFound(err) {
			c.logger.Warn("assertion for unknown credential",
				"challenge_id", challengeID)
			return nil, NewError("verify assertion", ErrVerificationFailed)
		}
		return nil, WrapError("find credential", err)
	}

	newCounter, err := c.verifier.VerifyAssertion(ctx, assertion, Expected{
		Session: challenge.Session,
		User:    user,
		Passkey: pk,
	})
	if err != nil {
		c.logger.Warn("assertion verification failed",
			"challenge_id", challengeID,
			"username", user.Username,
			"error", err)
		return nil, NewError("verify assertion", ErrVerificationFailed)
	}

	if err := c.commitCounter(ctx, pk, newCounter); err != nil {
		return nil, err
	}

	c.logger.Info("authentication succeeded",
		"username", user.Username,
		"counter", newCounter)

	result := &AuthResult{Username: user.Username}
	if c.tokens != nil {
		token, terr := c.tokens.GenerateToken(ctx, user)
		if terr != nil {
			return nil, WrapError("generate token", terr)
		}
		result.Token = token
	}
	return result, nil
}

// commitCounter applies the clone-detection policy and persists the new
// counter with optimistic retry.
//
// The counter must strictly increase on every assertion. The single
// exception is an authenticator that never tracks usage and reports zero
// both times; two equal non-zero values, or a decrease, mean the signing
// key may exist on more than one device.
func (c *Coordinator) commitCounter(ctx context.Context, pk *Passkey, newCounter uint32) error {
	observed := pk.SignatureCounter
	for attempt := 0; attempt < counterUpdateRetries; attempt++ {
		if newCounter == 0 && observed == 0 {
			return nil
		}
		if newCounter <= observed {
			if ferr := c.users.FlagClone(ctx, pk.ID); ferr != nil {
				c.logger.Error("failed to flag cloned credential", "error", ferr)
			}
			c.logger.Warn("signature counter did not increase; possible cloned credential",
				"stored", observed,
				"received", newCounter)
			return NewError("verify assertion", ErrClonedCredential)
		}

		err := c.users.UpdateCounter(ctx, pk.ID, observed, newCounter)
		if err == nil {
			return nil
		}
		if !IsCounterConflict(err) {
			return WrapError("update counter", err)
		}

		// Lost a concurrent update. Re-read and re-apply the policy
		// against the fresh value.
		_, fresh, ferr := c.users.FindByCredentialID(ctx, pk.ID)
		if ferr != nil {
			return WrapError("update counter", ferr)
		}
		observed = fresh.SignatureCounter
	}
	return NewError("update counter", ErrCounterConflict)
}

// IssueRegistrationChallenge starts a registration ceremony for the given
// username, creating the account on first use. The returned options exclude
// the user's existing credentials so an authenticator won't register twice.
func (c *Coordinator) IssueRegistrationChallenge(ctx context.Context, username string, opts RegistrationOptions) (*protocol.CredentialCreation, string, error) {
	if !c.configured {
		return nil, "", ErrNotConfigured
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, "", NewError("issue registration challenge", ErrInvalidRequest)
	}

	user, err := c.users.Get(ctx, username)
	if err != nil {
		if !IsUserNotFound(err) {
			return nil, "", WrapError("get user", err)
		}
		user, err = c.users.Create(ctx, username)
		if err != nil {
			return nil, "", WrapError("create user", err)
		}
	}

	excludeList := make([]protocol.CredentialDescriptor, len(user.Passkeys))
	for i, pk := range user.Passkeys {
		excludeList[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: pk.ID,
			Transport:    pk.Transports,
		}
	}

	regOpts := []webauthn.RegistrationOption{
		webauthn.WithExclusions(excludeList),
	}
	if sel := registrationSelection(opts); sel != nil {
		regOpts = append(regOpts, webauthn.WithAuthenticatorSelection(*sel))
	}
	if opts.Attestation != "" {
		regOpts = append(regOpts, webauthn.WithConveyancePreference(protocol.ConveyancePreference(opts.Attestation)))
	}

	options, session, err := c.webauthn.BeginRegistration(&webauthnUser{user: user}, regOpts...)
	if err != nil {
		return nil, "", WrapError("begin registration", err)
	}

	if opts.Timeout > 0 {
		options.Response.Timeout = int(opts.Timeout.Milliseconds())
	}

	challenge := &Challenge{
		ID:        uuid.NewString(),
		Kind:      CeremonyRegistration,
		Session:   *session,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.challenges.Put(ctx, challenge); err != nil {
		return nil, "", WrapError("store challenge", err)
	}

	c.logger.Debug("issued registration challenge",
		"challenge_id", challenge.ID,
		"username", username)

	return options, challenge.ID, nil
}

// registrationSelection builds an authenticator selection from per-request
// overrides, or nil when nothing was overridden.
func registrationSelection(opts RegistrationOptions) *protocol.AuthenticatorSelection {
	if opts.UserVerification == "" && opts.ResidentKey == "" && opts.AuthenticatorAttachment == "" {
		return nil
	}
	sel := &protocol.AuthenticatorSelection{}
	if opts.UserVerification != "" {
		sel.UserVerification = protocol.UserVerificationRequirement(opts.UserVerification)
	}
	if opts.ResidentKey != "" {
		sel.ResidentKey = protocol.ResidentKeyRequirement(opts.ResidentKey)
		if opts.ResidentKey == "required" {
			rrk := true
			sel.RequireResidentKey = &rrk
		}
	}
	if opts.AuthenticatorAttachment != "" {
		sel.AuthenticatorAttachment = protocol.AuthenticatorAttachment(opts.AuthenticatorAttachment)
	}
	return sel
}

// VerifyRegistration completes a registration ceremony and stores the new
// passkey. Like assertions, the challenge is consumed regardless of outcome.
func (c *Coordinator) VerifyRegistration(ctx context.Context, challengeID string, creation *protocol.ParsedCredentialCreationData) (*Passkey, string, error) {
	if !c.configured {
		return nil, "", ErrNotConfigured
	}
	if creation == nil {
		return nil, "", NewError("verify registration", ErrInvalidResponse)
	}

	challenge, err := c.challenges.Consume(ctx, challengeID)
	if err != nil {
		return nil, "", WrapError("consume challenge", err)
	}
	if challenge.Kind != CeremonyRegistration {
		c.logger.Warn("challenge kind mismatch",
			"challenge_id", challengeID,
			"kind", challenge.Kind)
		return nil, "", NewError("consume challenge", ErrChallengeNotFound)
	}

	user, err := c.users.Get(ctx, challenge.Username)
	if err != nil {
		return nil, "", WrapError("get user", err)
	}

	pk, err := c.verifier.VerifyAttestation(ctx, creation, Expected{
		Session: challenge.Session,
		User:    user,
	})
	if err != nil {
		c.logger.Warn("attestation verification failed",
			"challenge_id", challengeID,
			"username", user.Username,
			"error", err)
		return nil, "", NewError("verify registration", ErrVerificationFailed)
	}

	if err := c.users.AddPasskey(ctx, user.Username, pk); err != nil {
		return nil, "", WrapError("store passkey", err)
	}

	c.logger.Info("passkey registered",
		"username", user.Username,
		"transports", pk.Transports)

	return pk, user.Username, nil
}
