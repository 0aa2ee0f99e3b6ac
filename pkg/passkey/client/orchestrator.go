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
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
)

// State is the sign-in screen state driven by the orchestrator.
type State int

const (
	// StateIdle is the initial state before any ceremony started.
	StateIdle State = iota

	// StateChecking means the automatic attempt is probing for passkeys.
	StateChecking

	// StateManualEntry means the user is expected to type a username.
	StateManualEntry

	// StateLoading means a sign-in attempt is in flight.
	StateLoading

	// StateSuccess is terminal: a sign-in completed.
	StateSuccess

	// StateError shows a failure message; manual entry remains available.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateManualEntry:
		return "manual_entry"
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Update is delivered to the listener on every state transition.
type Update struct {
	State    State
	Username string
	Err      string
}

// PendingRequest is a prefetched challenge armed for the autofill surface.
type PendingRequest struct {
	ChallengeID string
	Options     protocol.PublicKeyCredentialRequestOptions
}

// ceremonySession arbitrates the race between the automatic and manual
// sign-in channels. Exactly one terminal outcome may resolve a session;
// completions arriving after that, or belonging to a superseded session,
// are dropped.
type ceremonySession struct {
	resolved bool
}

// OrchestratorOption is a functional option for configuring an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets a custom logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithListener registers a callback invoked on every state transition.
// The callback runs on the goroutine that caused the transition.
func WithListener(fn func(Update)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.listener = fn
	}
}

// Orchestrator drives the client-side sign-in flow: an automatic,
// username-less attempt racing a manual, username-bound one. Both channels
// feed the same screen state; the first successful sign-in wins and later
// completions become no-ops.
//
// All methods are safe for concurrent use.
type Orchestrator struct {
	api           *Client
	authenticator Authenticator
	logger        *slog.Logger
	listener      func(Update)

	mu       sync.Mutex
	state    State
	username string
	errMsg   string
	session  *ceremonySession
	pending  *PendingRequest
}

// NewOrchestrator creates a sign-in orchestrator.
func NewOrchestrator(api *Client, authenticator Authenticator, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		api:           api,
		authenticator: authenticator,
		logger:        slog.Default(),
		state:         StateIdle,
		session:       &ceremonySession{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current screen state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Username returns the signed-in username; empty unless StateSuccess.
func (o *Orchestrator) Username() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.username
}

// Err returns the current error message; empty unless StateError.
func (o *Orchestrator) Err() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

// Start begins a fresh sign-in ceremony with an immediate automatic
// attempt: fetch discoverable options and probe the authenticator without
// user interaction. Entering the screen again supersedes any previous
// ceremony.
func (o *Orchestrator) Start(ctx context.Context) {
	session := o.begin(StateChecking)
	go o.runAutomatic(ctx, session)
}

// runAutomatic is the automatic channel. A missing or declined credential
// is a routine outcome that routes to manual entry; only unexpected
// failures surface as errors. None of its outcomes other than success
// resolve the session, so a concurrent manual attempt keeps its chance.
func (o *Orchestrator) runAutomatic(ctx context.Context, session *ceremonySession) {
	options, err := o.api.GenerateAuthenticationOptions(ctx, "")
	if err != nil {
		o.logger.Debug("automatic sign-in unavailable", "error", err)
		o.transition(session, false, StateManualEntry, "", "")
		return
	}

	assertion, err := o.authenticator.GetAssertion(ctx, options.PublicKeyCredentialRequestOptions)
	switch {
	case errors.Is(err, ErrNoCredential), errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		o.transition(session, false, StateManualEntry, "", "")
		return
	case err != nil:
		o.transition(session, false, StateError, "", "sign-in failed: "+err.Error())
		return
	}

	user, err := o.api.VerifyAuthentication(ctx, assertion, options.ChallengeID)
	if err != nil {
		o.transition(session, false, StateError, "", verifyErrorMessage(err))
		return
	}
	o.transition(session, true, StateSuccess, user.Username, "")
}

// Prefetch begins a fresh ceremony for an autofill-style surface: the form
// shows immediately while a discoverable challenge is fetched in the
// background and armed for HandleAutofill. No authenticator prompt is
// triggered.
func (o *Orchestrator) Prefetch(ctx context.Context) {
	session := o.begin(StateManualEntry)
	go func() {
		options, err := o.api.GenerateAuthenticationOptions(ctx, "")
		if err != nil {
			// Manual sign-in still works without the prefetched challenge.
			o.logger.Debug("challenge prefetch failed", "error", err)
			return
		}
		o.mu.Lock()
		if o.session == session {
			o.pending = &PendingRequest{
				ChallengeID: options.ChallengeID,
				Options:     options.PublicKeyCredentialRequestOptions,
			}
		}
		o.mu.Unlock()
	}()
}

// Pending returns the prefetched challenge, or nil if none is armed.
func (o *Orchestrator) Pending() *PendingRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// HandleAutofill completes a sign-in with an assertion the platform
// produced against the prefetched challenge (e.g. a passkey chosen from
// keyboard suggestions). The assertion is dropped if no challenge was
// armed.
func (o *Orchestrator) HandleAutofill(ctx context.Context, assertion *protocol.CredentialAssertionResponse) {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	session := o.session
	o.mu.Unlock()

	if pending == nil {
		o.logger.Warn("autofill assertion without a prefetched challenge; dropping")
		return
	}

	go func() {
		if !o.transition(session, false, StateLoading, "", "") {
			return
		}
		user, err := o.api.VerifyAuthentication(ctx, assertion, pending.ChallengeID)
		if err != nil {
			o.transition(session, false, StateError, "", verifyErrorMessage(err))
			return
		}
		o.transition(session, true, StateSuccess, user.Username, "")
	}()
}

// SignIn runs a manual attempt for the typed username within the current
// ceremony. It requests a fresh challenge; the prefetched one, if any,
// stays reserved for autofill. While a manual attempt is in flight further
// SignIn calls are ignored.
func (o *Orchestrator) SignIn(ctx context.Context, username string) {
	o.mu.Lock()
	if o.state == StateLoading {
		o.mu.Unlock()
		o.logger.Debug("sign-in already in flight; ignoring")
		return
	}
	session := o.session
	o.mu.Unlock()

	go o.runManual(ctx, session, strings.TrimSpace(username))
}

// runManual is the manual channel. Unlike the automatic channel, a missing
// credential here is an error the user should see: they asked for this
// specific account. Dismissing the prompt just returns to the form.
func (o *Orchestrator) runManual(ctx context.Context, session *ceremonySession, username string) {
	if !o.transition(session, false, StateLoading, "", "") {
		return
	}

	options, err := o.api.GenerateAuthenticationOptions(ctx, username)
	if err != nil {
		o.transition(session, false, StateError, "", "sign-in failed: "+err.Error())
		return
	}

	assertion, err := o.authenticator.GetAssertion(ctx, options.PublicKeyCredentialRequestOptions)
	switch {
	case errors.Is(err, ErrCancelled):
		o.transition(session, false, StateManualEntry, "", "")
		return
	case errors.Is(err, ErrNoCredential):
		o.transition(session, false, StateError, "", "no passkey available for this account")
		return
	case err != nil:
		o.transition(session, false, StateError, "", "sign-in failed: "+err.Error())
		return
	}

	user, err := o.api.VerifyAuthentication(ctx, assertion, options.ChallengeID)
	if err != nil {
		o.transition(session, false, StateError, "", verifyErrorMessage(err))
		return
	}
	o.transition(session, true, StateSuccess, user.Username, "")
}

// EditUsername clears a visible error when the user edits the username
// field, returning the screen to manual entry.
func (o *Orchestrator) EditUsername() {
	o.mu.Lock()
	if o.state != StateError {
		o.mu.Unlock()
		return
	}
	o.state = StateManualEntry
	o.errMsg = ""
	listener := o.listener
	update := Update{State: StateManualEntry}
	o.mu.Unlock()

	o.notify(listener, update)
}

// begin supersedes the current ceremony session and resets the screen.
func (o *Orchestrator) begin(state State) *ceremonySession {
	o.mu.Lock()
	session := &ceremonySession{}
	o.session = session
	o.pending = nil
	o.state = state
	o.username = ""
	o.errMsg = ""
	listener := o.listener
	update := Update{State: state}
	o.mu.Unlock()

	o.notify(listener, update)
	return session
}

// transition applies a state change on behalf of one attempt's completion.
// It returns false, without effect, when the attempt's session has been
// superseded or already resolved. A terminal transition resolves the
// session, making every later completion a no-op.
func (o *Orchestrator) transition(session *ceremonySession, terminal bool, state State, username, errMsg string) bool {
	o.mu.Lock()
	if session != o.session || session.resolved {
		o.mu.Unlock()
		return false
	}
	if terminal {
		session.resolved = true
	}
	o.state = state
	o.username = username
	o.errMsg = errMsg
	listener := o.listener
	update := Update{State: state, Username: username, Err: errMsg}
	o.mu.Unlock()

	o.notify(listener, update)
	return true
}

func (o *Orchestrator) notify(listener func(Update), update Update) {
	if listener != nil {
		listener(update)
	}
}

// verifyErrorMessage maps verification errors to user-facing messages.
func verifyErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotVerified):
		return "sign-in failed: passkey could not be verified"
	case errors.Is(err, ErrChallengeRejected):
		return "sign-in expired; please try again"
	default:
		return "sign-in failed: " + err.Error()
	}
}
