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

package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	"github.com/jeremyhahn/go-passkey/pkg/validation"
)

// Handler provides HTTP handlers for passkey ceremonies.
// These handlers can be mounted on any HTTP router.
type Handler struct {
	coordinator *passkey.Coordinator
	users       passkey.UserStore
	logger      *slog.Logger
}

// NewHandler creates a new passkey HTTP handler. The user store is only
// used by the debug listing endpoint and may be the same instance the
// coordinator was built with.
func NewHandler(coordinator *passkey.Coordinator, users passkey.UserStore) *Handler {
	return &Handler{
		coordinator: coordinator,
		users:       users,
		logger:      slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// GenerateRegistrationOptions handles POST /api/generate-registration-options
//
// Request body:
//
//	{
//	    "username": "alice",
//	    "userVerification": "preferred" // optional
//	}
//
// Response: flattened PublicKeyCredentialCreationOptions plus challengeId.
func (h *Handler) GenerateRegistrationOptions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req RegistrationOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" {
		h.writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if err := validation.ValidateUsername(req.Username); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	options, challengeID, err := h.coordinator.IssueRegistrationChallenge(r.Context(), req.Username, passkey.RegistrationOptions{
		UserVerification:        req.UserVerification,
		ResidentKey:             req.ResidentKey,
		AuthenticatorAttachment: req.AuthenticatorAttachment,
		Attestation:             req.AttestationType,
		Timeout:                 time.Duration(req.Timeout) * time.Millisecond,
	})
	if err != nil {
		metrics.RecordCeremony(metrics.OpIssueRegistration, metrics.ResultError, time.Since(start).Seconds())
		h.handleCoordinatorError(w, err)
		return
	}

	metrics.RecordCeremony(metrics.OpIssueRegistration, metrics.ResultSuccess, time.Since(start).Seconds())
	h.writeJSON(w, http.StatusOK, RegistrationOptionsResponse{
		PublicKeyCredentialCreationOptions: options.Response,
		ChallengeID:                        challengeID,
	})
}

// VerifyRegistration handles POST /api/verify-registration
//
// Request body:
//
//	{
//	    "response": { ... authenticator attestation response ... },
//	    "challengeId": "..."
//	}
//
// Response: {"verified": true, "registrationInfo": {...}} on success,
// {"verified": false} when verification fails, 400 when the challenge is
// unknown, expired or already used.
func (h *Handler) VerifyRegistration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChallengeID == "" {
		h.writeError(w, http.StatusBadRequest, "challengeId is required")
		return
	}
	if len(req.Response) == 0 {
		h.writeError(w, http.StatusBadRequest, "response is required")
		return
	}

	creation, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid attestation response")
		return
	}

	pk, _, err := h.coordinator.VerifyRegistration(r.Context(), req.ChallengeID, creation)
	if err != nil {
		if passkey.IsVerificationFailed(err) {
			metrics.RecordCeremony(metrics.OpVerifyRegistration, metrics.ResultRejected, time.Since(start).Seconds())
			h.writeJSON(w, http.StatusOK, VerifyRegistrationResponse{Verified: false})
			return
		}
		metrics.RecordCeremony(metrics.OpVerifyRegistration, metrics.ResultError, time.Since(start).Seconds())
		h.handleCoordinatorError(w, err)
		return
	}

	metrics.RecordCeremony(metrics.OpVerifyRegistration, metrics.ResultSuccess, time.Since(start).Seconds())
	h.writeJSON(w, http.StatusOK, VerifyRegistrationResponse{
		Verified: true,
		RegistrationInfo: &RegistrationInfo{
			CredentialID:     base64.RawURLEncoding.EncodeToString(pk.ID),
			AttestationType:  pk.AttestationType,
			Transports:       transportStrings(pk.Transports),
			SignatureCounter: pk.SignatureCounter,
		},
	})
}

// GenerateAuthenticationOptions handles POST /api/generate-authentication-options
//
// Request body (all fields optional):
//
//	{
//	    "username": "alice",
//	    "userVerification": "required"
//	}
//
// With a username that has passkeys, the response restricts the ceremony to
// that user's credentials via allowCredentials. Otherwise the response is a
// discoverable ceremony with an empty allowCredentials list; an unknown
// username is indistinguishable from an omitted one.
func (h *Handler) GenerateAuthenticationOptions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req AuthenticationOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Empty body requests the discoverable flow
		req = AuthenticationOptionsRequest{}
	}
	if req.Username != "" {
		if err := validation.ValidateUsername(req.Username); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	options, challengeID, err := h.coordinator.IssueChallenge(r.Context(), req.Username, passkey.ChallengeOptions{
		UserVerification: req.UserVerification,
		Timeout:          time.Duration(req.Timeout) * time.Millisecond,
	})
	if err != nil {
		metrics.RecordCeremony(metrics.OpIssueChallenge, metrics.ResultError, time.Since(start).Seconds())
		h.handleCoordinatorError(w, err)
		return
	}

	metrics.RecordCeremony(metrics.OpIssueChallenge, metrics.ResultSuccess, time.Since(start).Seconds())
	h.writeJSON(w, http.StatusOK, AuthenticationOptionsResponse{
		PublicKeyCredentialRequestOptions: options.Response,
		ChallengeID:                       challengeID,
	})
}

// VerifyAuthentication handles POST /api/verify-authentication
//
// Request body:
//
//	{
//	    "response": { ... authenticator assertion response ... },
//	    "challengeId": "..."
//	}
//
// Response: {"verified": true, "username": "..."} on success,
// {"verified": false} when verification fails, 400 when the challenge is
// unknown, expired or already used. The challenge is spent either way.
func (h *Handler) VerifyAuthentication(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChallengeID == "" {
		h.writeError(w, http.StatusBadRequest, "challengeId is required")
		return
	}
	if len(req.Response) == 0 {
		h.writeError(w, http.StatusBadRequest, "response is required")
		return
	}

	assertion, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid assertion response")
		return
	}

	result, err := h.coordinator.VerifyAssertion(r.Context(), req.ChallengeID, assertion)
	if err != nil {
		// Signature failures, unknown credentials and counter regressions
		// all look identical to the caller.
		if passkey.IsVerificationFailed(err) || passkey.IsClonedCredential(err) {
			if passkey.IsClonedCredential(err) {
				metrics.RecordCloneWarning()
			}
			metrics.RecordCeremony(metrics.OpVerifyAssertion, metrics.ResultRejected, time.Since(start).Seconds())
			h.writeJSON(w, http.StatusOK, VerifyAuthenticationResponse{Verified: false})
			return
		}
		metrics.RecordCeremony(metrics.OpVerifyAssertion, metrics.ResultError, time.Since(start).Seconds())
		h.handleCoordinatorError(w, err)
		return
	}

	metrics.RecordCeremony(metrics.OpVerifyAssertion, metrics.ResultSuccess, time.Since(start).Seconds())
	h.writeJSON(w, http.StatusOK, VerifyAuthenticationResponse{
		Verified: true,
		Username: result.Username,
		Token:    result.Token,
	})
}

// ListUsers handles GET /api/users
//
// Debug endpoint listing registered accounts and their passkeys, without
// key material.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.handleCoordinatorError(w, err)
		return
	}

	summaries := make([]UserSummary, 0, len(users))
	for _, user := range users {
		passkeys := make([]PasskeySummary, 0, len(user.Passkeys))
		for _, pk := range user.Passkeys {
			passkeys = append(passkeys, PasskeySummary{
				CredentialID:     base64.RawURLEncoding.EncodeToString(pk.ID),
				Transports:       transportStrings(pk.Transports),
				SignatureCounter: pk.SignatureCounter,
				CloneWarning:     pk.CloneWarning,
				CreatedAt:        pk.CreatedAt,
				LastUsedAt:       pk.LastUsedAt,
			})
		}
		summaries = append(summaries, UserSummary{
			Username:  user.Username,
			CreatedAt: user.CreatedAt,
			Passkeys:  passkeys,
		})
	}

	h.writeJSON(w, http.StatusOK, summaries)
}

// handleCoordinatorError maps coordinator errors to HTTP responses.
func (h *Handler) handleCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case passkey.IsChallengeNotFound(err):
		h.writeError(w, http.StatusBadRequest, "challenge not found or expired; restart the ceremony")
	case passkey.IsUserNotFound(err):
		h.writeError(w, http.StatusNotFound, "user not found")
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}

// transportStrings converts protocol transports to plain strings.
func transportStrings(transports []protocol.AuthenticatorTransport) []string {
	if len(transports) == 0 {
		return nil
	}
	out := make([]string, len(transports))
	for i, t := range transports {
		out[i] = string(t)
	}
	return out
}
