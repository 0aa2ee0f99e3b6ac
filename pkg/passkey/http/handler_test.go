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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

const testOrigin = "https://example.com"

type testEnv struct {
	t      *testing.T
	server *httptest.Server
	users  *passkey.MemoryUserStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := passkey.NewMemoryUserStore()
	coordinator, err := passkey.NewCoordinator(passkey.CoordinatorParams{
		Config: &passkey.Config{
			RPID:          "example.com",
			RPDisplayName: "Example Corp",
			RPOrigins:     []string{testOrigin},
		},
		UserStore:      users,
		ChallengeStore: passkey.NewMemoryChallengeStore(),
	})
	require.NoError(t, err)

	handler := NewHandler(coordinator, users)
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		MountChi(r, handler)
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{t: t, server: server, users: users}
}

// post sends a JSON body and returns the status code and raw response body.
func (e *testEnv) post(path string, body interface{}) (int, []byte) {
	e.t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(e.t, err)

	resp, err := e.server.Client().Post(e.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(e.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp.StatusCode, data
}

func (e *testEnv) get(path string) (int, []byte) {
	e.t.Helper()

	resp, err := e.server.Client().Get(e.server.URL + path)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp.StatusCode, data
}

// optionsEnvelope captures the fields shared by both options responses.
type optionsEnvelope struct {
	Challenge        protocol.URLEncodedBase64 `json:"challenge"`
	ChallengeID      string                    `json:"challengeId"`
	RPID             string                    `json:"rpId"`
	AllowCredentials []struct {
		ID protocol.URLEncodedBase64 `json:"id"`
	} `json:"allowCredentials"`
}

// register runs the registration ceremony for username through the HTTP API
// with the given authenticator.
func (e *testEnv) register(auth *passkey.MockAuthenticator, username string) {
	e.t.Helper()

	status, body := e.post("/api/generate-registration-options", map[string]string{
		"username": username,
	})
	require.Equal(e.t, http.StatusOK, status, string(body))

	var opts optionsEnvelope
	require.NoError(e.t, json.Unmarshal(body, &opts))
	require.NotEmpty(e.t, opts.Challenge)
	require.NotEmpty(e.t, opts.ChallengeID)

	creation, err := auth.CreateAttestationResponse(opts.Challenge, testOrigin)
	require.NoError(e.t, err)

	rawResponse, err := json.Marshal(creation.Raw)
	require.NoError(e.t, err)

	status, body = e.post("/api/verify-registration", map[string]interface{}{
		"response":    json.RawMessage(rawResponse),
		"challengeId": opts.ChallengeID,
	})
	require.Equal(e.t, http.StatusOK, status, string(body))

	var verify VerifyRegistrationResponse
	require.NoError(e.t, json.Unmarshal(body, &verify))
	require.True(e.t, verify.Verified)
}

func TestGenerateAuthenticationOptions_Discoverable(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.post("/api/generate-authentication-options", map[string]string{})
	require.Equal(t, http.StatusOK, status)

	var opts optionsEnvelope
	require.NoError(t, json.Unmarshal(body, &opts))
	assert.NotEmpty(t, opts.Challenge)
	assert.NotEmpty(t, opts.ChallengeID)
	assert.Equal(t, "example.com", opts.RPID)
	assert.Empty(t, opts.AllowCredentials)
}

func TestGenerateAuthenticationOptions_FlattenedShape(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.post("/api/generate-authentication-options", map[string]string{})
	require.Equal(t, http.StatusOK, status)

	// The options are not nested under a publicKey wrapper; challenge and
	// challengeId sit side by side at the top level.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Contains(t, raw, "challenge")
	assert.Contains(t, raw, "challengeId")
	assert.NotContains(t, raw, "publicKey")
}

func TestGenerateAuthenticationOptions_Bound(t *testing.T) {
	env := newTestEnv(t)

	auth, err := passkey.NewMockAuthenticator("example.com")
	require.NoError(t, err)
	env.register(auth, "alice@example.com")

	status, body := env.post("/api/generate-authentication-options", map[string]string{
		"username": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, status)

	var opts optionsEnvelope
	require.NoError(t, json.Unmarshal(body, &opts))
	require.Len(t, opts.AllowCredentials, 1)
	assert.Equal(t, auth.CredentialID, []byte(opts.AllowCredentials[0].ID))
}

// An unknown username must look exactly like an omitted one.
func TestGenerateAuthenticationOptions_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.post("/api/generate-authentication-options", map[string]string{
		"username": "nobody@example.com",
	})
	require.Equal(t, http.StatusOK, status)

	var opts optionsEnvelope
	require.NoError(t, json.Unmarshal(body, &opts))
	assert.NotEmpty(t, opts.ChallengeID)
	assert.Empty(t, opts.AllowCredentials)
}

func TestVerifyAuthentication_FullRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	auth, err := passkey.NewMockAuthenticator("example.com")
	require.NoError(t, err)
	env.register(auth, "alice@example.com")

	status, body := env.post("/api/generate-authentication-options", map[string]string{
		"username": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, status)

	var opts optionsEnvelope
	require.NoError(t, json.Unmarshal(body, &opts))

	assertion, err := auth.CreateAssertionResponse(opts.Challenge, testOrigin)
	require.NoError(t, err)
	rawResponse, err := json.Marshal(assertion.Raw)
	require.NoError(t, err)

	status, body = env.post("/api/verify-authentication", map[string]interface{}{
		"response":    json.RawMessage(rawResponse),
		"challengeId": opts.ChallengeID,
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var verify VerifyAuthenticationResponse
	require.NoError(t, json.Unmarshal(body, &verify))
	assert.True(t, verify.Verified)
	assert.Equal(t, "alice@example.com", verify.Username)
}

func TestVerifyAuthentication_UnknownChallenge(t *testing.T) {
	env := newTestEnv(t)

	// A structurally valid assertion, so the challenge lookup is reached.
	auth, err := passkey.NewMockAuthenticator("example.com")
	require.NoError(t, err)
	assertion, err := auth.CreateAssertionResponse([]byte("challenge"), testOrigin)
	require.NoError(t, err)
	rawResponse, err := json.Marshal(assertion.Raw)
	require.NoError(t, err)

	status, body := env.post("/api/verify-authentication", map[string]interface{}{
		"response":    json.RawMessage(rawResponse),
		"challengeId": "no-such-challenge",
	})
	require.Equal(t, http.StatusBadRequest, status)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Contains(t, errResp.Error, "challenge")
}

func TestVerifyAuthentication_ConsumedChallengeRejected(t *testing.T) {
	env := newTestEnv(t)

	auth, err := passkey.NewMockAuthenticator("example.com")
	require.NoError(t, err)
	env.register(auth, "alice@example.com")

	status, body := env.post("/api/generate-authentication-options", map[string]string{
		"username": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, status)

	var opts optionsEnvelope
	require.NoError(t, json.Unmarshal(body, &opts))

	assertion, err := auth.CreateAssertionResponse(opts.Challenge, testOrigin)
	require.NoError(t, err)
	rawResponse, err := json.Marshal(assertion.Raw)
	require.NoError(t, err)

	request := map[string]interface{}{
		"response":    json.RawMessage(rawResponse),
		"challengeId": opts.ChallengeID,
	}

	status, _ = env.post("/api/verify-authentication", request)
	require.Equal(t, http.StatusOK, status)

	// Replaying the same assertion must fail: the challenge is spent.
	status, body = env.post("/api/verify-authentication", request)
	require.Equal(t, http.StatusBadRequest, status)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Contains(t, errResp.Error, "challenge")
}

// A signature from a credential the server has never seen comes back as a
// clean rejection, not an error.
func TestVerifyAuthentication_UnknownCredential(t *testing.T) {
	env := newTestEnv(t)

	registered, err := passkey.NewMockAuthenticator("example.com")
	require.NoError(t, err)
	env.register(registered, "alice@example.com")

	stranger, err := passkey.NewMockAuthenticator("example.com")
	require.NoError(t, err)

	status, body := env.post("/api/generate-authentication-options", map[string]string{
		"username": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, status)

	var opts optionsEnvelope
	require.NoError(t, json.Unmarshal(body, &opts))

	assertion, err := stranger.CreateAssertionResponse(opts.Challenge, testOrigin)
	require.NoError(t, err)
	rawResponse, err := json.Marshal(assertion.Raw)
	require.NoError(t, err)

	status, body = env.post("/api/verify-authentication", map[string]interface{}{
		"response":    json.RawMessage(rawResponse),
		"challengeId": opts.ChallengeID,
	})
	require.Equal(t, http.StatusOK, status)

	var verify VerifyAuthenticationResponse
	require.NoError(t, json.Unmarshal(body, &verify))
	assert.False(t, verify.Verified)
	assert.Empty(t, verify.Username)
}

func TestVerifyAuthentication_CloneRejected(t *testing.T) {
	env := newTestEnv(t)

	auth, err := passkey.NewMockAuthenticator("example.com")
	require.NoError(t, err)
	env.register(auth, "alice@example.com")

	login := func() (int, []byte) {
		status, body := env.post("/api/generate-authentication-options", map[string]string{
			"username": "alice@example.com",
		})
		require.Equal(t, http.StatusOK, status)

		var opts optionsEnvelope
		require.NoError(t, json.Unmarshal(body, &opts))

		assertion, err := auth.CreateAssertionResponse(opts.Challenge, testOrigin)
		require.NoError(t, err)
		rawResponse, err := json.Marshal(assertion.Raw)
		require.NoError(t, err)

		return env.post("/api/verify-authentication", map[string]interface{}{
			"response":    json.RawMessage(rawResponse),
			"challengeId": opts.ChallengeID,
		})
	}

	status, _ := login()
	require.Equal(t, http.StatusOK, status)

	// Rewind the counter so the next assertion repeats a counter value.
	auth.SetSignCount(0)

	status, body := login()
	require.Equal(t, http.StatusOK, status)

	var verify VerifyAuthenticationResponse
	require.NoError(t, json.Unmarshal(body, &verify))
	assert.False(t, verify.Verified)
}

func TestVerifyAuthentication_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing challengeId", map[string]interface{}{"response": json.RawMessage(`{}`)}},
		{"missing response", map[string]interface{}{"challengeId": "c1"}},
		{"invalid body", "not json at all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.post("/api/verify-authentication", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)

			var errResp ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestGenerateRegistrationOptions_RequiresUsername(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.post("/api/generate-registration-options", map[string]string{})
	require.Equal(t, http.StatusBadRequest, status)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Contains(t, errResp.Error, "username")
}

func TestGenerateOptions_InvalidUsername(t *testing.T) {
	env := newTestEnv(t)

	paths := []string{
		"/api/generate-registration-options",
		"/api/generate-authentication-options",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			status, body := env.post(path, map[string]string{"username": "alice\nadmin"})
			require.Equal(t, http.StatusBadRequest, status)

			var errResp ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.Contains(t, errResp.Error, "username")
		})
	}
}

func TestVerifyRegistration_ReturnsRegistrationInfo(t *testing.T) {
	env := newTestEnv(t)

	auth, err := passkey.NewMockAuthenticator("example.com")
	require.NoError(t, err)

	status, body := env.post("/api/generate-registration-options", map[string]string{
		"username": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, status)

	var opts optionsEnvelope
	require.NoError(t, json.Unmarshal(body, &opts))

	creation, err := auth.CreateAttestationResponse(opts.Challenge, testOrigin)
	require.NoError(t, err)
	rawResponse, err := json.Marshal(creation.Raw)
	require.NoError(t, err)

	status, body = env.post("/api/verify-registration", map[string]interface{}{
		"response":    json.RawMessage(rawResponse),
		"challengeId": opts.ChallengeID,
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var verify VerifyRegistrationResponse
	require.NoError(t, json.Unmarshal(body, &verify))
	assert.True(t, verify.Verified)
	require.NotNil(t, verify.RegistrationInfo)
	assert.NotEmpty(t, verify.RegistrationInfo.CredentialID)
	assert.Equal(t, "none", verify.RegistrationInfo.AttestationType)
}

// A registration response against an authentication challenge must not
// complete the ceremony, and must still burn the challenge.
func TestVerifyRegistration_KindMismatch(t *testing.T) {
	env := newTestEnv(t)

	auth, err := passkey.NewMockAuthenticator("example.com")
	require.NoError(t, err)

	status, body := env.post("/api/generate-authentication-options", map[string]string{})
	require.Equal(t, http.StatusOK, status)

	var opts optionsEnvelope
	require.NoError(t, json.Unmarshal(body, &opts))

	creation, err := auth.CreateAttestationResponse(opts.Challenge, testOrigin)
	require.NoError(t, err)
	rawResponse, err := json.Marshal(creation.Raw)
	require.NoError(t, err)

	request := map[string]interface{}{
		"response":    json.RawMessage(rawResponse),
		"challengeId": opts.ChallengeID,
	}

	status, _ = env.post("/api/verify-registration", request)
	require.Equal(t, http.StatusBadRequest, status)

	// The mismatched attempt consumed the challenge.
	status, _ = env.post("/api/verify-registration", request)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)

	auth, err := passkey.NewMockAuthenticator("example.com")
	require.NoError(t, err)
	env.register(auth, "alice@example.com")

	status, body := env.get("/api/users")
	require.Equal(t, http.StatusOK, status)

	var users []UserSummary
	require.NoError(t, json.Unmarshal(body, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice@example.com", users[0].Username)
	require.Len(t, users[0].Passkeys, 1)
	assert.NotEmpty(t, users[0].Passkeys[0].CredentialID)
	assert.False(t, users[0].Passkeys[0].CloneWarning)
}

func TestListUsers_Empty(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.get("/api/users")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "[]", string(bytes.TrimSpace(body)))
}
