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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	passkeyhttp "github.com/jeremyhahn/go-passkey/pkg/passkey/http"
)

// Config holds API client configuration.
type Config struct {
	// BaseURL is the server address, with or without scheme.
	// Example: "https://auth.example.com" or "localhost:8080"
	BaseURL string

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Headers are added to every request.
	Headers map[string]string
}

// Client talks to the ceremony endpoints of a passkey server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	logger     *slog.Logger
}

// New creates a new API client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	baseURL := cfg.BaseURL
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		headers:    cfg.Headers,
		logger:     slog.Default(),
	}, nil
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// VerifiedUser is the outcome of a successful verification.
type VerifiedUser struct {
	Username string
	Token    string
}

// GenerateAuthenticationOptions requests an authentication challenge.
// An empty username requests a discoverable (username-less) ceremony.
func (c *Client) GenerateAuthenticationOptions(ctx context.Context, username string) (*passkeyhttp.AuthenticationOptionsResponse, error) {
	body, status, err := c.doRequest(ctx, http.MethodPost, "/api/generate-authentication-options",
		passkeyhttp.AuthenticationOptionsRequest{Username: username})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError(status, body)
	}

	var options passkeyhttp.AuthenticationOptionsResponse
	if err := json.Unmarshal(body, &options); err != nil {
		return nil, fmt.Errorf("%w: decoding options: %v", ErrTransport, err)
	}
	if options.ChallengeID == "" {
		return nil, fmt.Errorf("%w: options without challengeId", ErrTransport)
	}
	return &options, nil
}

// VerifyAuthentication submits an assertion for verification.
// Returns ErrNotVerified when the server rejects the assertion and
// ErrChallengeRejected when the challenge ID is spent, unknown or expired.
func (c *Client) VerifyAuthentication(ctx context.Context, assertion *protocol.CredentialAssertionResponse, challengeID string) (*VerifiedUser, error) {
	raw, err := json.Marshal(assertion)
	if err != nil {
		return nil, fmt.Errorf("marshal assertion: %w", err)
	}

	body, status, err := c.doRequest(ctx, http.MethodPost, "/api/verify-authentication",
		passkeyhttp.VerifyRequest{Response: raw, ChallengeID: challengeID})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError(status, body)
	}

	var result passkeyhttp.VerifyAuthenticationResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding verification result: %v", ErrTransport, err)
	}
	if !result.Verified {
		return nil, ErrNotVerified
	}
	return &VerifiedUser{Username: result.Username, Token: result.Token}, nil
}

// GenerateRegistrationOptions requests a registration challenge for the
// given username.
func (c *Client) GenerateRegistrationOptions(ctx context.Context, username string) (*passkeyhttp.RegistrationOptionsResponse, error) {
	body, status, err := c.doRequest(ctx, http.MethodPost, "/api/generate-registration-options",
		passkeyhttp.RegistrationOptionsRequest{Username: username})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError(status, body)
	}

	var options passkeyhttp.RegistrationOptionsResponse
	if err := json.Unmarshal(body, &options); err != nil {
		return nil, fmt.Errorf("%w: decoding options: %v", ErrTransport, err)
	}
	if options.ChallengeID == "" {
		return nil, fmt.Errorf("%w: options without challengeId", ErrTransport)
	}
	return &options, nil
}

// VerifyRegistration submits an attestation for verification.
func (c *Client) VerifyRegistration(ctx context.Context, creation *protocol.CredentialCreationResponse, challengeID string) (*passkeyhttp.RegistrationInfo, error) {
	raw, err := json.Marshal(creation)
	if err != nil {
		return nil, fmt.Errorf("marshal attestation: %w", err)
	}

	body, status, err := c.doRequest(ctx, http.MethodPost, "/api/verify-registration",
		passkeyhttp.VerifyRequest{Response: raw, ChallengeID: challengeID})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError(status, body)
	}

	var result passkeyhttp.VerifyRegistrationResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding verification result: %v", ErrTransport, err)
	}
	if !result.Verified {
		return nil, ErrNotVerified
	}
	return result.RegistrationInfo, nil
}

// Users fetches the debug account listing.
func (c *Client) Users(ctx context.Context) ([]passkeyhttp.UserSummary, error) {
	body, status, err := c.doRequest(ctx, http.MethodGet, "/api/users", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError(status, body)
	}

	var users []passkeyhttp.UserSummary
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, fmt.Errorf("%w: decoding users: %v", ErrTransport, err)
	}
	return users, nil
}

// doRequest performs an HTTP request and returns the response body and status.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}
	return data, resp.StatusCode, nil
}

// apiError converts a non-2xx response into an error.
func (c *Client) apiError(status int, body []byte) error {
	var errResp passkeyhttp.ErrorResponse
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		message = errResp.Error
	}

	if status == http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrChallengeRejected, message)
	}
	return fmt.Errorf("server returned %d: %s", status, message)
}
