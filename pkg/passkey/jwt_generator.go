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
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTGenerator creates signed session tokens after successful
// authentication. It implements TokenGenerator.
type JWTGenerator struct {
	// privateKey signs tokens when asymmetric signing is configured
	privateKey crypto.PrivateKey
	// secret signs tokens with HMAC when no private key is configured
	secret []byte
	// method is the JWT signing method derived from the key material
	method jwt.SigningMethod
	// issuer is the JWT issuer claim
	issuer string
	// audience is the JWT audience claim
	audience []string
	// expiresIn is how long tokens are valid
	expiresIn time.Duration
	// keyID is the key identifier for the kid header
	keyID string
}

// JWTGeneratorConfig contains configuration for the JWT generator.
type JWTGeneratorConfig struct {
	// PrivateKey signs tokens (ECDSA, Ed25519 or RSA). Exactly one of
	// PrivateKey and Secret must be set.
	PrivateKey crypto.PrivateKey
	// Secret signs tokens with HMAC-SHA256.
	Secret []byte
	// Issuer is the JWT issuer claim (default: "go-passkey")
	Issuer string
	// Audience is the JWT audience claim (default: ["go-passkey"])
	Audience []string
	// ExpiresIn is how long tokens are valid (default: 1 hour)
	ExpiresIn time.Duration
	// KeyID is the key identifier for the kid header (optional)
	KeyID string
}

// NewJWTGenerator creates a new JWT generator with the given configuration.
func NewJWTGenerator(config *JWTGeneratorConfig) (*JWTGenerator, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.PrivateKey == nil && len(config.Secret) == 0 {
		return nil, fmt.Errorf("a private key or secret is required")
	}
	if config.PrivateKey != nil && len(config.Secret) > 0 {
		return nil, fmt.Errorf("private key and secret are mutually exclusive")
	}

	var m jwt.SigningMethod = jwt.SigningMethodHS256
	switch config.PrivateKey.(type) {
	case nil:
	case *ecdsa.PrivateKey:
		m = jwt.SigningMethodES256
	case ed25519.PrivateKey:
		m = jwt.SigningMethodEdDSA
	case *rsa.PrivateKey:
		m = jwt.SigningMethodRS256
	default:
		return nil, fmt.Errorf("unsupported private key type %T", config.PrivateKey)
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-passkey"
	}

	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{"go-passkey"}
	}

	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	return &JWTGenerator{
		privateKey: config.PrivateKey,
		secret:     config.Secret,
		method:     m,
		issuer:     issuer,
		audience:   audience,
		expiresIn:  expiresIn,
		keyID:      config.KeyID,
	}, nil
}

// GenerateToken creates a JWT for the authenticated user.
func (g *JWTGenerator) GenerateToken(ctx context.Context, user *User) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss":      g.issuer,
		"aud":      g.audience,
		"sub":      user.ID,
		"iat":      now.Unix(),
		"exp":      now.Add(g.expiresIn).Unix(),
		"nbf":      now.Unix(),
		"username": user.Username,
	}

	token := jwt.NewWithClaims(g.method, claims)
	if g.keyID != "" {
		token.Header["kid"] = g.keyID
	}

	if g.privateKey != nil {
		return token.SignedString(g.privateKey)
	}
	return token.SignedString(g.secret)
}

// VerifyToken verifies a JWT and returns the claims.
func (g *JWTGenerator) VerifyToken(tokenString string) (jwt.MapClaims, error) {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != g.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		if g.privateKey == nil {
			return g.secret, nil
		}
		signer, ok := g.privateKey.(interface{ Public() crypto.PublicKey })
		if !ok {
			return nil, fmt.Errorf("public key not available for verification")
		}
		return signer.Public(), nil
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
		jwt.WithIssuer(g.issuer),
		jwt.WithAudience(g.audience[0]),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	return claims, nil
}

// Issuer returns the configured issuer.
func (g *JWTGenerator) Issuer() string {
	return g.issuer
}

// Audience returns the configured audience.
func (g *JWTGenerator) Audience() []string {
	return g.audience
}

// ExpiresIn returns the token expiration duration.
func (g *JWTGenerator) ExpiresIn() time.Duration {
	return g.expiresIn
}
