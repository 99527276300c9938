// Package auth verifies identity-provider bearer tokens.
package auth

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/projectkepler/kepler/internal/config"
	"github.com/projectkepler/kepler/pkg/models"
)

const clockSkew = 30 * time.Second

// Verifier turns a bearer token into a principal id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// JWTVerifier checks identity-provider ID tokens. With a public key it accepts
// RS256 tokens signed by any certificate in the PEM bundle (Firebase rotates
// several at once); with only a shared secret it accepts HS256 tokens, which
// is meant for local development.
type JWTVerifier struct {
	method  string
	rsaKeys jwt.VerificationKeySet
	secret  []byte
	opts    []jwt.ParserOption
}

// NewJWTVerifier builds a verifier from auth configuration.
func NewJWTVerifier(cfg config.AuthConfig) (*JWTVerifier, error) {
	v := &JWTVerifier{}

	switch {
	case cfg.PublicKeyPEM != "":
		keys, err := parsePublicKeys(cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		v.method = jwt.SigningMethodRS256.Alg()
		v.rsaKeys = keys
	case cfg.HMACSecret != "":
		v.method = jwt.SigningMethodHS256.Alg()
		v.secret = []byte(cfg.HMACSecret)
	default:
		return nil, errors.New("auth: a public key or HMAC secret is required")
	}

	v.opts = []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}
	return v, nil
}

// Verify validates signature, expiry, issuer and audience and returns the
// token subject. Every failure wraps models.ErrUnauthenticated.
func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", models.ErrUnauthenticated
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc, v.opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", models.ErrUnauthenticated)
	}
	return claims.Subject, nil
}

func (v *JWTVerifier) keyFunc(_ *jwt.Token) (any, error) {
	if v.secret != nil {
		return v.secret, nil
	}
	return v.rsaKeys, nil
}

// parsePublicKeys reads every PEM block (public keys or certificates) in raw.
func parsePublicKeys(raw string) (jwt.VerificationKeySet, error) {
	var set jwt.VerificationKeySet
	rest := []byte(raw)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem.EncodeToMemory(block))
		if err != nil {
			return set, fmt.Errorf("auth: parsing public key: %w", err)
		}
		set.Keys = append(set.Keys, key)
	}
	if len(set.Keys) == 0 {
		return set, errors.New("auth: no PEM public keys found")
	}
	return set, nil
}

var _ Verifier = (*JWTVerifier)(nil)
