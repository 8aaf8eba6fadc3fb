// Package auth issues and verifies the bearer tokens that guard the chat and
// blacklist routes.
//
// Tokens are HS256-signed JWTs carrying issuer, audience, subject and
// expiry. Credential verification for login is abstracted behind
// CredentialVerifier so the static configured users can be swapped for a real
// identity backend.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/ferro-labs/chatproxy/internal/secret"
)

const (
	// DefaultTokenLifetime applies when TokenSettings.Lifetime is not positive.
	DefaultTokenLifetime = 60 * time.Minute

	// SigningKeyEnv overrides auth.signing_key from the config file.
	SigningKeyEnv = "JWT_SIGNING_KEY"
)

// ResolveSigningKey returns JWT_SIGNING_KEY when set, else configured.
func ResolveSigningKey(configured string) (string, error) {
	return secret.ResolveEnvFirst("auth.signing_key", configured, SigningKeyEnv)
}

var (
	// ErrTokenExpired is returned when the token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken is returned when the token is invalid for any other reason.
	ErrInvalidToken = errors.New("invalid token")
)

// TokenSettings configures a TokenService.
type TokenSettings struct {
	Issuer     string
	Audience   string
	SigningKey string
	Lifetime   time.Duration
}

// Claims are the JWT claims issued by the proxy.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// TokenService creates and validates signed tokens.
type TokenService struct {
	issuer   string
	audience string
	key      []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewTokenService validates settings and returns a TokenService.
func NewTokenService(s TokenSettings) (*TokenService, error) {
	if strings.TrimSpace(s.SigningKey) == "" {
		return nil, errors.New("signing key is required")
	}
	if strings.TrimSpace(s.Issuer) == "" {
		return nil, errors.New("issuer is required")
	}
	if strings.TrimSpace(s.Audience) == "" {
		return nil, errors.New("audience is required")
	}
	lifetime := s.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &TokenService{
		issuer:   s.Issuer,
		audience: s.Audience,
		key:      []byte(s.SigningKey),
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// Lifetime returns how long issued tokens stay valid.
func (s *TokenService) Lifetime() time.Duration { return s.lifetime }

// Issue creates a signed token for subject.
func (s *TokenService) Issue(subject string) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Name: subject,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and checks signature, algorithm, expiry,
// not-before, issuer and audience.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.VerifyIssuer(s.issuer, true) || !claims.VerifyAudience(s.audience, true) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
