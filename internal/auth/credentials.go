package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialVerifier checks a username/password pair and returns the subject
// to put in the issued token.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (subject string, err error)
}

// User is one statically configured login. Password may be plain text or a
// bcrypt hash ("$2a$", "$2b$", "$2y$").
type User struct {
	Username string
	Password string
}

// StaticVerifier checks credentials against a fixed user list taken from
// configuration.
type StaticVerifier struct {
	users map[string]string
}

// NewStaticVerifier builds a verifier; entries with a blank username or
// password are skipped.
func NewStaticVerifier(users []User) *StaticVerifier {
	v := &StaticVerifier{users: make(map[string]string, len(users))}
	for _, u := range users {
		name := strings.TrimSpace(u.Username)
		if name == "" || u.Password == "" {
			continue
		}
		v.users[name] = u.Password
	}
	return v
}

// Len returns the number of usable configured users.
func (v *StaticVerifier) Len() int { return len(v.users) }

// Verify implements CredentialVerifier.
func (v *StaticVerifier) Verify(_ context.Context, username, password string) (string, error) {
	stored, ok := v.users[strings.TrimSpace(username)]
	if !ok || password == "" {
		return "", ErrInvalidCredentials
	}
	if isBcryptHash(stored) {
		if bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) != nil {
			return "", ErrInvalidCredentials
		}
		return strings.TrimSpace(username), nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		return "", ErrInvalidCredentials
	}
	return strings.TrimSpace(username), nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
