package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ferro-labs/chatproxy/internal/logging"
	"github.com/ferro-labs/chatproxy/internal/metrics"
)

type contextKey string

const claimsContextKey contextKey = "auth_claims"

// ClaimsFromContext retrieves the verified token claims from the request context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*Claims)
	return c, ok
}

// SubjectFromContext returns the authenticated subject, or "" when the
// request was not authenticated.
func SubjectFromContext(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.Subject
	}
	return ""
}

// Middleware returns a chi-compatible middleware that requires a valid bearer
// token and stores its claims in the request context.
func Middleware(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				metrics.AuthFailures.WithLabelValues("missing").Inc()
				writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			claims, err := tokens.Validate(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
			if err != nil {
				kind := "invalid"
				msg := "invalid token"
				if errors.Is(err, ErrTokenExpired) {
					kind = "expired"
					msg = "token expired"
				}
				metrics.AuthFailures.WithLabelValues(kind).Inc()
				logging.FromContext(r.Context()).Debug("bearer token rejected", "reason", kind)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, msg)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = logging.WithSubject(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSubject rejects with 403 any request whose authenticated subject is
// not accepted by allowed. Mount it after Middleware.
func RequireSubject(allowed func(subject string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := SubjectFromContext(r.Context())
			if subject == "" || !allowed(subject) {
				metrics.AuthFailures.WithLabelValues("forbidden").Inc()
				logging.FromContext(r.Context()).Info("subject not allowed", "path", r.URL.Path)
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes {"error":"..."}.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
