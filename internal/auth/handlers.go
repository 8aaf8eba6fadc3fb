package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ferro-labs/chatproxy/internal/logging"
	"github.com/ferro-labs/chatproxy/internal/metrics"
)

// TokenTypeBearer is the token_type returned by the login endpoint.
const TokenTypeBearer = "Bearer"

const maxLoginBodyBytes = 64 << 10

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// LoginHandler exchanges valid credentials for a signed token. This is the
// single login path; every credential check goes through verifier.
type LoginHandler struct {
	Tokens   *TokenService
	Verifier CredentialVerifier
	validate *validator.Validate
}

// NewLoginHandler creates a LoginHandler.
func NewLoginHandler(tokens *TokenService, verifier CredentialVerifier) *LoginHandler {
	return &LoginHandler{Tokens: tokens, Verifier: verifier, validate: validator.New()}
}

// ServeHTTP implements http.Handler.
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var subject string
	err := h.validate.Struct(req)
	if err == nil {
		subject, err = h.Verifier.Verify(r.Context(), req.Username, req.Password)
	}
	if err != nil {
		metrics.AuthFailures.WithLabelValues("login").Inc()
		log.Info("login rejected", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.Tokens.Issue(subject)
	if err != nil {
		log.Error("issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	log.Info("login succeeded", "subject", subject)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(LoginResponse{AccessToken: token, TokenType: TokenTypeBearer})
}
