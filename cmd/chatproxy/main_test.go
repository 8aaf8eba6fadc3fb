package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	chatproxy "github.com/ferro-labs/chatproxy"
	"github.com/ferro-labs/chatproxy/internal/auth"
	"github.com/ferro-labs/chatproxy/internal/ratelimit"
	"github.com/ferro-labs/chatproxy/internal/requestlog"
	"github.com/ferro-labs/chatproxy/internal/secret"
	"github.com/ferro-labs/chatproxy/providers"
)

type fakeProvider struct {
	calls atomic.Int32
	err   error
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Complete(_ context.Context, p providers.Prompt) (*providers.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &providers.Result{Text: "echo: " + p.Prompt, Model: "fake-model", ElapsedMillis: 1}, nil
}

type testEnv struct {
	handler  http.Handler
	provider *fakeProvider
	tokens   *auth.TokenService
	token    string
}

type envOption func(*server)

func newTestEnv(t *testing.T, provider *fakeProvider, opts ...envOption) *testEnv {
	t.Helper()
	cfg := chatproxy.Config{
		Auth: chatproxy.AuthConfig{
			Issuer:   "chatproxy",
			Audience: "clients",
			Users:    []chatproxy.UserConfig{{Username: "admin", Password: "s3cret"}},
			Admins:   []string{"admin"},
		},
		Blacklist: chatproxy.BlacklistConfig{Words: []string{"forbidden", "Maldição"}},
	}
	chatproxy.ApplyDefaults(&cfg)

	gw, err := chatproxy.New(cfg, chatproxy.WithProvider(provider))
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	tokens, err := auth.NewTokenService(auth.TokenSettings{
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		SigningKey: "test-key",
	})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	token, _ := tokens.Issue("admin")

	s := server{
		gw:           gw,
		tokens:       tokens,
		verifier:     auth.NewStaticVerifier([]auth.User{{Username: "admin", Password: "s3cret"}}),
		limits:       ratelimit.NewStore(ratelimit.Settings{PermitLimit: 100, Window: time.Minute}),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &testEnv{handler: newRouter(s), provider: provider, tokens: tokens, token: token}
}

func (e *testEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	w := env.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeMap(t, w)
	if body["status"] != "ok" || body["blacklist_terms"] != float64(2) {
		t.Errorf("body = %v", body)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	env.do(http.MethodPost, "/chat/ask", `{"prompt":"hello"}`, env.token)

	w := env.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "chatproxy_requests_total") {
		t.Error("expected chatproxy_requests_total in metrics output")
	}
}

func TestLoginThenBlacklist(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	w := env.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"s3cret"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	token, _ := decodeMap(t, w)["access_token"].(string)
	if token == "" {
		t.Fatal("expected access_token")
	}

	if w := env.do(http.MethodGet, "/blacklist", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("blacklist without token: expected 401, got %d", w.Code)
	}

	w = env.do(http.MethodGet, "/blacklist", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("blacklist: expected 200, got %d", w.Code)
	}
	var words []string
	if err := json.NewDecoder(w.Body).Decode(&words); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(words) != 2 || words[1] != "Maldição" {
		t.Errorf("words = %v", words)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	if w := env.do(http.MethodPost, "/auth/login", `{"username":"admin","password":"nope"}`, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestChatAsk(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		token     bool
		wantCode  int
		wantCalls int32
		check     func(t *testing.T, body map[string]interface{})
	}{
		{
			name: "success", body: `{"prompt":"hello there","temperature":0.1}`, token: true,
			wantCode: http.StatusOK, wantCalls: 1,
			check: func(t *testing.T, b map[string]interface{}) {
				if b["text"] != "echo: hello there" || b["model"] != "fake-model" {
					t.Errorf("body = %v", b)
				}
				if _, ok := b["elapsedMillis"]; !ok {
					t.Errorf("missing elapsedMillis: %v", b)
				}
			},
		},
		{
			name: "no token", body: `{"prompt":"hello"}`,
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "blocked", body: `{"prompt":"this is FORBIDDEN!"}`, token: true,
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, b map[string]interface{}) {
				if b["error"] != "content not allowed" || b["word"] != "forbidden" {
					t.Errorf("body = %v", b)
				}
			},
		},
		{
			name: "blocked without accents", body: `{"prompt":"que maldicao"}`, token: true,
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, b map[string]interface{}) {
				if b["word"] != "maldicao" {
					t.Errorf("body = %v", b)
				}
			},
		},
		{
			name: "blank prompt", body: `{"prompt":"   "}`, token: true,
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, b map[string]interface{}) {
				if b["error"] != "prompt required" {
					t.Errorf("body = %v", b)
				}
			},
		},
		{
			name: "malformed", body: `{"prompt":`, token: true,
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeProvider{})
			token := ""
			if tt.token {
				token = env.token
			}
			w := env.do(http.MethodPost, "/chat/ask", tt.body, token)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if got := env.provider.calls.Load(); got != tt.wantCalls {
				t.Errorf("provider calls = %d, want %d", got, tt.wantCalls)
			}
			if tt.check != nil {
				tt.check(t, decodeMap(t, w))
			}
		})
	}
}

func TestChatAsk_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		check    func(t *testing.T, body map[string]interface{})
	}{
		{
			name:     "upstream status",
			err:      &providers.UpstreamError{Provider: "fake", StatusCode: 429, Body: `{"error":"quota"}`},
			wantCode: http.StatusBadGateway,
			check: func(t *testing.T, b map[string]interface{}) {
				if b["error"] != "upstream request failed" || b["upstream_status"] != float64(429) || b["upstream_body"] != `{"error":"quota"}` {
					t.Errorf("body = %v", b)
				}
			},
		},
		{
			name:     "transport",
			err:      &providers.UpstreamError{Provider: "fake", Err: errors.New("connection refused")},
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "timeout",
			err:      context.DeadlineExceeded,
			wantCode: http.StatusGatewayTimeout,
		},
		{
			name:     "not configured",
			err:      &secret.ConfigError{Setting: "upstream.api_key", EnvKeys: []string{"OPENAI_API_KEY"}},
			wantCode: http.StatusInternalServerError,
			check: func(t *testing.T, b map[string]interface{}) {
				if b["error"] != "upstream not configured" {
					t.Errorf("body = %v", b)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeProvider{err: tt.err})
			w := env.do(http.MethodPost, "/chat/ask", `{"prompt":"hello"}`, env.token)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.check != nil {
				tt.check(t, decodeMap(t, w))
			}
		})
	}
}

func TestChatAsk_RateLimited(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, func(s *server) {
		s.limits = ratelimit.NewStore(ratelimit.Settings{PermitLimit: 1, Window: time.Hour})
	})

	if w := env.do(http.MethodPost, "/chat/ask", `{"prompt":"one"}`, env.token); w.Code != http.StatusOK {
		t.Fatalf("first: expected 200, got %d", w.Code)
	}
	w := env.do(http.MethodPost, "/chat/ask", `{"prompt":"two"}`, env.token)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if env.provider.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", env.provider.calls.Load())
	}
}

func TestAdminRequests(t *testing.T) {
	sqlLog, err := requestlog.NewSQLiteWriter(filepath.Join(t.TempDir(), "requests.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlLog.Close() })

	provider := &fakeProvider{}
	cfg := chatproxy.Config{
		Auth:      chatproxy.AuthConfig{Issuer: "chatproxy", Audience: "clients", Admins: []string{"admin"}},
		Blacklist: chatproxy.BlacklistConfig{Words: []string{"forbidden"}},
	}
	chatproxy.ApplyDefaults(&cfg)
	gw, err := chatproxy.New(cfg, chatproxy.WithProvider(provider), chatproxy.WithRequestLog(sqlLog))
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	env := newTestEnv(t, provider, func(s *server) {
		s.gw = gw
		s.logs = sqlLog
		s.logAdmin = sqlLog
	})

	env.do(http.MethodPost, "/chat/ask", `{"prompt":"hello"}`, env.token)
	env.do(http.MethodPost, "/chat/ask", `{"prompt":"forbidden words"}`, env.token)

	if w := env.do(http.MethodGet, "/admin/requests", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("admin without token: expected 401, got %d", w.Code)
	}

	w := env.do(http.MethodGet, "/admin/requests?outcome=blocked", "", env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Data []requestlog.Entry `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].MatchedTerm != "forbidden" || body.Data[0].Subject != "admin" {
		t.Errorf("data = %+v", body.Data)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, func(s *server) {
		s.corsOrigins = []string{"https://app.example.com"}
	})
	req := httptest.NewRequest(http.MethodOptions, "/chat/ask", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestAdminRequiresAdminSubject(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	userToken, err := env.tokens.Issue("bob")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/admin/config"},
		{http.MethodGet, "/admin/requests"},
		{http.MethodDelete, "/admin/requests"},
	} {
		if w := env.do(tc.method, tc.path, "", userToken); w.Code != http.StatusForbidden {
			t.Errorf("%s %s as non-admin: expected 403, got %d", tc.method, tc.path, w.Code)
		}
	}
	if w := env.do(http.MethodGet, "/admin/config", "", env.token); w.Code != http.StatusOK {
		t.Errorf("admin config as admin: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	// Non-admin tokens still reach the regular authenticated routes.
	if w := env.do(http.MethodGet, "/blacklist", "", userToken); w.Code != http.StatusOK {
		t.Errorf("blacklist as non-admin: expected 200, got %d", w.Code)
	}
}
