package main

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	chatproxy "github.com/ferro-labs/chatproxy"
	"github.com/ferro-labs/chatproxy/internal/admin"
	"github.com/ferro-labs/chatproxy/internal/auth"
	"github.com/ferro-labs/chatproxy/internal/logging"
	"github.com/ferro-labs/chatproxy/internal/moderation"
	"github.com/ferro-labs/chatproxy/internal/ratelimit"
	"github.com/ferro-labs/chatproxy/internal/requestlog"
)

// server bundles what the router needs.
type server struct {
	gw           *chatproxy.Gateway
	tokens       *auth.TokenService
	verifier     auth.CredentialVerifier
	limits       *ratelimit.Store
	perClient    bool
	corsOrigins  []string
	maxBodyBytes int64
	logs         requestlog.Reader
	logAdmin     requestlog.Maintainer
}

// newRouter builds the HTTP router.
func newRouter(s server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.corsOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":          "ok",
			"blacklist_terms": s.gw.Blacklist().Current().Len(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", auth.NewLoginHandler(s.tokens, s.verifier).ServeHTTP)

	requireToken := auth.Middleware(s.tokens)

	r.With(requireToken).Get("/blacklist", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.gw.Blacklist().Current().Words())
	})

	interceptor := moderation.NewInterceptor(s.gw.Filter(),
		moderation.WithMaxBodyBytes(s.maxBodyBytes),
		moderation.WithRejectHook(s.gw.RecordRejection),
	)
	r.With(
		ratelimit.Middleware(s.limits, s.perClient),
		requireToken,
		interceptor.Middleware,
	).Post("/chat/ask", chatHandler(s.gw))

	adminHandlers := &admin.Handlers{
		Configs:  s.gw,
		Logs:     s.logs,
		LogAdmin: s.logAdmin,
	}
	isAdmin := func(subject string) bool {
		return slices.Contains(s.gw.GetConfig().Auth.Admins, subject)
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(requireToken)
		r.Use(auth.RequireSubject(isAdmin))
		r.Mount("/", adminHandlers.Routes())
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
