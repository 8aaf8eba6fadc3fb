// Command chatproxy serves the moderated chat gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chatproxy "github.com/ferro-labs/chatproxy"
	"github.com/ferro-labs/chatproxy/internal/auth"
	"github.com/ferro-labs/chatproxy/internal/blacklist"
	"github.com/ferro-labs/chatproxy/internal/logging"
	"github.com/ferro-labs/chatproxy/internal/ratelimit"
	"github.com/ferro-labs/chatproxy/internal/requestlog"
	"github.com/ferro-labs/chatproxy/internal/version"
)

// Environment variables read at startup.
const (
	envConfig = "CHATPROXY_CONFIG"
	envPort   = "PORT"

	defaultConfigPath = "chatproxy.yaml"
)

func main() {
	log := logging.Logger

	cfgPath := os.Getenv(envConfig)
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	cfg, err := chatproxy.LoadConfig(cfgPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	if err := chatproxy.ValidateConfig(*cfg); err != nil {
		fatal("invalid config", err)
	}

	signingKey, err := auth.ResolveSigningKey(cfg.Auth.SigningKey)
	if err != nil {
		fatal("cannot start without a token signing key", err)
	}
	tokens, err := auth.NewTokenService(auth.TokenSettings{
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		SigningKey: signingKey,
		Lifetime:   time.Duration(cfg.Auth.ExpiresMinutes) * time.Minute,
	})
	if err != nil {
		fatal("failed to create token service", err)
	}

	users := make([]auth.User, 0, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		users = append(users, auth.User{Username: u.Username, Password: u.Password})
	}
	verifier := auth.NewStaticVerifier(users)
	if verifier.Len() == 0 {
		log.Warn("no login users configured; /auth/login will reject every request")
	}

	writer, sqlLog, err := requestlog.Open(cfg.RequestLog.Driver, cfg.RequestLog.DSN)
	if err != nil {
		fatal("failed to open request log", err)
	}

	gw, err := chatproxy.New(*cfg, chatproxy.WithRequestLog(writer))
	if err != nil {
		fatal("failed to create gateway", err)
	}
	defer func() { _ = gw.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reload := func() error {
		next, err := chatproxy.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		return gw.ReloadConfig(*next)
	}
	watcher, err := blacklist.NewWatcher(cfgPath, reload)
	if err != nil {
		log.Warn("config file watching disabled; use SIGHUP to reload", "error", err)
	} else {
		go watcher.Start(ctx)
	}
	go reloadOnHangup(ctx, watcher, reload)

	srv := server{
		gw:       gw,
		tokens:   tokens,
		verifier: verifier,
		limits: ratelimit.NewStore(ratelimit.Settings{
			PermitLimit: cfg.RateLimit.PermitLimit,
			Window:      cfg.RateLimit.Window(),
			QueueLimit:  cfg.RateLimit.QueueLimit,
		}),
		perClient:    cfg.RateLimit.PerClient,
		corsOrigins:  cfg.Server.CORSOrigins,
		maxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if sqlLog != nil {
		srv.logs = sqlLog
		srv.logAdmin = sqlLog
	}

	addr := cfg.Server.Addr
	if p := os.Getenv(envPort); p != "" {
		addr = ":" + p
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Upstream.Timeout() + 20*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	log.Info("chatproxy listening",
		"version", version.Short(),
		"addr", addr,
		"model", cfg.Upstream.Model,
		"blacklist_terms", gw.Blacklist().Current().Len(),
		"request_log", cfg.RequestLog.Driver,
	)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		fatal("server error", err)
	}
	log.Info("server stopped")
}

// reloadOnHangup reloads the configuration on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *blacklist.Watcher, reload blacklist.ReloadFunc) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if w != nil {
				_ = w.Reload()
				continue
			}
			if err := reload(); err != nil {
				logging.Logger.Error("config reload failed; keeping previous blacklist", "error", err)
			}
		}
	}
}

func fatal(msg string, err error) {
	logging.Logger.Error(msg, "error", err)
	os.Exit(1)
}
