// Package chatproxy is an authenticated, rate-limited, moderated gateway in
// front of an OpenAI-compatible chat completion API.
//
// The Gateway type ties the pieces together: create one with New, gate
// inbound requests with the Interceptor built from its Filter, and forward
// approved prompts with Ask. The blacklist is hot-reloaded through
// ReloadConfig.
//
// Configuration is loaded from a YAML or JSON file using [LoadConfig].
package chatproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/ferro-labs/chatproxy/internal/auth"
	"github.com/ferro-labs/chatproxy/internal/blacklist"
	"github.com/ferro-labs/chatproxy/internal/logging"
	"github.com/ferro-labs/chatproxy/internal/metrics"
	"github.com/ferro-labs/chatproxy/internal/moderation"
	"github.com/ferro-labs/chatproxy/internal/requestlog"
	"github.com/ferro-labs/chatproxy/internal/secret"
	"github.com/ferro-labs/chatproxy/providers"
)

// Gateway is the main entry point for moderated chat requests.
type Gateway struct {
	mu        sync.RWMutex
	config    Config
	provider  providers.Provider
	blacklist *blacklist.Store
	filter    *moderation.Filter
	requests  requestlog.Writer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithProvider replaces the OpenAI provider built from Config.Upstream.
func WithProvider(p providers.Provider) Option {
	return func(g *Gateway) { g.provider = p }
}

// WithRequestLog persists one entry per request to w.
func WithRequestLog(w requestlog.Writer) Option {
	return func(g *Gateway) {
		if w != nil {
			g.requests = w
		}
	}
}

// New creates a Gateway from cfg.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		config:    cfg,
		blacklist: blacklist.New(cfg.Blacklist.Words),
		requests:  requestlog.NoopWriter{},
	}
	g.filter = moderation.NewFilter(g.blacklist)
	for _, opt := range opts {
		opt(g)
	}
	if g.provider == nil {
		p, err := providers.NewOpenAI(providers.OpenAISettings{
			APIKey:             cfg.Upstream.APIKey,
			Project:            cfg.Upstream.Project,
			BaseURL:            cfg.Upstream.BaseURL,
			Model:              cfg.Upstream.Model,
			DefaultSystem:      cfg.Upstream.DefaultSystem,
			DefaultTemperature: cfg.Upstream.DefaultTemperature,
			Timeout:            cfg.Upstream.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("create upstream provider: %w", err)
		}
		g.provider = p
	}
	return g, nil
}

// Blacklist returns the live blacklist store.
func (g *Gateway) Blacklist() *blacklist.Store { return g.blacklist }

// Filter returns the moderation filter bound to the live blacklist.
func (g *Gateway) Filter() *moderation.Filter { return g.filter }

// Provider returns the upstream provider.
func (g *Gateway) Provider() providers.Provider { return g.provider }

// GetConfig returns a copy of the active configuration.
func (g *Gateway) GetConfig() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// ReloadConfig validates cfg and swaps in its blacklist. Other sections are
// recorded but only take effect on restart.
func (g *Gateway) ReloadConfig(cfg Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	g.mu.Lock()
	g.config = cfg
	g.mu.Unlock()
	g.blacklist.Replace(cfg.Blacklist.Words)
	return nil
}

// Ask forwards an approved prompt upstream and records the outcome.
// ctx cancellation propagates to the upstream call.
func (g *Gateway) Ask(ctx context.Context, p providers.Prompt) (*providers.Result, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	res, err := g.provider.Complete(ctx, p)
	elapsed := time.Since(start)

	entry := requestlog.Entry{
		TraceID:       logging.TraceIDFromContext(ctx),
		Subject:       auth.SubjectFromContext(ctx),
		ElapsedMillis: elapsed.Milliseconds(),
	}

	if err == nil {
		metrics.UpstreamDuration.WithLabelValues(g.provider.Name(), res.Model).Observe(elapsed.Seconds())
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
		entry.Outcome = metrics.OutcomeCompleted
		entry.Model = res.Model
		log.Info("chat completed", "model", res.Model, "elapsed_ms", res.ElapsedMillis)
		g.record(ctx, entry)
		return res, nil
	}

	entry.ErrorMessage = err.Error()
	var (
		upErr  *providers.UpstreamError
		cfgErr *secret.ConfigError
	)
	switch {
	case errors.As(err, &cfgErr):
		entry.Outcome = metrics.OutcomeConfigError
		log.Error("upstream not configured", "setting", cfgErr.Setting)
	case errors.Is(err, context.Canceled):
		entry.Outcome = metrics.OutcomeCanceled
		log.Info("chat canceled by client")
	case errors.As(err, &upErr):
		entry.Outcome = metrics.OutcomeUpstreamError
		entry.UpstreamStatus = upErr.StatusCode
		metrics.UpstreamErrors.WithLabelValues(g.provider.Name(), strconv.Itoa(upErr.StatusCode)).Inc()
		log.Warn("upstream request failed", "status", upErr.StatusCode, "error", err)
	default:
		entry.Outcome = metrics.OutcomeUpstreamError
		metrics.UpstreamErrors.WithLabelValues(g.provider.Name(), "0").Inc()
		log.Warn("upstream request failed", "error", err)
	}
	metrics.RequestsTotal.WithLabelValues(entry.Outcome).Inc()
	g.record(ctx, entry)
	return nil, err
}

// RecordRejection persists a request stopped by the interceptor. Metrics for
// it are recorded by the interceptor itself.
func (g *Gateway) RecordRejection(ctx context.Context, rej moderation.Rejection) {
	outcome := metrics.OutcomeInvalid
	if rej.Reason == moderation.ReasonContentNotAllowed {
		outcome = metrics.OutcomeBlocked
	}
	g.record(ctx, requestlog.Entry{
		TraceID:      logging.TraceIDFromContext(ctx),
		Subject:      auth.SubjectFromContext(ctx),
		Outcome:      outcome,
		MatchedTerm:  rej.Term,
		ErrorMessage: string(rej.Reason),
	})
}

func (g *Gateway) record(ctx context.Context, entry requestlog.Entry) {
	// Canceled requests are still audited.
	if err := g.requests.Write(context.WithoutCancel(ctx), entry); err != nil {
		logging.FromContext(ctx).Error("request log write failed", "error", err)
	}
}

// Close releases the request log.
func (g *Gateway) Close() error {
	if c, ok := g.requests.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
