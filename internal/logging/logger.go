// Package logging provides structured JSON logging for the proxy. Every
// request gets a trace ID and, once the bearer token is verified, the caller's
// subject; both are attached to each line logged through FromContext and to
// the access log line written when the request completes.
package logging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const requestInfoKey contextKey = "request_info"

// requestInfo is shared by pointer between the outer logging middleware and
// handlers further down the chain, so values set late (the subject) are
// visible to the access log.
type requestInfo struct {
	traceID string
	subject atomic.Value // string
}

func (ri *requestInfo) subjectString() string {
	s, _ := ri.subject.Load().(string)
	return s
}

// Logger is the package-level structured logger. Callers should prefer
// FromContext(ctx) to automatically attach request attributes.
var Logger *slog.Logger

func init() {
	Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// Setup (re-)initialises the package logger. level is one of debug/info/warn/error
// (default info). format is "json" (default) or "text".
func Setup(level, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(out io.Writer, level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	Logger = slog.New(handler).With("service", "chatproxy")
	slog.SetDefault(Logger)
}

func infoFromContext(ctx context.Context) *requestInfo {
	ri, _ := ctx.Value(requestInfoKey).(*requestInfo)
	return ri
}

// WithTraceID returns a context carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, requestInfoKey, &requestInfo{traceID: traceID})
}

// TraceIDFromContext returns the request trace ID, or "".
func TraceIDFromContext(ctx context.Context) string {
	if ri := infoFromContext(ctx); ri != nil {
		return ri.traceID
	}
	return ""
}

// WithSubject records the authenticated subject for the request. Inside
// Middleware the subject is set on the existing request record and ctx is
// returned unchanged; elsewhere a new record is attached.
func WithSubject(ctx context.Context, subject string) context.Context {
	if ri := infoFromContext(ctx); ri != nil {
		ri.subject.Store(subject)
		return ctx
	}
	ri := &requestInfo{}
	ri.subject.Store(subject)
	return context.WithValue(ctx, requestInfoKey, ri)
}

// FromContext returns Logger annotated with the request's trace_id and
// subject, when known.
func FromContext(ctx context.Context) *slog.Logger {
	ri := infoFromContext(ctx)
	if ri == nil {
		return Logger
	}
	l := Logger
	if ri.traceID != "" {
		l = l.With("trace_id", ri.traceID)
	}
	if s := ri.subjectString(); s != "" {
		l = l.With("subject", s)
	}
	return l
}

// Middleware assigns a trace ID (the incoming X-Request-ID, or a new UUID),
// echoes it in the response and logs one access line per request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Request-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Request-ID", traceID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		FromContext(ctx).Log(ctx, level, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
