package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ferro-labs/chatproxy/internal/logging"
	"github.com/ferro-labs/chatproxy/internal/metrics"
	"github.com/ferro-labs/chatproxy/providers"
)

// DefaultMaxBodyBytes caps the buffered request body.
const DefaultMaxBodyBytes int64 = 1 << 20

// Client-facing error messages.
const (
	MsgPromptRequired    = "prompt required"
	MsgContentNotAllowed = "content not allowed"
	MsgBodyTooLarge      = "request body too large"
)

// Reason identifies why the interceptor stopped a request.
type Reason string

// Rejection reasons.
const (
	ReasonPromptRequired    Reason = "prompt_required"
	ReasonContentNotAllowed Reason = "content_not_allowed"
	ReasonBodyTooLarge      Reason = "body_too_large"
)

// Rejection describes a request stopped before reaching the chat handler.
type Rejection struct {
	Reason Reason
	Status int
	// Term is set for ReasonContentNotAllowed.
	Term string
}

// RejectHook observes rejections, e.g. to persist them in the request log.
type RejectHook func(ctx context.Context, rej Rejection)

type contextKey string

const (
	bodyContextKey   contextKey = "moderation_body"
	promptContextKey contextKey = "moderation_prompt"
)

// BodyFromContext returns the buffered request body captured by the
// interceptor. The slice must not be modified.
func BodyFromContext(ctx context.Context) ([]byte, bool) {
	b, ok := ctx.Value(bodyContextKey).([]byte)
	return b, ok
}

// PromptFromContext returns the prompt parsed and approved by the interceptor.
func PromptFromContext(ctx context.Context) (providers.Prompt, bool) {
	p, ok := ctx.Value(promptContextKey).(providers.Prompt)
	return p, ok
}

// Interceptor gates the chat route: buffer, parse, moderate, rewind, forward.
type Interceptor struct {
	filter       *Filter
	maxBodyBytes int64
	onReject     RejectHook
}

// InterceptorOption configures an Interceptor.
type InterceptorOption func(*Interceptor)

// WithMaxBodyBytes sets the body size limit. Values <= 0 keep the default.
func WithMaxBodyBytes(n int64) InterceptorOption {
	return func(i *Interceptor) {
		if n > 0 {
			i.maxBodyBytes = n
		}
	}
}

// WithRejectHook registers a callback invoked for every rejected request.
func WithRejectHook(h RejectHook) InterceptorOption {
	return func(i *Interceptor) { i.onReject = h }
}

// NewInterceptor creates an Interceptor using filter.
func NewInterceptor(filter *Filter, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{filter: filter, maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Middleware returns a chi-compatible middleware. Mount it on the chat
// completion route only; it does not inspect the path or method itself.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Buffer: the body is read exactly once into an owned byte slice.
		var body []byte
		var err error
		if r.Body != nil {
			body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, i.maxBodyBytes))
			_ = r.Body.Close()
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				i.reject(w, r, Rejection{Reason: ReasonBodyTooLarge, Status: http.StatusRequestEntityTooLarge},
					map[string]string{"error": MsgBodyTooLarge})
				return
			}
			i.reject(w, r, Rejection{Reason: ReasonPromptRequired, Status: http.StatusBadRequest},
				map[string]string{"error": MsgPromptRequired})
			return
		}

		// Parse.
		var prompt providers.Prompt
		if err := json.Unmarshal(body, &prompt); err != nil || prompt.Blank() {
			i.reject(w, r, Rejection{Reason: ReasonPromptRequired, Status: http.StatusBadRequest},
				map[string]string{"error": MsgPromptRequired})
			return
		}

		// Moderate.
		if v := i.filter.Check(prompt.Prompt); v.Blocked {
			i.reject(w, r, Rejection{Reason: ReasonContentNotAllowed, Status: http.StatusBadRequest, Term: v.Term},
				map[string]string{"error": MsgContentNotAllowed, "word": v.Term})
			return
		}

		// Rewind: downstream gets a fresh reader over the same bytes.
		ctx := context.WithValue(r.Context(), bodyContextKey, body)
		ctx = context.WithValue(ctx, promptContextKey, prompt)
		r = r.WithContext(ctx)
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))

		next.ServeHTTP(w, r)
	})
}

func (i *Interceptor) reject(w http.ResponseWriter, r *http.Request, rej Rejection, payload map[string]string) {
	outcome := metrics.OutcomeInvalid
	if rej.Reason == ReasonContentNotAllowed {
		outcome = metrics.OutcomeBlocked
	}
	metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	metrics.ModerationRejections.WithLabelValues(string(rej.Reason)).Inc()
	logging.FromContext(r.Context()).Info("chat request rejected",
		"reason", rej.Reason,
		"term", rej.Term,
		"status", rej.Status,
	)
	if i.onReject != nil {
		i.onReject(r.Context(), rej)
	}
	writeJSON(w, rej.Status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
