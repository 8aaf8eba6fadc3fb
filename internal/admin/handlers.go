// Package admin provides HTTP handlers for the proxy administration API.
// Routes expose the request audit log and a redacted view of the running
// configuration. The router mounts them behind bearer-token authentication
// restricted to the subjects listed in auth.admins; handlers here do no
// authorization of their own.
package admin

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	chatproxy "github.com/ferro-labs/chatproxy"
	"github.com/ferro-labs/chatproxy/internal/requestlog"
)

// ConfigSource exposes the active configuration.
type ConfigSource interface {
	GetConfig() chatproxy.Config
}

// Handlers holds dependencies for admin HTTP handlers. Nil Logs or LogAdmin
// disable the corresponding routes with 501.
type Handlers struct {
	Configs  ConfigSource
	Logs     requestlog.Reader
	LogAdmin requestlog.Maintainer
}

const (
	unknownLabel           = "unknown"
	statsMaxScannedEntries = 5000
	redacted               = "[redacted]"
)

// Routes returns a chi.Router with all admin endpoints mounted.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/requests", h.listRequests)
	r.Get("/requests/stats", h.requestStats)
	r.Delete("/requests", h.deleteRequests)
	r.Get("/config", h.getConfig)
	return r
}

func (h *Handlers) listRequests(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeError(w, http.StatusNotImplemented, "request log storage is not enabled")
		return
	}

	limit := requestlog.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be a positive integer")
			return
		}
		if parsed > requestlog.MaxListLimit {
			parsed = requestlog.MaxListLimit
		}
		limit = parsed
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset: must be a non-negative integer")
			return
		}
		offset = parsed
	}

	query := requestlog.Query{
		Limit:   limit,
		Offset:  offset,
		Outcome: r.URL.Query().Get("outcome"),
		Subject: r.URL.Query().Get("subject"),
	}
	result, err := h.Logs.List(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list request logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result.Data,
		"summary": map[string]interface{}{
			"total_entries":    result.Total,
			"returned_entries": len(result.Data),
		},
		"filters": map[string]interface{}{
			"limit":   limit,
			"offset":  offset,
			"outcome": query.Outcome,
			"subject": query.Subject,
		},
	})
}

func (h *Handlers) deleteRequests(w http.ResponseWriter, r *http.Request) {
	if h.LogAdmin == nil {
		writeError(w, http.StatusNotImplemented, "request log storage is not enabled")
		return
	}

	beforeRaw := r.URL.Query().Get("before")
	if beforeRaw == "" {
		writeError(w, http.StatusBadRequest, "before is required and must be RFC3339 format")
		return
	}
	before, err := time.Parse(time.RFC3339, beforeRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid before: must be RFC3339 format")
		return
	}

	deleted, err := h.LogAdmin.Delete(r.Context(), requestlog.MaintenanceQuery{
		Before:  &before,
		Outcome: r.URL.Query().Get("outcome"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete request logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"filters": map[string]interface{}{
			"before":  beforeRaw,
			"outcome": r.URL.Query().Get("outcome"),
		},
	})
}

func (h *Handlers) requestStats(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeError(w, http.StatusNotImplemented, "request log storage is not enabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be a positive integer")
			return
		}
		limit = parsed
	}

	query := requestlog.Query{Limit: requestlog.MaxListLimit, Subject: r.URL.Query().Get("subject")}
	result, err := h.Logs.List(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute request log stats")
		return
	}

	entries := append([]requestlog.Entry(nil), result.Data...)
	for len(entries) < result.Total && len(entries) < statsMaxScannedEntries {
		query.Offset = len(entries)
		next, err := h.Logs.List(r.Context(), query)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to compute request log stats")
			return
		}
		if len(next.Data) == 0 {
			break
		}
		if remaining := statsMaxScannedEntries - len(entries); len(next.Data) > remaining {
			next.Data = next.Data[:remaining]
		}
		entries = append(entries, next.Data...)
	}

	byOutcome := map[string]int{}
	byTerm := map[string]int{}
	bySubject := map[string]int{}
	var elapsed int64
	completed := 0
	for _, e := range entries {
		byOutcome[e.Outcome]++
		if e.MatchedTerm != "" {
			byTerm[e.MatchedTerm]++
		}
		subject := e.Subject
		if subject == "" {
			subject = unknownLabel
		}
		bySubject[subject]++
		if e.ElapsedMillis > 0 {
			elapsed += e.ElapsedMillis
			completed++
		}
	}
	var avgElapsed int64
	if completed > 0 {
		avgElapsed = elapsed / int64(completed)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": map[string]interface{}{
			"total_entries":     len(entries),
			"available_entries": result.Total,
			"truncated":         len(entries) < result.Total,
			"avg_elapsed_ms":    avgElapsed,
		},
		"by_outcome":      byOutcome,
		"by_matched_term": limitCounts(byTerm, limit),
		"by_subject":      limitCounts(bySubject, limit),
	})
}

func limitCounts(input map[string]int, limit int) map[string]int {
	if limit <= 0 || len(input) <= limit {
		return input
	}

	type item struct {
		name  string
		count int
	}
	items := make([]item, 0, len(input))
	for name, count := range input {
		items = append(items, item{name: name, count: count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].name < items[j].name
	})

	trimmed := make(map[string]int, limit)
	for i := 0; i < limit; i++ {
		trimmed[items[i].name] = items[i].count
	}
	return trimmed
}

func (h *Handlers) getConfig(w http.ResponseWriter, _ *http.Request) {
	if h.Configs == nil {
		writeError(w, http.StatusNotImplemented, "config source is not configured")
		return
	}
	writeJSON(w, http.StatusOK, Redact(h.Configs.GetConfig()))
}

// Redact returns cfg with credentials masked.
func Redact(cfg chatproxy.Config) chatproxy.Config {
	if cfg.Auth.SigningKey != "" {
		cfg.Auth.SigningKey = redacted
	}
	if cfg.Upstream.APIKey != "" {
		cfg.Upstream.APIKey = redacted
	}
	if cfg.RequestLog.DSN != "" && cfg.RequestLog.Driver == "postgres" {
		cfg.RequestLog.DSN = redacted
	}
	users := make([]chatproxy.UserConfig, len(cfg.Auth.Users))
	for i, u := range cfg.Auth.Users {
		users[i] = chatproxy.UserConfig{Username: u.Username, Password: redacted}
	}
	cfg.Auth.Users = users
	return cfg
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
