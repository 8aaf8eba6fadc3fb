package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	chatproxy "github.com/ferro-labs/chatproxy"
	"github.com/ferro-labs/chatproxy/internal/moderation"
	"github.com/ferro-labs/chatproxy/internal/secret"
	"github.com/ferro-labs/chatproxy/providers"
)

// chatHandler answers POST /chat/ask. It runs behind the moderation
// interceptor, which has already parsed and approved the prompt.
func chatHandler(gw *chatproxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prompt, ok := moderation.PromptFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": moderation.MsgPromptRequired})
			return
		}

		res, err := gw.Ask(r.Context(), prompt)
		if err != nil {
			writeAskError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// writeAskError maps an Ask failure onto the outward contract.
func writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cfgErr *secret.ConfigError
		upErr  *providers.UpstreamError
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client is gone; nobody reads a body.
		return
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "upstream not configured"})
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "upstream timeout"})
	case errors.As(err, &upErr) && upErr.StatusCode != 0:
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":           "upstream request failed",
			"upstream_status": upErr.StatusCode,
			"upstream_body":   upErr.Body,
		})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream request failed"})
	}
}
