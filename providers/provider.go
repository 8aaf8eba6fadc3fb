// Package providers defines the Provider interface and the request/response
// types exchanged between the proxy and an upstream completion API.
//
// Core types: Prompt (what a caller asks), Result (what the upstream
// answered) and UpstreamError (what went wrong upstream).
package providers

import (
	"context"
	"strings"
)

// Message role constants used when building upstream requests.
const (
	RoleUser   = "user"
	RoleSystem = "system"
)

// UnknownModel is reported when the upstream response omits the model id.
const UnknownModel = "unknown"

// Provider is a completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (*Result, error)
}

// Prompt is the inbound chat request body. Only Prompt is required; a nil
// Temperature or System selects the provider default.
type Prompt struct {
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	System      *string  `json:"system,omitempty"`
}

// Blank reports whether the prompt text is empty or whitespace only.
func (p Prompt) Blank() bool {
	return strings.TrimSpace(p.Prompt) == ""
}

// Result is the outward contract of a successful completion.
type Result struct {
	Text          string `json:"text"`
	Model         string `json:"model"`
	ElapsedMillis int64  `json:"elapsedMillis"`
}
