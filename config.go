package chatproxy

import "time"

// Config holds the configuration for the chat proxy.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Upstream   UpstreamConfig   `json:"upstream" yaml:"upstream"`
	Blacklist  BlacklistConfig  `json:"blacklist" yaml:"blacklist"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`
	RequestLog RequestLogConfig `json:"request_log" yaml:"request_log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string   `json:"addr" yaml:"addr"`
	CORSOrigins  []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// AuthConfig configures token issuance and the static login users.
// SigningKey may be left empty and supplied through JWT_SIGNING_KEY, which
// takes precedence when both are set.
type AuthConfig struct {
	Issuer         string       `json:"issuer" yaml:"issuer"`
	Audience       string       `json:"audience" yaml:"audience"`
	ExpiresMinutes int          `json:"expires_minutes" yaml:"expires_minutes"`
	SigningKey     string       `json:"signing_key,omitempty" yaml:"signing_key,omitempty"`
	Users          []UserConfig `json:"users,omitempty" yaml:"users,omitempty"`
	// Admins lists the token subjects allowed on /admin. Empty closes the
	// admin API to everyone.
	Admins []string `json:"admins,omitempty" yaml:"admins,omitempty"`
}

// UserConfig is one login. Password may be a bcrypt hash.
type UserConfig struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// UpstreamConfig configures the OpenAI-compatible completion API.
// APIKey may be left empty and supplied through OPENAI_API_KEY.
type UpstreamConfig struct {
	BaseURL            string   `json:"base_url" yaml:"base_url"`
	Model              string   `json:"model" yaml:"model"`
	APIKey             string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Project            string   `json:"project,omitempty" yaml:"project,omitempty"`
	TimeoutSeconds     int      `json:"timeout_seconds" yaml:"timeout_seconds"`
	DefaultSystem      string   `json:"default_system,omitempty" yaml:"default_system,omitempty"`
	DefaultTemperature *float64 `json:"default_temperature,omitempty" yaml:"default_temperature,omitempty"`
}

// Timeout returns TimeoutSeconds as a duration.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// BlacklistConfig holds the hot-reloadable word list.
type BlacklistConfig struct {
	Words []string `json:"words" yaml:"words"`
}

// RateLimitConfig configures the fixed-window limiter on /chat/ask.
type RateLimitConfig struct {
	PermitLimit   int  `json:"permit_limit" yaml:"permit_limit"`
	WindowSeconds int  `json:"window_seconds" yaml:"window_seconds"`
	QueueLimit    int  `json:"queue_limit" yaml:"queue_limit"`
	PerClient     bool `json:"per_client" yaml:"per_client"`
}

// Window returns WindowSeconds as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// RequestLogConfig selects the audit log backend. An empty driver disables it.
type RequestLogConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}
