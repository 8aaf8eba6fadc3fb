package chatproxy

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ferro-labs/chatproxy/internal/moderation"
	"github.com/ferro-labs/chatproxy/providers"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr           = ":8080"
	DefaultExpiresMinutes = 60
	DefaultPermitLimit    = 30
	DefaultWindowSeconds  = 60
)

const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "server": {
      "type": "object",
      "properties": {
        "addr": {"type": "string"},
        "cors_origins": {"type": "array", "items": {"type": "string"}},
        "max_body_bytes": {"type": "integer", "minimum": 0}
      }
    },
    "auth": {
      "type": "object",
      "properties": {
        "issuer": {"type": "string"},
        "audience": {"type": "string"},
        "expires_minutes": {"type": "integer", "minimum": 0},
        "signing_key": {"type": "string"},
        "users": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
              "username": {"type": "string", "minLength": 1},
              "password": {"type": "string", "minLength": 1}
            }
          }
        },
        "admins": {"type": "array", "items": {"type": "string", "minLength": 1}}
      }
    },
    "upstream": {
      "type": "object",
      "properties": {
        "base_url": {"type": "string"},
        "model": {"type": "string"},
        "timeout_seconds": {"type": "integer", "minimum": 0},
        "default_temperature": {"type": "number", "minimum": 0, "maximum": 2}
      }
    },
    "blacklist": {
      "type": "object",
      "properties": {
        "words": {"type": ["array", "null"], "items": {"type": "string"}}
      }
    },
    "rate_limit": {
      "type": "object",
      "properties": {
        "permit_limit": {"type": "integer", "minimum": 0},
        "window_seconds": {"type": "integer", "minimum": 0},
        "queue_limit": {"type": "integer", "minimum": 0},
        "per_client": {"type": "boolean"}
      }
    },
    "request_log": {
      "type": "object",
      "properties": {
        "driver": {"enum": ["", "sqlite", "postgres"]},
        "dsn": {"type": "string"}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("chatproxy-config.json", configSchema)

// LoadConfig reads and parses a config file from the given path and applies
// defaults. Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills zero-valued settings in place.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = moderation.DefaultMaxBodyBytes
	}
	if cfg.Auth.ExpiresMinutes <= 0 {
		cfg.Auth.ExpiresMinutes = DefaultExpiresMinutes
	}
	if strings.TrimSpace(cfg.Upstream.BaseURL) == "" {
		cfg.Upstream.BaseURL = providers.DefaultOpenAIBaseURL
	}
	if strings.TrimSpace(cfg.Upstream.Model) == "" {
		cfg.Upstream.Model = providers.DefaultOpenAIModel
	}
	if cfg.Upstream.TimeoutSeconds <= 0 {
		cfg.Upstream.TimeoutSeconds = int(providers.DefaultTimeout.Seconds())
	}
	if cfg.RateLimit.PermitLimit <= 0 {
		cfg.RateLimit.PermitLimit = DefaultPermitLimit
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = DefaultWindowSeconds
	}
}

// ValidateConfig checks cfg against the config schema and then applies
// semantic checks the schema cannot express.
func ValidateConfig(cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(cfg.Auth.Audience) == "" {
		return fmt.Errorf("auth.audience is required")
	}

	if base := strings.TrimSpace(cfg.Upstream.BaseURL); base != "" {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("upstream.base_url %q must be an absolute http or https URL", base)
		}
	}

	seen := make(map[string]bool, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		name := strings.TrimSpace(u.Username)
		if seen[name] {
			return fmt.Errorf("duplicate auth user %q", name)
		}
		seen[name] = true
	}

	if cfg.RequestLog.Driver == "postgres" && strings.TrimSpace(cfg.RequestLog.DSN) == "" {
		return fmt.Errorf("request_log.dsn is required for the postgres driver")
	}
	return nil
}
