// Package secret resolves credentials from configuration and the
// environment, failing with *ConfigError when neither supplies one.
package secret

import (
	"fmt"
	"os"
	"strings"
)

// ConfigError reports a required setting that could not be resolved from
// configuration or the environment. It never carries the secret value.
type ConfigError struct {
	Setting string
	EnvKeys []string
}

func (e *ConfigError) Error() string {
	if len(e.EnvKeys) == 0 {
		return fmt.Sprintf("configuration error: %s is not set", e.Setting)
	}
	return fmt.Sprintf("configuration error: %s is not set (config value or %s)",
		e.Setting, strings.Join(e.EnvKeys, ", "))
}

// Resolve returns value when it is non-blank, otherwise the first non-blank
// environment variable among envKeys, otherwise a *ConfigError naming setting.
func Resolve(setting, value string, envKeys ...string) (string, error) {
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	for _, key := range envKeys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v, nil
		}
	}
	return "", &ConfigError{Setting: setting, EnvKeys: envKeys}
}

// ResolveEnvFirst is Resolve with the opposite precedence: the first non-blank
// environment variable among envKeys wins over value.
func ResolveEnvFirst(setting, value string, envKeys ...string) (string, error) {
	for _, key := range envKeys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v, nil
		}
	}
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	return "", &ConfigError{Setting: setting, EnvKeys: envKeys}
}
