package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ferro-labs/chatproxy/internal/auth"
)

const testConfig = `
auth:
  issuer: chatproxy
  audience: clients
  signing_key: cli-test-key
blacklist:
  words: [forbidden, "Proibído"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatproxy.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	out, err := run(t, "validate", writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Config is valid") || !strings.Contains(out, "2 entries, 2 terms") {
		t.Errorf("output = %s", out)
	}
}

func TestValidate_Invalid(t *testing.T) {
	_, err := run(t, "validate", writeConfig(t, "auth:\n  issuer: only\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCheck(t *testing.T) {
	cfg := writeConfig(t, testConfig)

	out, err := run(t, "check", "--config", cfg, "this", "is", "PROIBIDO")
	if !errors.Is(err, errBlocked) {
		t.Fatalf("expected errBlocked, got %v", err)
	}
	if !strings.Contains(out, "blocked: proibido") {
		t.Errorf("output = %s", out)
	}

	out, err = run(t, "check", "--config", cfg, "perfectly fine")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "allowed") {
		t.Errorf("output = %s", out)
	}
}

func TestToken(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "")
	out, err := run(t, "token", "--config", writeConfig(t, testConfig), "--ttl", "5m", "alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	tokens, err := auth.NewTokenService(auth.TokenSettings{
		Issuer: "chatproxy", Audience: "clients", SigningKey: "cli-test-key", Lifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	claims, err := tokens.Validate(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q", claims.Subject)
	}
}

func TestToken_EnvSigningKeyOverridesConfig(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "env-signing-key")
	out, err := run(t, "token", "--config", writeConfig(t, testConfig), "alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	for key, valid := range map[string]bool{"env-signing-key": true, "cli-test-key": false} {
		tokens, err := auth.NewTokenService(auth.TokenSettings{
			Issuer: "chatproxy", Audience: "clients", SigningKey: key, Lifetime: time.Minute,
		})
		if err != nil {
			t.Fatalf("token service: %v", err)
		}
		if _, err := tokens.Validate(strings.TrimSpace(out)); (err == nil) != valid {
			t.Errorf("validate with %q: err = %v, want valid=%v", key, err, valid)
		}
	}
}

func TestToken_NoSigningKey(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "")
	cfg := writeConfig(t, "auth:\n  issuer: a\n  audience: b\n")
	if _, err := run(t, "token", "--config", cfg, "alice"); err == nil {
		t.Fatal("expected error without a signing key")
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "chatproxy-cli ") {
		t.Errorf("output = %s", out)
	}
}
