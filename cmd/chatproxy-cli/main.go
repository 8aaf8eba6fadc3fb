// Package main provides the chatproxy-cli command-line tool for operating the
// chat proxy: validating configs, dry-running moderation and minting tokens.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	chatproxy "github.com/ferro-labs/chatproxy"
	"github.com/ferro-labs/chatproxy/internal/auth"
	"github.com/ferro-labs/chatproxy/internal/blacklist"
	"github.com/ferro-labs/chatproxy/internal/moderation"
	"github.com/ferro-labs/chatproxy/internal/textnorm"
	"github.com/ferro-labs/chatproxy/internal/version"
)

// errBlocked makes check exit non-zero when the text would be rejected.
var errBlocked = errors.New("content not allowed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatproxy-cli",
		Short:         "chatproxy command line tool",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newValidateCmd(), newCheckCmd(), newTokenCmd(), newVersionCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a proxy configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := chatproxy.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := chatproxy.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}

			snap := blacklist.New(cfg.Blacklist.Words).Current()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Config is valid\n")
			fmt.Fprintf(out, "  Upstream:   %s (model %s)\n", cfg.Upstream.BaseURL, cfg.Upstream.Model)
			fmt.Fprintf(out, "  Issuer:     %s\n", cfg.Auth.Issuer)
			fmt.Fprintf(out, "  Audience:   %s\n", cfg.Auth.Audience)
			fmt.Fprintf(out, "  Users:      %d\n", len(cfg.Auth.Users))
			fmt.Fprintf(out, "  Blacklist:  %d entries, %d terms\n", len(cfg.Blacklist.Words), snap.Len())
			fmt.Fprintf(out, "  Rate limit: %d per %ds (queue %d)\n",
				cfg.RateLimit.PermitLimit, cfg.RateLimit.WindowSeconds, cfg.RateLimit.QueueLimit)
			if cfg.RequestLog.Driver != "" {
				fmt.Fprintf(out, "  Request log: %s\n", cfg.RequestLog.Driver)
			}
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check --config <config-file> <text...>",
		Short: "Run text through the moderation filter without calling upstream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := chatproxy.LoadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			text := strings.Join(args, " ")
			filter := moderation.NewFilter(blacklist.New(cfg.Blacklist.Words))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tokens: %s\n", strings.Join(textnorm.Normalize(text), " "))
			if v := filter.Check(text); v.Blocked {
				fmt.Fprintf(out, "blocked: %s\n", v.Term)
				return errBlocked
			}
			fmt.Fprintln(out, "allowed")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "chatproxy.yaml", "config file")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		cfgPath  string
		lifetime time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token --config <config-file> <subject>",
		Short: "Mint a bearer token for subject using the configured signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := chatproxy.LoadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			key, err := auth.ResolveSigningKey(cfg.Auth.SigningKey)
			if err != nil {
				return err
			}
			if lifetime <= 0 {
				lifetime = time.Duration(cfg.Auth.ExpiresMinutes) * time.Minute
			}
			tokens, err := auth.NewTokenService(auth.TokenSettings{
				Issuer:     cfg.Auth.Issuer,
				Audience:   cfg.Auth.Audience,
				SigningKey: key,
				Lifetime:   lifetime,
			})
			if err != nil {
				return err
			}
			token, err := tokens.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "chatproxy.yaml", "config file")
	cmd.Flags().DurationVar(&lifetime, "ttl", 0, "token lifetime (default auth.expires_minutes)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatproxy-cli %s\n", version.String())
		},
	}
}
