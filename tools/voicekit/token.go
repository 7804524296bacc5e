package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/VoiceKit/pkg/httputil"
	"github.com/AltairaLabs/VoiceKit/runtime/realtime"
	"github.com/AltairaLabs/VoiceKit/runtime/telemetry"
)

var errNoTokenURL = errors.New("no token endpoint configured (set realtime.token_url or --token-url)")

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Check the realtime token endpoint",
	Long: `Request an ephemeral realtime token and report the model and expiry.

The secret itself is never printed.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}
	if cfg.Realtime.TokenURL == "" {
		return errNoTokenURL
	}

	timeout := cfg.Realtime.ConnectTimeout
	if timeout <= 0 {
		timeout = httputil.DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client := realtime.NewTokenClient(cfg.Realtime.TokenURL, cfg.Realtime.TokenMethod,
		telemetry.HTTPClient(httputil.NewHTTPClient(httputil.DefaultProbeTimeout)))
	started := time.Now()
	tok, err := client.Fetch(ctx)
	if err != nil {
		return err
	}

	rows := [][2]string{
		{"endpoint", cfg.Realtime.TokenURL},
		{"latency", time.Since(started).Round(time.Millisecond).String()},
		{"model", valueOr(tok.Model, "(not reported)")},
		{"secret", fmt.Sprintf("%d chars", len(tok.ClientSecret))},
	}
	if !tok.ExpiresAt.IsZero() {
		rows = append(rows, [2]string{"expires", fmt.Sprintf("%s (in %s)",
			tok.ExpiresAt.Format(time.RFC3339), time.Until(tok.ExpiresAt).Round(time.Second))})
	}
	fmt.Fprintln(cmd.OutOrStdout(), keyValues("Token OK", rows))
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
