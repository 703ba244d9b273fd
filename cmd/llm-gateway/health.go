// ABOUTME: health command that probes a running gateway over HTTP
// ABOUTME: Exits non-zero unless the liveness or readiness endpoint returns 200

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/llm-gateway/internal/config"
)

const healthCheckTimeout = 5 * time.Second

func newHealthCommand(configPath *string) *cobra.Command {
	var ready bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check whether a running gateway is healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRaw(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			addr := config.ResolveListenAddr("", 0, cfg.Server.Listen)
			return runHealth(cmd.Context(), cmd.OutOrStdout(), "http://"+addr, ready)
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness (backend reachable) instead of liveness")
	return cmd
}

func runHealth(ctx context.Context, out io.Writer, baseURL string, ready bool) error {
	path := "/health"
	if ready {
		path = "/health/ready"
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Fprintf(out, "healthy: %s\n", strings.TrimSpace(string(body)))
	return nil
}
