// ABOUTME: serve command that loads config and runs the gateway until signaled
// ABOUTME: Resolves the listen address from flags and prints the startup banner

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/llm-gateway/internal/config"
	"github.com/2389/llm-gateway/internal/gateway"
)

func newServeCommand(configPath *string) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), *configPath, host, port)
		},
	}
	cmd.Flags().StringVarP(&host, "listen", "l", "", "listen address (default 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default 8080)")
	return cmd
}

func runServe(ctx context.Context, out io.Writer, configPath, host string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Server.Listen = config.ResolveListenAddr(host, port, cfg.Server.Listen)

	printStartup(out, configPath, cfg)

	logger := setupLogger(cfg.Logging)
	logger.Info("starting llm-gateway",
		"config", configPath,
		"listen", cfg.Server.Listen,
		"grpc_addr", cfg.Server.GRPCAddr,
		"backend", cfg.Backend.URL,
		"backend_model", cfg.Backend.ModelName,
		"api_keys", len(cfg.APIKeys),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// printStartup prints the banner and the effective addresses.
func printStartup(out io.Writer, configPath string, cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Fprint(out, banner)
	gray.Fprintf(out, "    version: %s\n\n", version)

	line := func(label, value string) {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s %s\n", label+":", value)
	}
	line("Config", configPath)
	line("HTTP", "http://"+cfg.Server.Listen)
	if cfg.Server.GRPCAddr != "" {
		line("gRPC", cfg.Server.GRPCAddr)
	}
	line("Backend", cfg.Backend.URL+" ("+cfg.Backend.ModelName+")")

	if cfg.Tailscale.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s ", "Tailscale:")
		cyan.Fprint(out, cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			color.New(color.FgYellow).Fprint(out, " [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(out, " (ephemeral)")
		}
		fmt.Fprintln(out)
	}
	if cfg.Metrics.Enabled {
		line("Metrics", cfg.Metrics.Path)
	}
	fmt.Fprintln(out)
}
