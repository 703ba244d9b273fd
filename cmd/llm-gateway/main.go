// ABOUTME: Entry point for the llm-gateway server and its admin commands
// ABOUTME: Builds the cobra command tree and maps errors to exit codes

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/llm-gateway/internal/config"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

const banner = `
 _ _                             _
| | |_ __ ___         __ _  __ _| |_ _____      ____ _ _   _
| | | '_ ' _ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | | | | | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|_|_| |_| |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                     |___/                             |___/
`

// exitConfigMissing is the exit status when the config file does not exist.
const exitConfigMissing = 2

// defaultConfigPath returns the config file path.
// Priority: LLM_GATEWAY_CONFIG env var > default.conf in the working directory
func defaultConfigPath() string {
	if envPath := os.Getenv("LLM_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "llm-gateway",
		Short: "OpenAI-compatible chat gateway with streaming sessions",
		Long: `llm-gateway accepts OpenAI-style chat completion requests, applies a
persona system prompt and relays them to a configured backend, streaming
the output back as Server-Sent Events.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the config file (TOML, or YAML by extension)")

	root.AddCommand(
		newServeCommand(&configPath),
		newAddAPIKeyCommand(&configPath),
		newHealthCommand(&configPath),
		newVersionCommand(),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)
	cancel()
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, fs.ErrNotExist) {
		os.Exit(exitConfigMissing)
	}
	os.Exit(1)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "llm-gateway %s\n", version)
		},
	}
}
