// ABOUTME: add-api-key command that generates a key and appends it to the config file
// ABOUTME: Supports storing only a bcrypt hash so the plaintext never lands on disk

package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/2389/llm-gateway/internal/auth"
	"github.com/2389/llm-gateway/internal/config"
)

var validPermissions = []string{auth.PermRead, auth.PermBroadcast, auth.PermAdmin}

type addKeyOptions struct {
	name        string
	description string
	permissions []string
	hashed      bool
}

func newAddAPIKeyCommand(configPath *string) *cobra.Command {
	var opts addKeyOptions

	cmd := &cobra.Command{
		Use:   "add-api-key",
		Short: "Generate a new API key and add it to the config file",
		Long: `Generates a random "nsk-" key, appends it to api_keys in the existing
config file and prints it. With --hashed only the bcrypt hash is written, so
the printed key is the only copy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAddAPIKey(cmd.OutOrStdout(), *configPath, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "name identifying the key holder (required)")
	cmd.Flags().StringVar(&opts.description, "description", "", "free-form note stored with the key")
	cmd.Flags().StringSliceVar(&opts.permissions, "permissions", config.DefaultPermissions, "permissions to grant (read, broadcast, admin)")
	cmd.Flags().BoolVar(&opts.hashed, "hashed", false, "store a bcrypt hash instead of the plaintext key")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runAddAPIKey(out io.Writer, configPath string, opts addKeyOptions) error {
	for _, p := range opts.permissions {
		if !slices.Contains(validPermissions, p) {
			return fmt.Errorf("invalid permission %q (valid: %v)", p, validPermissions)
		}
	}

	cfg, err := config.LoadRaw(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	key, err := config.GenerateAPIKey()
	if err != nil {
		return err
	}

	entry := config.APIKeyConfig{
		Name:        opts.name,
		Description: opts.description,
		Permissions: opts.permissions,
	}
	if opts.hashed {
		hash, err := auth.HashKey(key)
		if err != nil {
			return fmt.Errorf("hashing api key: %w", err)
		}
		entry.KeyHash = hash
	} else {
		entry.Key = key
	}

	if err := cfg.AddAPIKey(entry); err != nil {
		return err
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Fprintf(out, "API key added: %s\n", key)
	return nil
}
