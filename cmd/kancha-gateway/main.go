// ABOUTME: Entry point for kancha-gateway, the HTTP gateway in front of the AI agent service
// ABOUTME: Subcommands start the server, check a running one, validate or generate config

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "kancha-gateway",
	Short: "Chat gateway for the Kancha assistant",
	Long: `kancha-gateway serves the Kancha chat API: it relays each turn to the
configured AI agent, polls the run to completion and returns the cleaned-up
conversation. It also brokers browser sign-in and short-lived speech tokens.

Configuration is read from --config, $KANCHA_CONFIG or
$XDG_CONFIG_HOME/kancha/gateway.yaml. When no file exists the AZURE_* and
SPEECH_* environment variables are used instead.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (.yaml or .toml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(serveCmd, healthCmd, checkCmd, initCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file. Without an explicit path, a missing file
// falls back to environment-only configuration.
func loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(configFlag)
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if configFlag != "" || os.Getenv("KANCHA_CONFIG") != "" || !errors.Is(err, os.ErrNotExist) {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}

	cfg, err = config.FromEnv()
	if err != nil {
		return nil, "environment", fmt.Errorf("loading config from environment: %w", err)
	}
	return cfg, "environment", nil
}
