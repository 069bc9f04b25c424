// ABOUTME: serve command: prints the startup banner and runs the gateway until interrupted

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/gateway"
)

const banner = `
  _                    _
 | | ____ _ _ __   ___| |__   __ _
 | |/ / _' | '_ \ / __| '_ \ / _' |
 |   < (_| | | | | (__| | | | (_| |
 |_|\_\__,_|_| |_|\___|_| |_|\__,_|
`

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cyan := color.New(color.FgCyan)
		cyan.Print(banner)

		gray := color.New(color.FgHiBlack)
		gray.Printf("    version: %s\n\n", version)

		cfg, source, err := loadConfig()
		if err != nil {
			return err
		}

		logger := setupLogger(cfg.Logging)

		green := color.New(color.FgGreen)
		yellow := color.New(color.FgYellow)

		green.Print("    ▶ ")
		fmt.Printf("Config:    %s\n", source)
		green.Print("    ▶ ")
		fmt.Printf("Backend:   %s %s\n", cfg.Backend.Kind, cfg.Backend.Endpoint)
		green.Print("    ▶ ")
		fmt.Printf("Agent:     %s\n", cfg.Backend.AgentID)

		if cfg.Tailscale.Enabled {
			green.Print("    ▶ ")
			fmt.Printf("Tailscale: ")
			cyan.Print(cfg.Tailscale.Hostname)
			if cfg.Tailscale.Funnel {
				yellow.Print(" [funnel]")
			}
			if cfg.Tailscale.Ephemeral {
				gray.Print(" (ephemeral)")
			}
			fmt.Println()
		} else {
			green.Print("    ▶ ")
			fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
		}

		green.Print("    ▶ ")
		fmt.Printf("Auth:      ")
		switch {
		case cfg.Backend.APIKey != "":
			fmt.Print("api key")
		case cfg.OAuth.ServiceIdentity:
			fmt.Print("service identity")
		default:
			yellow.Print("user sign-in only")
		}
		fmt.Println()

		if cfg.Database.Path == "" {
			green.Print("    ▶ ")
			fmt.Print("Ledger:    ")
			yellow.Println("disabled (turn retry unavailable)")
		} else {
			green.Print("    ▶ ")
			fmt.Printf("Ledger:    %s\n", cfg.Database.Path)
		}
		fmt.Println()

		logger.Info("starting kancha-gateway",
			"config", source,
			"http_addr", cfg.Server.HTTPAddr,
			"backend", cfg.Backend.Kind,
		)

		gw, err := gateway.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("creating gateway: %w", err)
		}
		return gw.Run(cmd.Context())
	},
}
