// ABOUTME: health and check commands: probe a running gateway and validate configuration

package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var readyFlag bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check gateway health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		path := "/health"
		if readyFlag {
			path = "/health/ready"
		}
		url := "http://" + localAddr(cfg.Server.HTTPAddr) + path

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		if readyFlag {
			fmt.Println(strings.TrimSpace(string(body)))
			return nil
		}
		fmt.Println("healthy")
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration without starting the server",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, source, err := loadConfig()
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen)
		yellow := color.New(color.FgYellow)

		green.Printf("  ✓ Config valid: %s\n", source)
		fmt.Printf("    backend:   %s (%s)\n", cfg.Backend.Kind, cfg.Backend.Endpoint)
		fmt.Printf("    agent:     %s\n", cfg.Backend.AgentID)
		fmt.Printf("    api key:   %t\n", cfg.Backend.APIKey != "")
		fmt.Printf("    sign-in:   %t\n", cfg.OAuth.Enabled())
		fmt.Printf("    speech:    %t\n", cfg.Speech.Key != "")
		fmt.Printf("    run:       poll %s, timeout %s\n", cfg.Run.PollInterval, cfg.Run.Timeout)
		if cfg.Database.Path == "" {
			yellow.Println("  ! No database.path: failed turns cannot be retried")
		}
		if cfg.OAuth.Enabled() && cfg.OAuth.RedirectURL == "" {
			yellow.Println("  ! oauth has no redirect_url or server.public_url: browser sign-in disabled")
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().BoolVar(&readyFlag, "ready", false, "query the readiness endpoint and print its report")
}

// localAddr turns a wildcard listen address into one a local client can dial.
func localAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
