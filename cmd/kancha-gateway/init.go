// ABOUTME: init command: interactively writes a starter gateway.yaml
// ABOUTME: Secrets are written as ${VAR} references so they stay out of the file

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new config file interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runInit(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
	},
}

// initAnswers are the values collected by the init prompts.
type initAnswers struct {
	HTTPAddr    string
	PublicURL   string
	BackendKind string
	Endpoint    string
	AgentID     string
	UseAPIKey   bool
	TenantID    string
	ClientID    string
	SpeechOn    bool
	DBPath      string
	Tailscale   bool
	TSHostname  string
	LogLevel    string
	LogFormat   string
}

func defaultDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "kancha")
}

func runInit(reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "kancha-gateway configuration setup")
	fmt.Fprintln(out, "==================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", config.ResolvePath(configFlag))
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Server ---")
	a.HTTPAddr = prompt(reader, out, "HTTP address", "0.0.0.0:8080")
	a.PublicURL = prompt(reader, out, "Public URL (for sign-in redirects, empty to skip)", "")

	fmt.Fprintln(out, "\n--- Agent Service ---")
	a.BackendKind = prompt(reader, out, "Backend kind (agents/assistants)", "agents")
	a.Endpoint = prompt(reader, out, "Project endpoint", "${AZURE_AI_PROJECT_URL}")
	a.AgentID = prompt(reader, out, "Agent id", "${AZURE_AI_AGENT_ID}")
	a.UseAPIKey = yes(prompt(reader, out, "Authenticate with an api key ($AZURE_AI_API_KEY)?", "yes"))

	fmt.Fprintln(out, "\n--- Sign-in ---")
	if yes(prompt(reader, out, "Enable browser sign-in?", "no")) {
		a.TenantID = prompt(reader, out, "Tenant id", "${AZURE_TENANT_ID}")
		a.ClientID = prompt(reader, out, "Client id", "${AZURE_CLIENT_ID}")
	}

	fmt.Fprintln(out, "\n--- Speech ---")
	a.SpeechOn = yes(prompt(reader, out, "Enable speech tokens ($SPEECH_KEY, $SPEECH_REGION)?", "no"))

	fmt.Fprintln(out, "\n--- Turn Ledger ---")
	a.DBPath = prompt(reader, out, "SQLite database path (empty to disable)", filepath.Join(defaultDataPath(), "gateway.db"))

	fmt.Fprintln(out, "\n--- Tailscale ---")
	a.Tailscale = yes(prompt(reader, out, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TSHostname = prompt(reader, out, "Tailscale hostname", "kancha")
	}

	fmt.Fprintln(out, "\n--- Logging ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if a.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(a.DBPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintf(out, "  kancha-gateway serve --config %s\n", outputFile)
	return nil
}

func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# kancha-gateway configuration\n")
	b.WriteString("# Generated by kancha-gateway init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", a.HTTPAddr)
	if a.PublicURL != "" {
		fmt.Fprintf(&b, "  public_url: %q\n", a.PublicURL)
	}
	b.WriteString("\n")

	b.WriteString("backend:\n")
	fmt.Fprintf(&b, "  kind: %q\n", a.BackendKind)
	fmt.Fprintf(&b, "  endpoint: %q\n", a.Endpoint)
	fmt.Fprintf(&b, "  agent_id: %q\n", a.AgentID)
	if a.UseAPIKey {
		b.WriteString("  api_key: \"${AZURE_AI_API_KEY}\"\n")
	}
	b.WriteString("\n")

	b.WriteString("run:\n")
	b.WriteString("  poll_interval: \"1s\"\n")
	b.WriteString("  timeout: \"90s\"\n")
	b.WriteString("\n")

	if a.TenantID != "" || a.ClientID != "" {
		b.WriteString("oauth:\n")
		fmt.Fprintf(&b, "  tenant_id: %q\n", a.TenantID)
		fmt.Fprintf(&b, "  client_id: %q\n", a.ClientID)
		b.WriteString("\n")
	}

	if a.SpeechOn {
		b.WriteString("speech:\n")
		b.WriteString("  key: \"${SPEECH_KEY}\"\n")
		b.WriteString("  region: \"${SPEECH_REGION}\"\n")
		b.WriteString("\n")
	}

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  path: %q\n", a.DBPath)
	b.WriteString("\n")

	b.WriteString("tailscale:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", a.Tailscale)
	if a.Tailscale {
		fmt.Fprintf(&b, "  hostname: %q\n", a.TSHostname)
	}
	b.WriteString("\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", a.LogFormat)
	return b.String()
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	if input == "" {
		return defaultVal
	}
	return input
}
