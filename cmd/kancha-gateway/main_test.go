package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/config"
)

func init() {
	color.NoColor = true
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("req").Info("turn sent", "thread_id", "thread_1")
	logger.Error("boom", "error", "bad")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF turn sent component=gateway req.thread_id=thread_1")
	assert.Contains(t, out, "ERR boom error=bad")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("polling", "run_id", "run_1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "polling", entry["msg"])
	assert.Equal(t, "run_1", entry["run_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", localAddr("0.0.0.0:8080"))
	assert.Equal(t, "127.0.0.1:9000", localAddr(":9000"))
	assert.Equal(t, "10.0.0.5:8080", localAddr("10.0.0.5:8080"))
	assert.Equal(t, "bogus", localAddr("bogus"))
}

func TestRenderConfigLoads(t *testing.T) {
	t.Setenv("AZURE_AI_PROJECT_URL", "https://kancha.services.ai.azure.com/api/projects/p")
	t.Setenv("AZURE_AI_AGENT_ID", "asst_1")
	t.Setenv("AZURE_AI_API_KEY", "secret")
	t.Setenv("SPEECH_KEY", "speech")
	t.Setenv("SPEECH_REGION", "eastus")

	body := renderConfig(initAnswers{
		HTTPAddr:    "0.0.0.0:8080",
		PublicURL:   "https://kancha.example.com",
		BackendKind: "agents",
		Endpoint:    "${AZURE_AI_PROJECT_URL}",
		AgentID:     "${AZURE_AI_AGENT_ID}",
		UseAPIKey:   true,
		TenantID:    "tenant",
		ClientID:    "client",
		SpeechOn:    true,
		DBPath:      filepath.Join(t.TempDir(), "gateway.db"),
		LogLevel:    "info",
		LogFormat:   "text",
	})
	assert.NotContains(t, body, "secret", "secrets stay as references")

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Backend.APIKey)
	assert.Equal(t, "asst_1", cfg.Backend.AgentID)
	assert.Equal(t, "https://kancha.example.com/auth/callback", cfg.OAuth.RedirectURL)
	assert.Equal(t, "eastus", cfg.Speech.Region)
}

func TestRunInitDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	configFlag = filepath.Join(dir, "kancha", "gateway.yaml")
	t.Cleanup(func() { configFlag = "" })

	var out bytes.Buffer
	require.NoError(t, runInit(bufio.NewReader(strings.NewReader("")), &out))

	data, err := os.ReadFile(configFlag)
	require.NoError(t, err)
	assert.Contains(t, string(data), `kind: "agents"`)
	assert.Contains(t, string(data), `api_key: "${AZURE_AI_API_KEY}"`)
	assert.Contains(t, out.String(), "Config written to")
	assert.DirExists(t, filepath.Join(dir, "kancha"))
}

func TestLoadConfigFallsBackToEnvironment(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("KANCHA_CONFIG", "")
	t.Setenv("AZURE_AI_PROJECT_URL", "https://kancha.services.ai.azure.com/api/projects/p")
	t.Setenv("AZURE_AI_AGENT_ID", "asst_1")
	t.Setenv("AZURE_AI_API_KEY", "secret")

	cfg, source, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "environment", source)
	assert.Equal(t, "asst_1", cfg.Backend.AgentID)
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	configFlag = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { configFlag = "" })

	_, _, err := loadConfig()
	assert.Error(t, err)
}
