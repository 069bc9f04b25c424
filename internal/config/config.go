// ABOUTME: Configuration loading and parsing for kancha-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
)

// Config represents the complete kancha-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Backend   BackendConfig   `yaml:"backend" toml:"backend"`
	Run       RunConfig       `yaml:"run" toml:"run"`
	OAuth     OAuthConfig     `yaml:"oauth" toml:"oauth"`
	Speech    SpeechConfig    `yaml:"speech" toml:"speech"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// PublicURL is the externally reachable base URL, used to build the OAuth redirect
	PublicURL string `yaml:"public_url" toml:"public_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve with the tailnet certificate
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// BackendConfig describes the remote agent service
type BackendConfig struct {
	Kind        string `yaml:"kind" toml:"kind"` // agents or assistants
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	AgentID     string `yaml:"agent_id" toml:"agent_id"`
	APIKey      string `yaml:"api_key" toml:"api_key"`
	APIVersion  string `yaml:"api_version" toml:"api_version"`
	Scope       string `yaml:"scope" toml:"scope"`
	ReadRetries uint64 `yaml:"read_retries" toml:"read_retries"`

	RequestTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
}

// RunConfig holds run polling configuration
type RunConfig struct {
	PollInterval        time.Duration `yaml:"-" toml:"-"`
	Timeout             time.Duration `yaml:"-" toml:"-"`
	ThreadCreateTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	PollIntervalRaw        string `yaml:"poll_interval" toml:"poll_interval"`
	TimeoutRaw             string `yaml:"timeout" toml:"timeout"`
	ThreadCreateTimeoutRaw string `yaml:"thread_create_timeout" toml:"thread_create_timeout"`
}

// OAuthConfig holds the identity provider application registration
type OAuthConfig struct {
	TenantID     string   `yaml:"tenant_id" toml:"tenant_id"`
	ClientID     string   `yaml:"client_id" toml:"client_id"`
	ClientSecret string   `yaml:"client_secret" toml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url" toml:"redirect_url"`
	Scopes       []string `yaml:"scopes" toml:"scopes"`
	// ServiceIdentity lets the gateway call the backend as itself when a
	// request carries no token and no api key is configured.
	ServiceIdentity bool `yaml:"service_identity" toml:"service_identity"`
}

// Enabled reports whether browser sign-in is configured.
func (o OAuthConfig) Enabled() bool {
	return o.TenantID != "" && o.ClientID != ""
}

// SpeechConfig holds the speech service subscription
type SpeechConfig struct {
	Key    string `yaml:"key" toml:"key"`
	Region string `yaml:"region" toml:"region"`
}

// DatabaseConfig holds database configuration. An empty path disables the turn ledger.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults
const (
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultBackendKind         = "agents"
	DefaultReadRetries         = 3
	DefaultRequestTimeout      = 60 * time.Second
	DefaultPollInterval        = time.Second
	DefaultRunTimeout          = 90 * time.Second
	DefaultThreadCreateTimeout = 30 * time.Second

	// Token scopes accepted by each backend kind.
	DefaultAgentsScope     = "https://ai.azure.com/.default"
	DefaultAssistantsScope = "https://cognitiveservices.azure.com/.default"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(&cfg)
}

// FromEnv builds a Config from the environment variables the hosted
// deployment sets, for running without a config file.
func FromEnv() (*Config, error) {
	cfg := Config{
		Backend: BackendConfig{
			Kind:     os.Getenv("KANCHA_BACKEND_KIND"),
			Endpoint: os.Getenv("AZURE_AI_PROJECT_URL"),
			AgentID:  os.Getenv("AZURE_AI_AGENT_ID"),
			APIKey:   os.Getenv("AZURE_AI_API_KEY"),
		},
		OAuth: OAuthConfig{
			TenantID:     os.Getenv("AZURE_TENANT_ID"),
			ClientID:     os.Getenv("AZURE_CLIENT_ID"),
			ClientSecret: os.Getenv("AZURE_CLIENT_SECRET"),
		},
		Speech: SpeechConfig{
			Key:    os.Getenv("SPEECH_KEY"),
			Region: os.Getenv("SPEECH_REGION"),
		},
		Server: ServerConfig{
			HTTPAddr:  os.Getenv("KANCHA_HTTP_ADDR"),
			PublicURL: os.Getenv("KANCHA_PUBLIC_URL"),
		},
		Database: DatabaseConfig{Path: os.Getenv("KANCHA_DB_PATH")},
		Logging:  LoggingConfig{Level: os.Getenv("KANCHA_LOG_LEVEL")},
	}
	return finish(&cfg)
}

// ResolvePath picks the config file location.
// Priority: explicit flag > KANCHA_CONFIG env var > XDG_CONFIG_HOME/kancha/gateway.yaml > ~/.config/kancha/gateway.yaml
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv("KANCHA_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "kancha", "gateway.yaml")
}

func finish(cfg *Config) (*Config, error) {
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarRe.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = DefaultBackendKind
	}
	c.Backend.Endpoint = strings.TrimRight(c.Backend.Endpoint, "/")
	if c.Backend.Scope == "" {
		c.Backend.Scope = DefaultAgentsScope
		if c.Backend.Kind == "assistants" {
			c.Backend.Scope = DefaultAssistantsScope
		}
	}
	if c.Backend.ReadRetries == 0 {
		c.Backend.ReadRetries = DefaultReadRetries
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = DefaultRequestTimeout
	}
	if c.Run.PollInterval == 0 {
		c.Run.PollInterval = DefaultPollInterval
	}
	if c.Run.Timeout == 0 {
		c.Run.Timeout = DefaultRunTimeout
	}
	if c.Run.ThreadCreateTimeout == 0 {
		c.Run.ThreadCreateTimeout = DefaultThreadCreateTimeout
	}
	if c.OAuth.RedirectURL == "" && c.Server.PublicURL != "" {
		c.OAuth.RedirectURL = strings.TrimRight(c.Server.PublicURL, "/") + "/auth/callback"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns a configuration error describing the first failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return apperr.Configuration("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return apperr.Configuration("tailscale.hostname is required when tailscale is enabled")
	}

	if err := c.validateBackend(); err != nil {
		return err
	}

	if c.Backend.APIKey == "" && !c.OAuth.Enabled() {
		return apperr.Configuration("either backend.api_key or oauth.tenant_id and oauth.client_id are required")
	}
	if c.OAuth.ServiceIdentity && (!c.OAuth.Enabled() || c.OAuth.ClientSecret == "") {
		return apperr.Configuration("oauth.service_identity requires oauth.client_secret")
	}

	if c.Run.PollInterval <= 0 || c.Run.Timeout <= 0 {
		return apperr.Configuration("run.poll_interval and run.timeout must be positive")
	}
	if c.Run.PollInterval >= c.Run.Timeout {
		return apperr.Configuration(fmt.Sprintf("run.poll_interval (%s) must be shorter than run.timeout (%s)", c.Run.PollInterval, c.Run.Timeout))
	}

	if (c.Speech.Key == "") != (c.Speech.Region == "") {
		return apperr.Configuration("speech.key and speech.region must be set together")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return apperr.Configuration(fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return apperr.Configuration(fmt.Sprintf("logging.format %q is not text or json", c.Logging.Format))
	}

	return nil
}

func (c *Config) validateBackend() error {
	switch c.Backend.Kind {
	case "agents", "assistants":
	default:
		return apperr.Configuration(fmt.Sprintf("backend.kind %q is not agents or assistants", c.Backend.Kind))
	}

	if c.Backend.Endpoint == "" {
		return apperr.Configuration("backend.endpoint is required")
	}
	u, err := url.Parse(c.Backend.Endpoint)
	if err != nil {
		return apperr.Configuration(fmt.Sprintf("backend.endpoint is not a valid URL: %v", err))
	}
	if u.Scheme != "https" || u.Host == "" {
		return apperr.Configuration("backend.endpoint must be an https URL")
	}

	if c.Backend.AgentID == "" {
		return apperr.Configuration("backend.agent_id is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.request_timeout", cfg.Backend.RequestTimeoutRaw, &cfg.Backend.RequestTimeout},
		{"run.poll_interval", cfg.Run.PollIntervalRaw, &cfg.Run.PollInterval},
		{"run.timeout", cfg.Run.TimeoutRaw, &cfg.Run.Timeout},
		{"run.thread_create_timeout", cfg.Run.ThreadCreateTimeoutRaw, &cfg.Run.ThreadCreateTimeout},
	}

	var errs []error
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err))
			continue
		}
		*f.dst = d
	}
	return errors.Join(errs...)
}
