// Package config handles configuration loading for kancha-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion, or entirely from the environment when no file exists. Missing
// optional values get defaults and the result is validated before use.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from KANCHA_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/kancha/gateway.yaml
//  4. ~/.config/kancha/gateway.yaml
//
// Files ending in .toml are parsed as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	backend:
//	  api_key: "${AZURE_AI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  public_url: "https://kancha.example.com"   # builds oauth.redirect_url
//
//	backend:
//	  kind: "agents"                             # agents or assistants
//	  endpoint: "https://<resource>.services.ai.azure.com/api/projects/<project>"
//	  agent_id: "asst_..."
//	  api_key: "${AZURE_AI_API_KEY}"             # optional with oauth
//	  read_retries: 3
//	  request_timeout: "60s"
//
//	run:
//	  poll_interval: "1s"
//	  timeout: "90s"
//	  thread_create_timeout: "30s"
//
//	oauth:
//	  tenant_id: "${AZURE_TENANT_ID}"
//	  client_id: "${AZURE_CLIENT_ID}"
//	  client_secret: "${AZURE_CLIENT_SECRET}"
//	  service_identity: false
//
//	speech:
//	  key: "${SPEECH_KEY}"
//	  region: "eastus"
//
//	database:
//	  path: "/var/lib/kancha/turns.db"           # empty disables the turn ledger
//
//	tailscale:
//	  enabled: false
//	  hostname: "kancha"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Validate returns an apperr configuration error when the backend endpoint is
// missing or not https, the agent id is missing, neither an api key nor an
// OAuth application is configured, or the run timing is inconsistent.
package config
