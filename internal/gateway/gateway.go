// ABOUTME: Gateway orchestrator that wires the chat client, auth and speech into one HTTP server
// ABOUTME: Manages listener setup (TCP or tailnet), health endpoints and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/auth"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/backend"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/chat"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/config"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/credential"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/dedupe"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/runner"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/speech"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/store"
)

// Gateway serves the chat, sign-in and speech token endpoints.
type Gateway struct {
	config      *config.Config
	chat        *chat.Client
	ledger      store.TurnStore // nil when database.path is empty
	resolver    *credential.Resolver
	oauth       *auth.Flow // nil when sign-in is not configured
	speech      *speech.TokenIssuer
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// requests holds recently seen client request ids
	requests *dedupe.Cache

	startedAt time.Time
}

// components are the collaborators New derives from configuration.
type components struct {
	chat     *chat.Client
	ledger   store.TurnStore
	resolver *credential.Resolver
	oauth    *auth.Flow
	speech   *speech.TokenIssuer
}

// initLedger opens the turn ledger, or returns nil when none is configured.
func initLedger(cfg *config.Config) (store.TurnStore, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// oauthConfig maps the oauth section. Without explicit scopes, users sign in
// for the scope the backend accepts.
func oauthConfig(cfg *config.Config) auth.Config {
	scopes := cfg.OAuth.Scopes
	if len(scopes) == 0 && cfg.Backend.Scope != "" {
		scopes = []string{cfg.Backend.Scope, "openid", "profile", "email"}
	}
	return auth.Config{
		TenantID:     cfg.OAuth.TenantID,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURL,
		Scopes:       scopes,
	}
}

// initOAuth creates the sign-in flow when the application registration is complete.
func initOAuth(cfg *config.Config, logger *slog.Logger) (*auth.Flow, error) {
	if !cfg.OAuth.Enabled() {
		return nil, nil
	}
	if cfg.OAuth.RedirectURL == "" {
		logger.Warn("oauth configured without redirect_url or server.public_url - browser sign-in disabled")
		return nil, nil
	}
	flow, err := auth.NewFlow(oauthConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("creating oauth flow: %w", err)
	}
	return flow, nil
}

// initResolver builds the credential resolver, adding the service identity when enabled.
func initResolver(cfg *config.Config, logger *slog.Logger) (*credential.Resolver, error) {
	if !cfg.OAuth.ServiceIdentity {
		return credential.NewResolver(cfg.Backend.APIKey, nil, "", logger), nil
	}
	src, err := auth.ServiceTokenSource(context.Background(), oauthConfig(cfg), cfg.Backend.Scope)
	if err != nil {
		return nil, fmt.Errorf("creating service identity: %w", err)
	}
	logger.Info("service identity enabled", "client_id", cfg.OAuth.ClientID)
	return credential.NewResolver(cfg.Backend.APIKey, src, "client:"+cfg.OAuth.ClientID, logger), nil
}

func buildComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	factory, err := backend.NewFactory(backend.Options{
		Kind:        backend.Kind(cfg.Backend.Kind),
		Endpoint:    cfg.Backend.Endpoint,
		APIVersion:  cfg.Backend.APIVersion,
		HTTPClient:  &http.Client{Timeout: cfg.Backend.RequestTimeout},
		ReadRetries: cfg.Backend.ReadRetries,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating backend: %w", err)
	}

	ledger, err := initLedger(cfg)
	if err != nil {
		return nil, err
	}

	chatClient, err := chat.NewClient(chat.Config{
		Backends: factory,
		Ledger:   ledger,
		Run: runner.Config{
			AgentID:      cfg.Backend.AgentID,
			PollInterval: cfg.Run.PollInterval,
			Timeout:      cfg.Run.Timeout,
		},
		ThreadCreateTimeout: cfg.Run.ThreadCreateTimeout,
		Logger:              logger,
	})
	if err != nil {
		closeLedger(ledger)
		return nil, fmt.Errorf("creating chat client: %w", err)
	}

	resolver, err := initResolver(cfg, logger)
	if err != nil {
		closeLedger(ledger)
		return nil, err
	}

	flow, err := initOAuth(cfg, logger)
	if err != nil {
		closeLedger(ledger)
		return nil, err
	}

	return &components{
		chat:     chatClient,
		ledger:   ledger,
		resolver: resolver,
		oauth:    flow,
		speech:   speech.NewTokenIssuer(cfg.Speech.Key, cfg.Speech.Region, speech.WithLogger(logger)),
	}, nil
}

func closeLedger(ledger store.TurnStore) {
	if ledger != nil {
		_ = ledger.Close()
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	c, err := buildComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, c, logger), nil
}

func assemble(cfg *config.Config, c *components, logger *slog.Logger) *Gateway {
	gw := &Gateway{
		config:    cfg,
		chat:      c.chat,
		ledger:    c.ledger,
		resolver:  c.resolver,
		oauth:     c.oauth,
		speech:    c.speech,
		logger:    logger.With("component", "gateway"),
		requests:  dedupe.New(5*time.Minute, 100_000), // TTL 5min, max 100k entries
		startedAt: time.Now(),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.logger.Info("gateway configured",
		"backend", cfg.Backend.Kind,
		"ledger", c.ledger != nil,
		"oauth", c.oauth != nil,
		"speech", c.speech.Configured(),
	)
	return gw
}

// routes registers every HTTP endpoint.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// Conversation
	mux.HandleFunc("POST /chat", g.handleSendTurn)
	mux.HandleFunc("GET /chat", g.handleHistory)
	mux.HandleFunc("GET /api/threads/{id}/turns", g.handleThreadTurns)

	// Sign-in
	mux.HandleFunc("GET /api/auth/check", g.handleAuthCheck)
	mux.HandleFunc("GET /api/auth/login", g.handleLogin)
	mux.HandleFunc("GET /auth/callback", g.handleCallback)
	mux.HandleFunc("POST /api/auth/token", g.handleTokenExchange)

	// Speech
	mux.HandleFunc("GET /api/speech-token", g.handleSpeechToken)

	return mux
}

// Handler exposes the HTTP routes, mainly for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates the standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" && g.config.Server.HTTPAddr != config.DefaultHTTPAddr {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer serves HTTP in a goroutine, returning the error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		g.closeComponents()
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// In-flight turns get the run timeout to finish.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Run.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "kancha-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
	if g.oauth != nil && g.config.Server.PublicURL == "" {
		g.logger.Warn("server.public_url not set - sign-in redirects may not reach this node", "dns_name", dnsName)
	}
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases caches and the ledger.
func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.requests != nil {
		g.requests.Close()
	}
	if g.oauth != nil {
		g.oauth.Close()
	}
	if g.ledger != nil {
		errs = appendCloseError(errs, "store close", g.ledger.Close())
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = append(errs, g.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type readyResponse struct {
	Ready   bool   `json:"ready"`
	Reason  string `json:"reason,omitempty"`
	Backend string `json:"backend"`
	Ledger  bool   `json:"ledger"`
	OAuth   bool   `json:"oauth"`
	Speech  bool   `json:"speech"`
	Uptime  string `json:"uptime"`
}

// handleReady returns 200 when some credential source can serve a turn.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{
		Ready:   true,
		Backend: g.config.Backend.Kind,
		Ledger:  g.ledger != nil,
		OAuth:   g.oauth != nil,
		Speech:  g.speech.Configured(),
		Uptime:  time.Since(g.startedAt).Truncate(time.Second).String(),
	}
	status := http.StatusOK
	if g.resolver.RequiresOAuth() && g.oauth == nil {
		resp.Ready = false
		resp.Reason = "no credential source: configure backend.api_key or oauth"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
