// ABOUTME: Authorization-code sign-in with PKCE against Microsoft Entra ID
// ABOUTME: States are single use and kept in a TTL cache alongside their verifiers

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/dedupe"
)

// DefaultScopes request a token for the agent service plus the user's profile.
var DefaultScopes = []string{"https://ai.azure.com/.default", "openid", "profile", "email"}

const (
	// DefaultStateTTL bounds how long a sign-in may take.
	DefaultStateTTL = 10 * time.Minute
	maxPendingLogins = 10000
)

// Config describes the identity provider application.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	StateTTL     time.Duration

	// Endpoint overrides the tenant's Entra ID endpoints.
	Endpoint *oauth2.Endpoint
	// HTTPClient is used for token requests when set.
	HTTPClient *http.Client
}

// Enabled reports whether enough is configured to run the sign-in flow.
func (c Config) Enabled() bool {
	return c.TenantID != "" && c.ClientID != ""
}

func (c Config) endpoint() oauth2.Endpoint {
	if c.Endpoint != nil {
		return *c.Endpoint
	}
	ep := microsoft.AzureADEndpoint(c.TenantID)
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}

// TokenResponse is what the browser receives after a successful exchange.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
	TokenType   string `json:"tokenType"`
}

// Flow runs the authorization-code flow.
type Flow struct {
	oauth  oauth2.Config
	client *http.Client
	states *dedupe.Cache
	logger *slog.Logger
}

// NewFlow validates cfg and creates a Flow. Close releases its state cache.
func NewFlow(cfg Config, logger *slog.Logger) (*Flow, error) {
	if !cfg.Enabled() {
		return nil, apperr.Configuration("oauth needs tenant_id and client_id")
	}
	if cfg.RedirectURL == "" {
		return nil, apperr.Configuration("oauth needs redirect_url")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Flow{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		client: cfg.HTTPClient,
		states: dedupe.New(cfg.StateTTL, maxPendingLogins),
		logger: logger.With("component", "oauth"),
	}, nil
}

// AuthURL starts a sign-in and returns the provider URL to redirect the browser to.
func (f *Flow) AuthURL() (string, error) {
	state, err := newState()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()
	f.states.Put(state, verifier)

	return f.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// Exchange trades the authorization code for an access token. state must be
// one issued by AuthURL and not yet used.
func (f *Flow) Exchange(ctx context.Context, code, state string) (TokenResponse, error) {
	if code == "" || state == "" {
		return TokenResponse{}, apperr.Validation("code and state are required")
	}
	verifier, ok := f.states.Take(state)
	if !ok {
		f.logger.Warn("rejected unknown sign-in state")
		return TokenResponse{}, apperr.Validation("sign-in state is unknown or expired")
	}

	if f.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client)
	}
	tok, err := f.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		f.logger.Error("token exchange failed", "error", err)
		return TokenResponse{}, apperr.Wrap(apperr.KindInvalidCredential, "exchange code", identityError(err))
	}

	resp := TokenResponse{
		AccessToken: tok.AccessToken,
		ExpiresIn:   tok.ExpiresIn,
		TokenType:   tok.Type(),
	}
	if resp.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	f.logger.Info("sign-in completed", "expires_in", resp.ExpiresIn)
	return resp, nil
}

// Pending returns the number of sign-ins awaiting their callback.
func (f *Flow) Pending() int {
	return f.states.Len()
}

// Close stops the state cache.
func (f *Flow) Close() {
	f.states.Close()
}

func newState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// identityError converts a token endpoint failure into a RemoteError.
func identityError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return &apperr.RemoteError{Kind: apperr.RemoteTransport, Message: err.Error(), Backend: "identity"}
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	msg := re.ErrorDescription
	if msg == "" {
		msg = string(re.Body)
	}
	kind := apperr.RemoteKindForStatus(status)
	if re.ErrorCode == "invalid_grant" {
		kind = apperr.RemoteAuth
	}
	return &apperr.RemoteError{
		Kind:    kind,
		Status:  status,
		Code:    re.ErrorCode,
		Message: msg,
		Backend: "identity",
	}
}
