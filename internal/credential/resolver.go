// ABOUTME: Picks the credential for a request: caller token, configured key, then ambient source
// ABOUTME: Fails at construction so bad input never reaches the network

package credential

import (
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
)

// Resolver chooses a Credential by precedence.
type Resolver struct {
	apiKey  string
	ambient *Ambient
	logger  *slog.Logger
	now     func() time.Time
}

// NewResolver creates a resolver. apiKey may be empty and ambient may be nil;
// with neither, only requests carrying their own token can be served.
func NewResolver(apiKey string, ambient oauth2.TokenSource, ambientLabel string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		apiKey: strings.TrimSpace(apiKey),
		logger: logger.With("component", "credential"),
		now:    time.Now,
	}
	if ambient != nil {
		r.ambient = NewAmbient(ambient, ambientLabel)
	}
	return r
}

// HasAPIKey reports whether a shared key is configured.
func (r *Resolver) HasAPIKey() bool { return r.apiKey != "" }

// HasAmbient reports whether a service identity is configured.
func (r *Resolver) HasAmbient() bool { return r.ambient != nil }

// RequiresOAuth reports whether callers have to sign in to get a credential.
func (r *Resolver) RequiresOAuth() bool { return r.apiKey == "" && r.ambient == nil }

// Resolve returns the credential for one request. A non-nil explicitToken
// always wins, even when it turns out to be invalid.
func (r *Resolver) Resolve(explicitToken *string) (Credential, error) {
	var (
		cred Credential
		err  error
	)
	switch {
	case explicitToken != nil:
		cred, err = NewBearerToken(*explicitToken, r.now)
	case r.apiKey != "":
		cred, err = NewSharedKey(r.apiKey)
	case r.ambient != nil:
		cred = r.ambient
	default:
		err = apperr.Configuration("no credential available: set backend.api_key, configure oauth client credentials, or send an access token")
	}
	if err != nil {
		r.logger.Warn("credential rejected", "error", err)
		return nil, err
	}

	r.logger.Debug("resolved credential", "credential", cred)
	return cred, nil
}
