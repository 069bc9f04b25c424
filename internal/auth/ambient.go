// ABOUTME: Client-credentials token source used as the gateway's own identity
// ABOUTME: Tokens are scoped to the agent service and refreshed by oauth2

package auth

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
)

// DefaultServiceScope is the scope of tokens sent to the agent service.
const DefaultServiceScope = "https://ai.azure.com/.default"

// ServiceTokenSource returns a token source that authenticates as the
// application itself. It requires a client secret.
func ServiceTokenSource(ctx context.Context, cfg Config, scope string) (oauth2.TokenSource, error) {
	if !cfg.Enabled() || cfg.ClientSecret == "" {
		return nil, apperr.Configuration("service identity needs tenant_id, client_id and client_secret")
	}
	if scope == "" {
		scope = DefaultServiceScope
	}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	ep := cfg.endpoint()
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     ep.TokenURL,
		Scopes:       []string{scope},
		AuthStyle:    ep.AuthStyle,
	}
	return cc.TokenSource(ctx), nil
}
