// ABOUTME: HTTP handlers for browser sign-in: capability check, login redirect, callback and code exchange
// ABOUTME: The callback page hands the token to the opener window and closes itself

package gateway

import (
	"html/template"
	"net/http"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/auth"
)

var callbackTemplate = template.Must(template.ParseFS(templateFS, "templates/callback.html"))

// AuthCheckResponse is the JSON response for GET /api/auth/check.
type AuthCheckResponse struct {
	RequiresOAuth bool `json:"requiresOAuth"`
	HasAPIKey     bool `json:"hasApiKey"`
	OAuthEnabled  bool `json:"oauthEnabled"`
}

// TokenExchangeRequest is the JSON request body for POST /api/auth/token.
type TokenExchangeRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// callbackError is the JSON body for provider-reported callback failures.
type callbackError struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

type callbackData struct {
	Error string
	Token auth.TokenResponse
}

// handleAuthCheck handles GET /api/auth/check.
func (g *Gateway) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AuthCheckResponse{
		RequiresOAuth: g.resolver.RequiresOAuth(),
		HasAPIKey:     g.resolver.HasAPIKey(),
		OAuthEnabled:  g.oauth != nil,
	})
}

// handleLogin handles GET /api/auth/login by redirecting to the identity provider.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if g.oauth == nil {
		sendJSONError(w, http.StatusNotFound, "oauth is not configured")
		return
	}
	u, err := g.oauth.AuthURL()
	if err != nil {
		g.writeError(w, r, err, "", "")
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// handleCallback handles GET /auth/callback, the provider's redirect target.
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = "Authentication failed"
		}
		g.logger.Warn("identity provider reported sign-in failure", "error", e, "description", desc)
		writeJSON(w, http.StatusBadRequest, callbackError{Error: e, Description: desc})
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, callbackError{
			Error:       "missing_parameters",
			Description: "Authorization code or state is missing",
		})
		return
	}
	if g.oauth == nil {
		sendJSONError(w, http.StatusNotFound, "oauth is not configured")
		return
	}

	data := callbackData{}
	status := http.StatusOK
	tok, err := g.oauth.Exchange(r.Context(), code, state)
	if err != nil {
		status = apperr.HTTPStatus(err)
		data.Error = apperr.Describe(err)
		g.logger.Warn("sign-in callback failed", "error", err)
	} else {
		data.Token = tok
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := callbackTemplate.Execute(w, data); err != nil {
		g.logger.Error("failed to render callback page", "error", err)
	}
}

// handleTokenExchange handles POST /api/auth/token for clients that run the
// redirect themselves.
func (g *Gateway) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	if g.oauth == nil {
		sendJSONError(w, http.StatusNotFound, "oauth is not configured")
		return
	}

	var req TokenExchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err, "", "")
		return
	}
	if req.Code == "" || req.State == "" {
		g.writeError(w, r, apperr.Validation("Missing code or state"), "", "")
		return
	}

	tok, err := g.oauth.Exchange(r.Context(), req.Code, req.State)
	if err != nil {
		g.writeError(w, r, err, "", "")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tok)
}
