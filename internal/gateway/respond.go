// ABOUTME: JSON response helpers and the error body every endpoint shares
// ABOUTME: Remote authentication, permission and not-found failures get an actionable hint

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

const (
	hintUnauthorized = " - Check that your access token is valid and has the correct scope"
	hintForbidden    = " - Check that your account has the Contributor role on the Azure AI Project"
	hintNotFound     = " - Verify that AZURE_AI_PROJECT_URL and AZURE_AI_AGENT_ID are correct"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
	ThreadID  string `json:"threadId,omitempty"`
	TurnID    string `json:"turnId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeError classifies err into a status code and error body. threadID and
// turnID are echoed so the client can offer a retry of the same turn.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error, threadID, turnID string) {
	status := apperr.HTTPStatus(err)
	resp := ErrorResponse{
		Error:     apperr.Describe(err) + remoteHint(err, g.config.Backend.Scope),
		Kind:      string(apperr.KindOf(err)),
		Retryable: apperr.Retryable(err),
		ThreadID:  threadID,
		TurnID:    turnID,
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	g.logger.Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"kind", resp.Kind,
		"error", err,
	)

	writeJSON(w, status, resp)
}

// remoteHint suggests the likely fix for agent service failures users can act on.
// scope is the token scope the backend accepts.
func remoteHint(err error, scope string) string {
	var remote *apperr.RemoteError
	if !errors.As(err, &remote) || remote.Backend == "speech" {
		return ""
	}
	switch remote.Kind {
	case apperr.RemoteAuth:
		if scope == "" {
			return hintUnauthorized
		}
		return hintUnauthorized + " (" + scope + ")"
	case apperr.RemotePermission:
		return hintForbidden
	case apperr.RemoteNotFound:
		return hintNotFound
	default:
		return ""
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid JSON body")
	}
	return nil
}
