// ABOUTME: HTTP handler issuing short-lived speech tokens with the voice for the requested language
// ABOUTME: The subscription key never leaves the server

package gateway

import (
	"net/http"
	"time"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/speech"
)

// SpeechTokenResponse is the JSON response for GET /api/speech-token.
type SpeechTokenResponse struct {
	Token     string `json:"token"`
	Region    string `json:"region"`
	Locale    string `json:"locale"`
	Voice     string `json:"voice"`
	ExpiresAt string `json:"expiresAt"`
}

// handleSpeechToken handles GET /api/speech-token?language=en|ne.
func (g *Gateway) handleSpeechToken(w http.ResponseWriter, r *http.Request) {
	lang, err := speech.ParseLanguage(r.URL.Query().Get("language"))
	if err != nil {
		g.writeError(w, r, err, "", "")
		return
	}

	tok, err := g.speech.Token(r.Context())
	if err != nil {
		g.writeError(w, r, err, "", "")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, SpeechTokenResponse{
		Token:     tok.Value,
		Region:    tok.Region,
		Locale:    lang.Locale(),
		Voice:     lang.Voice(),
		ExpiresAt: tok.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
