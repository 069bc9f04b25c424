// ABOUTME: Extracts caller-supplied bearer tokens from Authorization headers
// ABOUTME: A present but malformed header is an error, an absent header is not

package auth

import (
	"net/http"
	"strings"
)

// BearerToken returns the token carried by r's Authorization header. ok is
// false when the header is absent. A header that is present but not a
// non-empty Bearer credential yields an error message.
func BearerToken(r *http.Request) (token string, ok bool, errMsg string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false, ""
	}
	token, errMsg = extractBearerToken(header)
	if errMsg != "" {
		return "", true, errMsg
	}
	return token, true, ""
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	scheme, rest, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(rest)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
