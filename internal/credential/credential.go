// ABOUTME: Credential variants used to authenticate calls to the assistant backend
// ABOUTME: Shared key, caller bearer token, or an ambient token source; secrets never reach logs

package credential

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/oauth2"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
)

// Mode tags the active credential variant for diagnostics.
type Mode string

const (
	ModeAPIKey      Mode = "api_key"
	ModeBearerToken Mode = "bearer_token"
	ModeAmbient     Mode = "ambient"
)

// DefaultBearerLifetime is assumed for bearer tokens that carry no readable exp claim.
const DefaultBearerLifetime = 3600 * time.Second

// Credential authenticates outgoing backend requests. The set of
// implementations is closed: SharedKey, BearerToken and Ambient.
type Credential interface {
	Mode() Mode
	// Apply adds authentication to req. It fails without touching the
	// network when the credential is known to be unusable.
	Apply(ctx context.Context, req *http.Request) error
	slog.LogValuer
	sealed()
}

// SharedKey is a static API key sent in the api-key header.
type SharedKey struct {
	key string
}

// NewSharedKey wraps a configured API key.
func NewSharedKey(key string) (*SharedKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperr.InvalidCredential("api key is empty")
	}
	return &SharedKey{key: key}, nil
}

func (*SharedKey) Mode() Mode { return ModeAPIKey }

func (k *SharedKey) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set("api-key", k.key)
	return nil
}

func (k *SharedKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("mode", string(ModeAPIKey)),
		slog.String("fingerprint", Fingerprint(k.key)),
	)
}

func (*SharedKey) sealed() {}

// BearerToken is a caller-supplied access token with a known expiry.
type BearerToken struct {
	token     string
	expiresAt time.Time
	fromClaim bool
	now       func() time.Time
}

// NewBearerToken validates token and derives its expiry. The exp claim is read
// when the token is a JWT; the signature is not checked because the backend
// does that. Tokens without a readable exp get now+DefaultBearerLifetime.
func NewBearerToken(token string, now func() time.Time) (*BearerToken, error) {
	if now == nil {
		now = time.Now
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.InvalidCredential("access token is empty")
	}

	issued := now()
	b := &BearerToken{token: token, expiresAt: issued.Add(DefaultBearerLifetime), now: now}

	if exp, ok := expiryClaim(token); ok {
		if !exp.After(issued) {
			return nil, apperr.InvalidCredential(fmt.Sprintf("access token expired at %s", exp.UTC().Format(time.RFC3339)))
		}
		b.expiresAt = exp
		b.fromClaim = true
	}
	return b, nil
}

func expiryClaim(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func (*BearerToken) Mode() Mode { return ModeBearerToken }

// ExpiresAt returns when the token stops being usable.
func (b *BearerToken) ExpiresAt() time.Time { return b.expiresAt }

// Expired reports whether the token has lapsed.
func (b *BearerToken) Expired() bool {
	return !b.now().Before(b.expiresAt)
}

func (b *BearerToken) Apply(_ context.Context, req *http.Request) error {
	if b.Expired() {
		return apperr.InvalidCredential("access token has expired, sign in again")
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	return nil
}

func (b *BearerToken) LogValue() slog.Value {
	expirySource := "assumed"
	if b.fromClaim {
		expirySource = "claim"
	}
	return slog.GroupValue(
		slog.String("mode", string(ModeBearerToken)),
		slog.String("fingerprint", Fingerprint(b.token)),
		slog.Time("expires_at", b.expiresAt),
		slog.String("expiry_source", expirySource),
	)
}

func (*BearerToken) sealed() {}

// Ambient draws tokens from a managed source such as an OAuth client-credentials flow.
type Ambient struct {
	source oauth2.TokenSource
	label  string
}

// NewAmbient wraps source. label identifies the source in logs (for example a client id).
func NewAmbient(source oauth2.TokenSource, label string) *Ambient {
	return &Ambient{source: oauth2.ReuseTokenSource(nil, source), label: label}
}

func (*Ambient) Mode() Mode { return ModeAmbient }

func (a *Ambient) Apply(_ context.Context, req *http.Request) error {
	tok, err := a.source.Token()
	if err != nil {
		return &apperr.RemoteError{
			Kind:    apperr.RemoteAuth,
			Message: fmt.Sprintf("acquiring ambient token: %v", err),
			Backend: "identity",
		}
	}
	tok.SetAuthHeader(req)
	return nil
}

func (a *Ambient) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("mode", string(ModeAmbient)),
		slog.String("source", a.label),
	)
}

func (*Ambient) sealed() {}

// Fingerprint returns a short, stable, non-reversible identifier for a secret.
func Fingerprint(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:6])
}
