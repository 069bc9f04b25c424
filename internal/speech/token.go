// ABOUTME: Issues short-lived speech service tokens so browsers never see the subscription key
// ABOUTME: Tokens are cached for slightly less than their ten-minute lifetime

package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
)

// tokenTTL is how long an issued token is reused. The service grants ten minutes.
const tokenTTL = 9 * time.Minute

// Token is an issued authorization token for the speech SDK.
type Token struct {
	Value     string
	Region    string
	ExpiresAt time.Time
}

// TokenIssuer exchanges the subscription key for authorization tokens.
type TokenIssuer struct {
	key     string
	region  string
	http    *http.Client
	baseURL string
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cached Token
}

// IssuerOption configures a TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithBaseURL overrides https://{region}.api.cognitive.microsoft.com.
func WithBaseURL(u string) IssuerOption {
	return func(t *TokenIssuer) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(c *http.Client) IssuerOption {
	return func(t *TokenIssuer) { t.http = c }
}

// WithLogger sets the issuer logger.
func WithLogger(l *slog.Logger) IssuerOption {
	return func(t *TokenIssuer) { t.logger = l }
}

// NewTokenIssuer creates an issuer. An issuer without key or region reports
// Configured() == false and every Token call fails.
func NewTokenIssuer(key, region string, opts ...IssuerOption) *TokenIssuer {
	t := &TokenIssuer{
		key:    strings.TrimSpace(key),
		region: strings.TrimSpace(region),
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.baseURL == "" && t.region != "" {
		t.baseURL = fmt.Sprintf("https://%s.api.cognitive.microsoft.com", t.region)
	}
	t.logger = t.logger.With("component", "speech")
	return t
}

// Configured reports whether both key and region are set.
func (t *TokenIssuer) Configured() bool {
	return t.key != "" && t.region != ""
}

// Region returns the configured service region.
func (t *TokenIssuer) Region() string { return t.region }

// Token returns a cached token or issues a new one.
func (t *TokenIssuer) Token(ctx context.Context) (Token, error) {
	if !t.Configured() {
		return Token{}, apperr.Configuration("speech service not configured")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cached.Value != "" && t.now().Before(t.cached.ExpiresAt) {
		return t.cached, nil
	}

	value, err := t.issue(ctx)
	if err != nil {
		return Token{}, err
	}
	t.cached = Token{Value: value, Region: t.region, ExpiresAt: t.now().Add(tokenTTL)}
	t.logger.Debug("issued speech token", "region", t.region)
	return t.cached, nil
}

func (t *TokenIssuer) issue(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sts/v1.0/issueToken", nil)
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", t.key)

	resp, err := t.http.Do(req)
	if err != nil {
		return "", &apperr.RemoteError{Kind: apperr.RemoteTransport, Message: err.Error(), Backend: "speech"}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		return "", &apperr.RemoteError{Kind: apperr.RemoteTransport, Message: err.Error(), Backend: "speech"}
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &apperr.RemoteError{
			Kind:    apperr.RemoteKindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: msg,
			Backend: "speech",
		}
	}
	return strings.TrimSpace(string(body)), nil
}
