// ABOUTME: Test doubles for gateway handler tests: a scripted RunBackend and a wired test gateway
// ABOUTME: The identity provider and speech service are httptest servers

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/auth"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/backend"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/chat"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/config"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/credential"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/runner"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/speech"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/store"
)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	mu sync.Mutex

	createErr error
	// failRuns makes the next n runs fail with a rate limit.
	failRuns int

	threads  int
	posts    int
	starts   int
	messages map[string][]backend.Message
	modes    []credential.Mode
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{messages: make(map[string][]backend.Message)}
}

func (f *fakeBackend) forCredential(cred credential.Credential) backend.RunBackend {
	f.mu.Lock()
	f.modes = append(f.modes, cred.Mode())
	f.mu.Unlock()
	return f
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads + f.posts + f.starts
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) CreateThread(context.Context) (backend.ThreadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return backend.ThreadInfo{}, f.createErr
	}
	f.threads++
	return backend.ThreadInfo{ID: fmt.Sprintf("thread_%d", f.threads), CreatedAt: time.Now()}, nil
}

func (f *fakeBackend) add(threadID string, role backend.Role, text string) {
	msgs := f.messages[threadID]
	f.messages[threadID] = append(msgs, backend.Message{
		ID:        fmt.Sprintf("msg_%s_%d", threadID, len(msgs)),
		Role:      role,
		Text:      text,
		HasText:   true,
		CreatedAt: time.Unix(int64(1700000000+len(msgs)), 0),
	})
}

func (f *fakeBackend) PostMessage(_ context.Context, threadID string, role backend.Role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	f.add(threadID, role, content)
	return nil
}

func (f *fakeBackend) StartRun(_ context.Context, threadID, _ string) (backend.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	status := backend.StatusCompleted
	var lastErr *backend.RunError
	if f.failRuns > 0 {
		f.failRuns--
		status = backend.StatusFailed
		lastErr = &backend.RunError{Code: "rate_limit_exceeded", Message: "rate limited"}
	} else {
		f.add(threadID, backend.RoleAssistant, "**Namaste**【4:0†guide.pdf】. Steps: 1. open 2. ask")
	}
	return backend.Run{ID: fmt.Sprintf("run_%d", f.starts), Status: status, LastError: lastErr}, nil
}

func (f *fakeBackend) GetRun(_ context.Context, _, runID string) (backend.Run, error) {
	// StartRun already settled the outcome; report it again.
	f.mu.Lock()
	defer f.mu.Unlock()
	return backend.Run{ID: runID, Status: backend.StatusCompleted}, nil
}

func (f *fakeBackend) ListMessages(_ context.Context, threadID string) (backend.MessageList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]backend.Message(nil), f.messages[threadID]...)
	return backend.MessageList{Messages: out, Order: backend.OrderAscending}, nil
}

type testEnv struct {
	gw       *Gateway
	handler  http.Handler
	backend  *fakeBackend
	ledger   *store.MockStore
	identity *httptest.Server
	speech   *httptest.Server
}

type envOptions struct {
	apiKey      string
	noOAuth     bool
	noSpeech    bool
	noLedger    bool
	runFailures int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := testLogger()
	env := &testEnv{backend: newFakeBackend()}
	env.backend.failRuns = opts.runFailures

	var ledger store.TurnStore
	if !opts.noLedger {
		env.ledger = store.NewMockStore()
		ledger = env.ledger
	}

	chatClient, err := chat.NewClient(chat.Config{
		Backends: env.backend.forCredential,
		Ledger:   ledger,
		Run:      runner.Config{AgentID: "asst_1", PollInterval: time.Millisecond, Timeout: time.Second},
		Logger:   logger,
	})
	require.NoError(t, err)

	c := &components{
		chat:     chatClient,
		ledger:   ledger,
		resolver: credential.NewResolver(opts.apiKey, nil, "", logger),
	}

	if !opts.noOAuth {
		env.identity = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			w.Header().Set("Content-Type", "application/json")
			if r.PostForm.Get("code") == "bad-code" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":             "invalid_grant",
					"error_description": "AADSTS54005: code already redeemed",
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "user-token",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		}))
		t.Cleanup(env.identity.Close)

		c.oauth, err = auth.NewFlow(auth.Config{
			TenantID:    "tenant",
			ClientID:    "client",
			RedirectURL: "http://kancha.test/auth/callback",
			Endpoint: &oauth2.Endpoint{
				AuthURL:   env.identity.URL + "/authorize",
				TokenURL:  env.identity.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			HTTPClient: env.identity.Client(),
		}, logger)
		require.NoError(t, err)
	}

	if opts.noSpeech {
		c.speech = speech.NewTokenIssuer("", "", speech.WithLogger(logger))
	} else {
		env.speech = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("speech-token"))
		}))
		t.Cleanup(env.speech.Close)
		c.speech = speech.NewTokenIssuer("speech-key", "eastus",
			speech.WithBaseURL(env.speech.URL),
			speech.WithHTTPClient(env.speech.Client()),
			speech.WithLogger(logger))
	}

	cfg := &config.Config{
		Backend: config.BackendConfig{Kind: "agents", Scope: config.DefaultAgentsScope},
		Run:     config.RunConfig{Timeout: time.Second},
	}
	env.gw = assemble(cfg, c, logger)
	env.handler = env.gw.Handler()
	t.Cleanup(func() { env.gw.closeComponents() })
	return env
}
