// ABOUTME: Tests for the agents and assistants REST backends against httptest servers
// ABOUTME: Covers request shapes, paging, read retries, and per-variant error classification

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/credential"
)

func testOptions(kind Kind, endpoint string) Options {
	return Options{
		Kind:        kind,
		Endpoint:    endpoint,
		HTTPClient:  &http.Client{Timeout: 5 * time.Second},
		ReadRetries: 2,
		RetryBase:   time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testKey(t *testing.T) credential.Credential {
	t.Helper()
	k, err := credential.NewSharedKey("test-key")
	require.NoError(t, err)
	return k
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAgents_ThreadRunLifecycle(t *testing.T) {
	var posted postMessageRequest
	var started startRunRequest

	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v1", r.URL.Query().Get("api-version"))
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		writeJSON(w, 200, map[string]any{"id": "thread_1", "created_at": 1700000000})
	})
	mux.HandleFunc("POST /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		writeJSON(w, 200, map[string]any{"id": "msg_1"})
	})
	mux.HandleFunc("POST /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&started))
		writeJSON(w, 200, map[string]any{"id": "run_1", "status": "queued"})
	})
	mux.HandleFunc("GET /threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"id": "run_1", "status": "failed",
			"last_error": map[string]any{"code": "rate_limit_exceeded", "message": "rate limited"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewAgents(testOptions(KindAgents, srv.URL), testKey(t))
	ctx := context.Background()

	th, err := b.CreateThread(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thread_1", th.ID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), th.CreatedAt)

	require.NoError(t, b.PostMessage(ctx, "thread_1", RoleUser, "hello"))
	assert.Equal(t, postMessageRequest{Role: RoleUser, Content: "hello"}, posted)

	run, err := b.StartRun(ctx, "thread_1", "asst_9")
	require.NoError(t, err)
	assert.Equal(t, "asst_9", started.AssistantID)
	assert.Equal(t, StatusQueued, run.Status)

	run, err = b.GetRun(ctx, "thread_1", "run_1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	require.NotNil(t, run.LastError)
	assert.Equal(t, "rate limited", run.LastError.Message)
	assert.Equal(t, "rate_limit_exceeded: rate limited", run.LastError.String())
}

func TestAgents_ListMessagesPagesAscending(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "asc", r.URL.Query().Get("order"))
		switch r.URL.Query().Get("after") {
		case "":
			writeJSON(w, 200, map[string]any{
				"data": []map[string]any{
					{"id": "m1", "role": "user", "created_at": 100, "content": []map[string]any{{"type": "text", "text": map[string]any{"value": "hi"}}}},
				},
				"last_id":  "m1",
				"has_more": true,
			})
		case "m1":
			writeJSON(w, 200, map[string]any{
				"data": []map[string]any{
					{"id": "m2", "role": "assistant", "created_at": 101, "content": []map[string]any{{"type": "image_file"}}},
				},
				"last_id":  "m2",
				"has_more": false,
			})
		default:
			t.Errorf("unexpected after=%q", r.URL.Query().Get("after"))
		}
	}))
	defer srv.Close()

	list, err := NewAgents(testOptions(KindAgents, srv.URL), testKey(t)).ListMessages(context.Background(), "thread_1")
	require.NoError(t, err)
	assert.Equal(t, OrderAscending, list.Order)
	require.Len(t, list.Messages, 2)
	assert.Equal(t, "hi", list.Messages[0].Text)
	assert.True(t, list.Messages[0].HasText)
	assert.False(t, list.Messages[1].HasText)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAssistants_PathsAndDescendingOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/threads/thread_1/messages", r.URL.Path)
		assert.Equal(t, DefaultAssistantsAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		writeJSON(w, 200, map[string]any{
			"data": []map[string]any{
				{"id": "m2", "role": "assistant", "created_at": 200, "content": []map[string]any{{"type": "text", "text": map[string]any{"value": "reply"}}}},
				{"id": "m1", "role": "user", "created_at": 100, "content": []map[string]any{{"type": "text", "text": map[string]any{"value": "ask"}}}},
			},
		})
	}))
	defer srv.Close()

	list, err := NewAssistants(testOptions(KindAssistants, srv.URL), testKey(t)).ListMessages(context.Background(), "thread_1")
	require.NoError(t, err)
	assert.Equal(t, OrderDescending, list.Order)
	require.Len(t, list.Messages, 2)
	assert.Equal(t, "m2", list.Messages[0].ID)
}

func TestRead_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"code": "Busy", "message": "try later"}})
			return
		}
		writeJSON(w, 200, map[string]any{"id": "run_1", "status": "completed"})
	}))
	defer srv.Close()

	run, err := NewAgents(testOptions(KindAgents, srv.URL), testKey(t)).GetRun(context.Background(), "t", "run_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRead_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]any{"code": "429", "message": "slow down"}})
	}))
	defer srv.Close()

	_, err := NewAgents(testOptions(KindAgents, srv.URL), testKey(t)).GetRun(context.Background(), "t", "r")
	var remote *apperr.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, apperr.RemoteRateLimit, remote.Kind)
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
}

func TestPost_NotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewAgents(testOptions(KindAgents, srv.URL), testKey(t)).PostMessage(context.Background(), "t", RoleUser, "x")
	var remote *apperr.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, apperr.RemoteServer, remote.Kind)
	assert.Equal(t, http.StatusBadGateway, remote.Status)
	assert.Equal(t, "Bad Gateway", remote.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLapsedBearerMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	now := time.Now()
	tok, err := credential.NewBearerToken("opaque", func() time.Time { return now })
	require.NoError(t, err)
	now = now.Add(2 * credential.DefaultBearerLifetime)

	_, err = NewAgents(testOptions(KindAgents, srv.URL), tok).CreateThread(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrInvalidCredential))
	assert.Equal(t, int32(0), calls.Load())
}

func TestClassifyAgentsError(t *testing.T) {
	r := classifyAgentsError(401, []byte(`{"error":{"code":"PermissionDenied","message":"The principal lacks the required data action"}}`))
	assert.Equal(t, apperr.RemoteAuth, r.Kind)
	assert.Equal(t, "PermissionDenied", r.Code)
	assert.Contains(t, r.Message, "principal")

	r = classifyAgentsError(404, []byte(`{"code":"NotFound","message":"Agent asst_x not found"}`))
	assert.Equal(t, apperr.RemoteNotFound, r.Kind)
	assert.Equal(t, "NotFound", r.Code)

	r = classifyAgentsError(500, []byte("upstream exploded"))
	assert.Equal(t, apperr.RemoteServer, r.Kind)
	assert.Equal(t, "upstream exploded", r.Message)
}

func TestClassifyAssistantsError(t *testing.T) {
	r := classifyAssistantsError(401, []byte(`{"statusCode":401,"message":"Access denied due to invalid subscription key."}`))
	assert.Equal(t, apperr.RemoteAuth, r.Kind)
	assert.Equal(t, "401", r.Code)
	assert.Contains(t, r.Message, "invalid subscription key")

	r = classifyAssistantsError(400, []byte(`{"error":{"code":null,"type":"invalid_request_error","message":"bad thread"}}`))
	assert.Equal(t, apperr.RemoteInvalidRequest, r.Kind)
	assert.Equal(t, "invalid_request_error", r.Code)

	r = classifyAssistantsError(429, []byte(`{"error":{"code":429,"message":"Rate limit"}}`))
	assert.Equal(t, "429", r.Code)
	assert.Equal(t, apperr.RemoteRateLimit, r.Kind)
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory(Options{Kind: KindAssistants, Endpoint: "https://example.openai.azure.com/"})
	require.NoError(t, err)
	assert.Equal(t, "assistants", f(testKey(t)).Name())

	_, err = NewFactory(Options{Kind: "bogus", Endpoint: "https://x"})
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))

	_, err = NewFactory(Options{Kind: KindAgents})
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))
}

func TestRemoteErrorMessage(t *testing.T) {
	err := &apperr.RemoteError{Status: 404, Code: "NotFound", Message: "gone", Backend: "agents"}
	assert.Equal(t, "agents 404 (NotFound): gone", err.Error())
}

func TestFallbackMessage(t *testing.T) {
	assert.Equal(t, "Bad Gateway", fallbackMessage(http.StatusBadGateway, []byte("  ")))
	assert.Equal(t, "upstream broke", fallbackMessage(http.StatusBadGateway, []byte(" upstream broke\n")))

	// a one-byte prefix puts every 3-byte rune boundary off the cut point
	body := "x" + strings.Repeat("नमस्ते", 40)
	msg := fallbackMessage(http.StatusInternalServerError, []byte(body))
	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, "..."))
	assert.LessOrEqual(t, len(msg), maxFallbackMessage+len("..."))
	assert.True(t, strings.HasPrefix(body, strings.TrimSuffix(msg, "...")))
}
