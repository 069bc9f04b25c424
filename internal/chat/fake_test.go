// ABOUTME: In-memory RunBackend and speech fakes for chat session tests
// ABOUTME: Call counters let tests prove that invalid input never touches the network

package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/backend"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/speech"
)

type fakeBackend struct {
	mu sync.Mutex

	// outcomes is consumed one per run; missing entries complete.
	outcomes []backend.Run
	messages []backend.Message

	createErr error

	creates, posts, starts, gets, lists int
	nextRun                             int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) CreateThread(context.Context) (backend.ThreadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return backend.ThreadInfo{}, f.createErr
	}
	return backend.ThreadInfo{ID: "thread_1", CreatedAt: time.Unix(1700000000, 0)}, nil
}

func (f *fakeBackend) PostMessage(_ context.Context, _ string, role backend.Role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	f.messages = append(f.messages, backend.Message{
		ID:        fmt.Sprintf("msg_u%d", f.posts),
		Role:      role,
		Text:      content,
		HasText:   true,
		CreatedAt: time.Unix(int64(1700000000+len(f.messages)), 0),
	})
	return nil
}

func (f *fakeBackend) StartRun(_ context.Context, _, _ string) (backend.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.nextRun++
	return backend.Run{ID: fmt.Sprintf("run_%d", f.nextRun), Status: backend.StatusQueued}, nil
}

func (f *fakeBackend) GetRun(_ context.Context, _, runID string) (backend.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++

	run := backend.Run{ID: runID, Status: backend.StatusCompleted}
	if len(f.outcomes) > 0 {
		run = f.outcomes[0]
		run.ID = runID
		f.outcomes = f.outcomes[1:]
	}
	if run.Status == backend.StatusCompleted {
		f.messages = append(f.messages, backend.Message{
			ID:        "msg_a" + runID,
			Role:      backend.RoleAssistant,
			Text:      "Reply【1:0†source】 for " + runID,
			HasText:   true,
			CreatedAt: time.Unix(int64(1700000000+len(f.messages)), 0),
		})
	}
	return run, nil
}

// ListMessages answers newest first, like the assistants variant.
func (f *fakeBackend) ListMessages(context.Context, string) (backend.MessageList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	out := make([]backend.Message, len(f.messages))
	for i, m := range f.messages {
		out[len(f.messages)-1-i] = m
	}
	return backend.MessageList{Messages: out, Order: backend.OrderDescending}, nil
}

func (f *fakeBackend) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates + f.posts + f.starts + f.gets + f.lists
}

type fakeRecognizer struct {
	text string
	err  error
	lang speech.Language
}

func (f *fakeRecognizer) Recognize(_ context.Context, lang speech.Language) (string, error) {
	f.lang = lang
	return f.text, f.err
}

type fakeSynthesizer struct {
	spoken []string
	lang   speech.Language
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text string, lang speech.Language) error {
	f.spoken = append(f.spoken, text)
	f.lang = lang
	return nil
}
