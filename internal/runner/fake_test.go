// ABOUTME: Scripted in-memory RunBackend for runner tests
// ABOUTME: Counts every call so tests can assert on network side effects

package runner

import (
	"context"
	"sync"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/backend"
)

type fakeBackend struct {
	mu sync.Mutex

	statuses []backend.RunStatus // returned by successive GetRun calls
	lastErr  *backend.RunError
	list     backend.MessageList

	postErr  error
	startErr error
	getErr   error
	listErr  error

	posts    int
	starts   int
	gets     int
	lists    int
	posted   []string
	agentIDs []string
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) CreateThread(context.Context) (backend.ThreadInfo, error) {
	return backend.ThreadInfo{ID: "thread_new"}, nil
}

func (f *fakeBackend) PostMessage(_ context.Context, _ string, _ backend.Role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	f.posted = append(f.posted, content)
	return f.postErr
}

func (f *fakeBackend) StartRun(_ context.Context, _, agentID string) (backend.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.agentIDs = append(f.agentIDs, agentID)
	if f.startErr != nil {
		return backend.Run{}, f.startErr
	}
	return backend.Run{ID: "run_1", Status: backend.StatusQueued}, nil
}

func (f *fakeBackend) GetRun(ctx context.Context, _, runID string) (backend.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return backend.Run{}, f.getErr
	}
	status := backend.StatusInProgress
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	run := backend.Run{ID: runID, Status: status}
	if status == backend.StatusFailed || status == backend.StatusIncomplete {
		run.LastError = f.lastErr
	}
	return run, nil
}

func (f *fakeBackend) ListMessages(context.Context, string) (backend.MessageList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return backend.MessageList{}, f.listErr
	}
	return f.list, nil
}

func (f *fakeBackend) counts() (posts, starts, gets, lists int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts, f.starts, f.gets, f.lists
}
