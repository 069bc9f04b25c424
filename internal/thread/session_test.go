// ABOUTME: Tests for lazy thread creation and its sharing across concurrent callers
// ABOUTME: Uses a gated fake creator to hold creation in flight

package thread

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/backend"
)

type fakeCreator struct {
	calls   atomic.Int32
	gate    chan struct{}
	err     error
	lastCtx context.Context
	mu      sync.Mutex
}

func (f *fakeCreator) CreateThread(ctx context.Context) (backend.ThreadInfo, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.lastCtx = ctx
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return backend.ThreadInfo{}, f.err
	}
	return backend.ThreadInfo{ID: "thread_" + string(rune('0'+n)), CreatedAt: time.Unix(1700000000, 0)}, nil
}

func TestEnsure_CreatesOnceAndCaches(t *testing.T) {
	f := &fakeCreator{}
	s := NewSession(f, "")

	t1, err := s.Ensure(context.Background())
	require.NoError(t, err)
	t2, err := s.Ensure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "thread_1", t1.ID)
	assert.Equal(t, t1, t2)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestEnsure_ConcurrentCallersShareCreation(t *testing.T) {
	f := &fakeCreator{gate: make(chan struct{})}
	s := NewSession(f, "")

	const callers = 20
	var wg sync.WaitGroup
	ids := make([]string, callers)
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			th, err := s.Ensure(context.Background())
			ids[i], errs[i] = th.ID, err
		}(i)
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, "thread_1", ids[i])
	}
}

func TestEnsure_FailureNotCached(t *testing.T) {
	remote := &apperr.RemoteError{Kind: apperr.RemoteServer, Status: 500, Message: "boom", Backend: "agents"}
	f := &fakeCreator{err: remote}
	s := NewSession(f, "")

	_, err := s.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrThreadCreation))
	var got *apperr.RemoteError
	assert.True(t, errors.As(err, &got))

	_, ok := s.Current()
	assert.False(t, ok)

	f.err = nil
	th, err := s.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_2", th.ID)
}

func TestEnsure_ClassifiedErrorPassesThrough(t *testing.T) {
	f := &fakeCreator{err: apperr.InvalidCredential("access token has expired")}
	_, err := NewSession(f, "").Ensure(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrInvalidCredential))
}

func TestEnsure_SeededSessionSkipsCreation(t *testing.T) {
	f := &fakeCreator{}
	s := NewSession(f, "thread_existing")

	th, err := s.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_existing", th.ID)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestEnsure_AbandoningCallerDoesNotPoisonWaiters(t *testing.T) {
	f := &fakeCreator{gate: make(chan struct{})}
	s := NewSession(f, "")

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Ensure(ctx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	secondDone := make(chan Thread, 1)
	go func() {
		th, err := s.Ensure(context.Background())
		assert.NoError(t, err)
		secondDone <- th
	}()

	cancel()
	err := <-firstErr
	assert.True(t, errors.Is(err, apperr.ErrRequestCancelled))

	f.mu.Lock()
	creationCtx := f.lastCtx
	f.mu.Unlock()
	assert.NoError(t, creationCtx.Err(), "creation must not inherit the caller's cancellation")

	close(f.gate)
	select {
	case th := <-secondDone:
		assert.Equal(t, "thread_1", th.ID)
	case <-time.After(time.Second):
		t.Fatal("waiter never received the thread")
	}
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestEnsure_EmptyRemoteID(t *testing.T) {
	s := NewSession(emptyCreator{}, "")
	_, err := s.Ensure(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrThreadCreation))
}

type emptyCreator struct{}

func (emptyCreator) CreateThread(context.Context) (backend.ThreadInfo, error) {
	return backend.ThreadInfo{}, nil
}

func TestAdopt(t *testing.T) {
	s := NewSession(&fakeCreator{}, "")
	assert.True(t, s.Adopt("thread_a"))
	assert.True(t, s.Adopt("thread_a"))
	assert.False(t, s.Adopt("thread_b"))

	th, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, "thread_a", th.ID)
}
