// ABOUTME: Lazily creates and caches the remote thread that backs one conversation
// ABOUTME: Concurrent callers share a single in-flight creation

package thread

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/backend"
)

// DefaultCreateTimeout bounds a thread creation that has outlived its first caller.
const DefaultCreateTimeout = 30 * time.Second

// Thread is the remote conversation context.
type Thread struct {
	ID        string
	CreatedAt time.Time
}

// Creator is the slice of backend.RunBackend a session needs.
type Creator interface {
	CreateThread(ctx context.Context) (backend.ThreadInfo, error)
}

// Session owns the thread of one conversation.
type Session struct {
	creator       Creator
	createTimeout time.Duration
	logger        *slog.Logger

	group singleflight.Group

	mu     sync.RWMutex
	thread *Thread
}

// Option configures a Session.
type Option func(*Session)

// WithCreateTimeout overrides DefaultCreateTimeout.
func WithCreateTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.createTimeout = d
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession creates a session. A non-empty existingID resumes that thread
// without contacting the remote service.
func NewSession(creator Creator, existingID string, opts ...Option) *Session {
	s := &Session{
		creator:       creator,
		createTimeout: DefaultCreateTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "thread")
	if existingID != "" {
		s.thread = &Thread{ID: existingID}
	}
	return s
}

// Current returns the cached thread, if any.
func (s *Session) Current() (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.thread == nil {
		return Thread{}, false
	}
	return *s.thread, true
}

// Adopt binds the session to an existing thread when it has none yet. It
// returns false if the session already holds a different thread.
func (s *Session) Adopt(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread != nil {
		return s.thread.ID == threadID
	}
	s.thread = &Thread{ID: threadID}
	return true
}

// Ensure returns the session's thread, creating it on first use. Failures are
// not cached; the next call tries again.
func (s *Session) Ensure(ctx context.Context) (Thread, error) {
	if t, ok := s.Current(); ok {
		return t, nil
	}

	ch := s.group.DoChan("create", func() (any, error) {
		if t, ok := s.Current(); ok {
			return t, nil
		}
		return s.create(ctx)
	})

	select {
	case <-ctx.Done():
		return Thread{}, apperr.Wrap(apperr.KindRequestCancelled, "create thread", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Thread{}, res.Err
		}
		return res.Val.(Thread), nil
	}
}

// create runs detached from the first caller's cancellation so that other
// waiters still get a result if that caller goes away.
func (s *Session) create(ctx context.Context) (Thread, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.createTimeout)
	defer cancel()

	info, err := s.creator.CreateThread(cctx)
	if err != nil {
		s.logger.Error("thread creation failed", "error", err)
		var classified *apperr.Error
		if errors.As(err, &classified) {
			return Thread{}, err
		}
		return Thread{}, apperr.Wrap(apperr.KindThreadCreation, "create thread", err)
	}
	if info.ID == "" {
		return Thread{}, apperr.New(apperr.KindThreadCreation, "create thread", "service returned an empty thread id")
	}

	t := Thread{ID: info.ID, CreatedAt: info.CreatedAt}
	s.mu.Lock()
	s.thread = &t
	s.mu.Unlock()

	s.logger.Info("thread created", "thread_id", t.ID)
	return t, nil
}
