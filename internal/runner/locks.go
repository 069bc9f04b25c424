// ABOUTME: Per-thread mutual exclusion so only one run is ever active on a thread
// ABOUTME: Entries are reference counted and dropped once nobody holds or waits on them

package runner

import (
	"context"
	"sync"
)

// ThreadLocks admits one holder per thread id. The zero value is ready to use
// and one instance is shared by every session in the process.
type ThreadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	sem  chan struct{}
	refs int
}

// NewThreadLocks creates an empty lock table.
func NewThreadLocks() *ThreadLocks {
	return &ThreadLocks{}
}

// Lock blocks until threadID is free or ctx is done. The returned function
// releases the lock and must be called exactly once.
func (l *ThreadLocks) Lock(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*threadLock)
	}
	entry, ok := l.locks[threadID]
	if !ok {
		entry = &threadLock{sem: make(chan struct{}, 1)}
		l.locks[threadID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(threadID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(threadID, entry)
		})
	}, nil
}

func (l *ThreadLocks) release(threadID string, entry *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, threadID)
	}
}

// Len returns how many thread ids currently have holders or waiters.
func (l *ThreadLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
