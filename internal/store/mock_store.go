// ABOUTME: In-memory TurnStore for tests that do not need SQLite
// ABOUTME: Mirrors SQLiteStore semantics including duplicate and not-found errors

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory TurnStore implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	turns     map[string]*Turn
	byRequest map[string]string // request id -> turn id
	seq       map[string]int    // insertion order tie-break
	next      int

	// FailWrites makes every write return this error when set.
	FailWrites error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		turns:     make(map[string]*Turn),
		byRequest: make(map[string]string),
		seq:       make(map[string]int),
	}
}

func (m *MockStore) CreateTurn(_ context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	if _, ok := m.turns[turn.ID]; ok {
		return ErrDuplicateTurn
	}
	if turn.RequestID != "" {
		if _, ok := m.byRequest[turn.RequestID]; ok {
			return ErrDuplicateTurn
		}
		m.byRequest[turn.RequestID] = turn.ID
	}

	t := *turn
	m.turns[t.ID] = &t
	m.next++
	m.seq[t.ID] = m.next
	return nil
}

func (m *MockStore) UpdateTurn(_ context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	existing, ok := m.turns[turn.ID]
	if !ok {
		return ErrNotFound
	}

	t := *turn
	t.Text = existing.Text
	t.RequestID = existing.RequestID
	t.AuthMode = existing.AuthMode
	t.CreatedAt = existing.CreatedAt
	m.turns[t.ID] = &t
	return nil
}

func (m *MockStore) GetTurn(_ context.Context, id string) (*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.turns[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

func (m *MockStore) ClaimRetry(_ context.Context, id string, at time.Time) (*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return nil, m.FailWrites
	}
	t, ok := m.turns[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != TurnFailed {
		return nil, ErrTurnNotRetryable
	}
	t.Status = TurnPending
	t.ErrorKind = ""
	t.ErrorDetail = ""
	t.Attempts++
	t.UpdatedAt = at
	result := *t
	return &result, nil
}

func (m *MockStore) ListTurns(_ context.Context, threadID string, limit int) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var out []*Turn
	for _, t := range m.turns {
		if t.ThreadID == threadID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return m.seq[out[i].ID] < m.seq[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) Close() error { return nil }

var (
	_ TurnStore = (*MockStore)(nil)
	_ TurnStore = (*SQLiteStore)(nil)
)
