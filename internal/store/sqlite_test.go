// ABOUTME: Tests for the SQLite turn ledger
// ABOUTME: Covers create/get/update, duplicate detection, ordering and limits

package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTurn(id, threadID string, at time.Time) *Turn {
	return &Turn{
		ID:        id,
		ThreadID:  threadID,
		Text:      "What is the weather in Kathmandu?",
		AuthMode:  "api_key",
		Status:    TurnPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestCreateAndGetTurn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)

	turn := sampleTurn("turn-1", "thread_1", at)
	turn.RequestID = "req-1"
	require.NoError(t, s.CreateTurn(ctx, turn))

	got, err := s.GetTurn(ctx, "turn-1")
	require.NoError(t, err)
	assert.Equal(t, "thread_1", got.ThreadID)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, TurnPending, got.Status)
	assert.False(t, got.Posted)
	assert.True(t, at.Equal(got.CreatedAt))
}

func TestGetTurn_NotFound(t *testing.T) {
	_, err := newTestStore(t).GetTurn(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTurn_Duplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first := sampleTurn("turn-1", "t", now)
	first.RequestID = "req-1"
	require.NoError(t, s.CreateTurn(ctx, first))

	assert.ErrorIs(t, s.CreateTurn(ctx, sampleTurn("turn-1", "t", now)), ErrDuplicateTurn)

	sameRequest := sampleTurn("turn-2", "t", now)
	sameRequest.RequestID = "req-1"
	assert.ErrorIs(t, s.CreateTurn(ctx, sameRequest), ErrDuplicateTurn)

	// turns without request ids never collide
	require.NoError(t, s.CreateTurn(ctx, sampleTurn("turn-3", "t", now)))
	require.NoError(t, s.CreateTurn(ctx, sampleTurn("turn-4", "t", now)))
}

func TestUpdateTurn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	turn := sampleTurn("turn-1", "", now)
	require.NoError(t, s.CreateTurn(ctx, turn))

	turn.ThreadID = "thread_9"
	turn.RunID = "run_3"
	turn.Status = TurnFailed
	turn.Posted = true
	turn.ErrorKind = "run_failed_error"
	turn.ErrorDetail = "rate limited"
	turn.Attempts = 1
	turn.UpdatedAt = now.Add(time.Second)
	require.NoError(t, s.UpdateTurn(ctx, turn))

	got, err := s.GetTurn(ctx, "turn-1")
	require.NoError(t, err)
	assert.Equal(t, "thread_9", got.ThreadID)
	assert.Equal(t, "run_3", got.RunID)
	assert.Equal(t, TurnFailed, got.Status)
	assert.True(t, got.Posted)
	assert.Equal(t, "rate limited", got.ErrorDetail)
	assert.Equal(t, 1, got.Attempts)

	assert.ErrorIs(t, s.UpdateTurn(ctx, sampleTurn("nope", "", now)), ErrNotFound)
}

func TestListTurns_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateTurn(ctx, sampleTurn("c", "thread_1", base.Add(2*time.Millisecond))))
	require.NoError(t, s.CreateTurn(ctx, sampleTurn("a", "thread_1", base)))
	require.NoError(t, s.CreateTurn(ctx, sampleTurn("b", "thread_1", base.Add(time.Millisecond))))
	require.NoError(t, s.CreateTurn(ctx, sampleTurn("other", "thread_2", base)))

	turns, err := s.ListTurns(ctx, "thread_1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{turns[0].ID, turns[1].ID, turns[2].ID})

	turns, err = s.ListTurns(ctx, "thread_1", 2)
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	turns, err = s.ListTurns(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestMockStore_MatchesSQLiteSemantics(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	for name, s := range map[string]TurnStore{"sqlite": newTestStore(t), "mock": NewMockStore()} {
		t.Run(name, func(t *testing.T) {
			turn := sampleTurn("x", "thread", now)
			turn.RequestID = "r"
			require.NoError(t, s.CreateTurn(ctx, turn))
			assert.ErrorIs(t, s.CreateTurn(ctx, turn), ErrDuplicateTurn)

			turn.Status = TurnCompleted
			require.NoError(t, s.UpdateTurn(ctx, turn))
			got, err := s.GetTurn(ctx, "x")
			require.NoError(t, err)
			assert.Equal(t, TurnCompleted, got.Status)

			_, err = s.GetTurn(ctx, "y")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestClaimRetry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	for name, s := range map[string]TurnStore{"sqlite": newTestStore(t), "mock": NewMockStore()} {
		t.Run(name, func(t *testing.T) {
			turn := sampleTurn("failed", "thread", now)
			turn.Status = TurnFailed
			turn.Posted = true
			turn.ErrorKind = "run_failed_error"
			turn.ErrorDetail = "rate limited"
			require.NoError(t, s.CreateTurn(ctx, turn))

			claimed, err := s.ClaimRetry(ctx, "failed", now.Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, TurnPending, claimed.Status)
			assert.Equal(t, 1, claimed.Attempts)
			assert.True(t, claimed.Posted)
			assert.Empty(t, claimed.ErrorKind)
			assert.Empty(t, claimed.ErrorDetail)

			_, err = s.ClaimRetry(ctx, "failed", now)
			assert.ErrorIs(t, err, ErrTurnNotRetryable, "a claimed turn cannot be claimed again")

			running := sampleTurn("running", "thread", now)
			running.Status = TurnRunning
			require.NoError(t, s.CreateTurn(ctx, running))
			_, err = s.ClaimRetry(ctx, "running", now)
			assert.ErrorIs(t, err, ErrTurnNotRetryable)

			_, err = s.ClaimRetry(ctx, "missing", now)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestClaimRetry_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	turn := sampleTurn("contended", "thread", time.Now())
	turn.Status = TurnFailed
	require.NoError(t, s.CreateTurn(ctx, turn))

	const callers = 8
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimRetry(ctx, "contended", time.Now()); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrTurnNotRetryable)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	got, err := s.GetTurn(ctx, "contended")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}
