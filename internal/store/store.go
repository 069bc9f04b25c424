// ABOUTME: Turn ledger types and the TurnStore interface
// ABOUTME: A turn records one user submission so a retry can reuse its text without re-posting

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested turn does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateTurn is returned when a turn id or request id is already recorded
var ErrDuplicateTurn = errors.New("turn already exists")

// ErrTurnNotRetryable is returned by ClaimRetry when the turn is not in the failed state
var ErrTurnNotRetryable = errors.New("turn is not retryable")

// TurnStatus tracks how far a turn got.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"   // recorded, nothing sent yet
	TurnPosted    TurnStatus = "posted"    // user message is on the thread
	TurnRunning   TurnStatus = "running"   // run started
	TurnCompleted TurnStatus = "completed" // assistant replied
	TurnFailed    TurnStatus = "failed"
)

// Turn is one ledger row.
type Turn struct {
	ID          string
	ThreadID    string
	RunID       string
	RequestID   string // client idempotency key, may be empty
	Text        string
	AuthMode    string
	Status      TurnStatus
	Posted      bool
	ErrorKind   string
	ErrorDetail string
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TurnStore persists turns.
type TurnStore interface {
	CreateTurn(ctx context.Context, turn *Turn) error
	UpdateTurn(ctx context.Context, turn *Turn) error
	GetTurn(ctx context.Context, id string) (*Turn, error)
	// ClaimRetry atomically moves a failed turn back to pending, clears its
	// error and counts the attempt. At most one caller claims each failure.
	ClaimRetry(ctx context.Context, id string, at time.Time) (*Turn, error)
	// ListTurns returns a thread's turns oldest first, at most limit of them.
	ListTurns(ctx context.Context, threadID string, limit int) ([]*Turn, error)
	Close() error
}
