// ABOUTME: Session is the single entry point for one conversation: SendTurn, ListHistory, RetryTurn
// ABOUTME: Validates input, keeps the turn ledger current and returns classified errors only

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/credential"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/runner"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/store"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/thread"
)

// Session is one conversation seen through one credential.
type Session struct {
	client *Client
	cred   credential.Credential
	thread *thread.Session
	runner *runner.Runner
	logger *slog.Logger
}

// TurnResult is the outcome of SendTurn or RetryTurn. ThreadID and TurnID are
// filled in as soon as they are known, so they are usable even when the turn
// failed. TurnID is empty when no ledger is configured.
type TurnResult struct {
	Messages []Message
	ThreadID string
	TurnID   string
}

type turnOptions struct {
	requestID string
}

// TurnOption adjusts SendTurn.
type TurnOption func(*turnOptions)

// WithRequestID records a client idempotency key; a second turn with the
// same key is a ConflictError.
func WithRequestID(id string) TurnOption {
	return func(o *turnOptions) { o.requestID = strings.TrimSpace(id) }
}

// ThreadID returns the conversation's thread id, or "" before the first turn.
func (s *Session) ThreadID() string {
	th, ok := s.thread.Current()
	if !ok {
		return ""
	}
	return th.ID
}

// SendTurn submits text as the user's next message and returns the whole
// conversation, oldest first.
func (s *Session) SendTurn(ctx context.Context, text string, opts ...TurnOption) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, apperr.Validation("message is required")
	}

	var o turnOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	turn := &store.Turn{
		ID:        uuid.NewString(),
		ThreadID:  s.ThreadID(),
		RequestID: o.requestID,
		Text:      text,
		AuthMode:  string(s.cred.Mode()),
		Status:    store.TurnPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	rec, err := s.openRecord(turn)
	if err != nil {
		return TurnResult{}, err
	}
	return s.execute(ctx, rec, nil)
}

// RetryTurn runs a failed turn again using the text the ledger recorded. When
// the ledger shows the message already reached the thread it is not posted again.
func (s *Session) RetryTurn(ctx context.Context, turnID string) (TurnResult, error) {
	ledger := s.client.ledger
	if ledger == nil {
		return TurnResult{}, apperr.Configuration("turn retry needs the turn ledger (database.path)")
	}

	turn, err := ledger.GetTurn(ctx, turnID)
	if errors.Is(err, store.ErrNotFound) {
		return TurnResult{}, apperr.Validation(fmt.Sprintf("unknown turn %q", turnID))
	}
	if err != nil {
		return TurnResult{}, fmt.Errorf("loading turn %s: %w", turnID, err)
	}

	switch turn.Status {
	case store.TurnFailed:
	case store.TurnCompleted:
		return TurnResult{TurnID: turn.ID, ThreadID: turn.ThreadID}, apperr.Validation("turn already completed")
	default:
		// its run may still be active on the thread
		return TurnResult{TurnID: turn.ID, ThreadID: turn.ThreadID},
			apperr.New(apperr.KindConflict, "retry turn", fmt.Sprintf("turn is still %s", turn.Status))
	}
	if turn.ThreadID != "" && !s.thread.Adopt(turn.ThreadID) {
		return TurnResult{}, apperr.Validation("turn belongs to a different thread")
	}

	turn, err = ledger.ClaimRetry(ctx, turnID, time.Now().UTC())
	if errors.Is(err, store.ErrTurnNotRetryable) {
		return TurnResult{TurnID: turnID, ThreadID: s.ThreadID()},
			apperr.New(apperr.KindConflict, "retry turn", "turn is already being retried")
	}
	if err != nil {
		return TurnResult{}, fmt.Errorf("claiming turn %s: %w", turnID, err)
	}

	rec := &turnRecord{ledger: ledger, turn: turn, persisted: true, logger: s.logger}

	var extra []runner.Option
	if turn.Posted {
		extra = append(extra, runner.WithoutPost())
	}
	s.logger.Info("retrying turn", "turn_id", turn.ID, "attempt", turn.Attempts, "repost", !turn.Posted)
	return s.execute(ctx, rec, extra)
}

// ListHistory returns the conversation so far. A session that has no thread
// yet has an empty history.
func (s *Session) ListHistory(ctx context.Context) ([]Message, error) {
	th, ok := s.thread.Current()
	if !ok {
		return []Message{}, nil
	}
	return s.runner.History(ctx, th.ID)
}

func (s *Session) execute(ctx context.Context, rec *turnRecord, extra []runner.Option) (TurnResult, error) {
	var res TurnResult
	if rec.persisted {
		res.TurnID = rec.turn.ID
	}

	th, err := s.thread.Ensure(ctx)
	if err != nil {
		rec.finish(err)
		return res, err
	}
	res.ThreadID = th.ID
	rec.setThread(th.ID)

	opts := append([]runner.Option{runner.WithObserver(rec)}, extra...)
	msgs, err := s.runner.SubmitTurn(ctx, th.ID, rec.turn.Text, opts...)
	rec.finish(err)
	if err != nil {
		s.logger.Warn("turn failed",
			"thread_id", th.ID,
			"turn_id", rec.turn.ID,
			"kind", apperr.KindOf(err),
			"error", err)
		return res, err
	}

	res.Messages = msgs
	return res, nil
}

// openRecord writes the pending turn. Only a duplicate request id stops the
// turn; other ledger failures are logged and the turn goes ahead unrecorded.
func (s *Session) openRecord(turn *store.Turn) (*turnRecord, error) {
	rec := &turnRecord{ledger: s.client.ledger, turn: turn, logger: s.logger}
	if rec.ledger == nil {
		return rec, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()

	err := rec.ledger.CreateTurn(ctx, turn)
	switch {
	case err == nil:
		rec.persisted = true
	case errors.Is(err, store.ErrDuplicateTurn) && turn.RequestID != "":
		return nil, apperr.New(apperr.KindConflict, "record turn", fmt.Sprintf("request %q was already submitted", turn.RequestID))
	default:
		s.logger.Error("failed to record turn", "error", err, "turn_id", turn.ID)
	}
	return rec, nil
}

// turnRecord keeps one ledger row in step with the turn. It doubles as the
// runner observer.
type turnRecord struct {
	ledger    store.TurnStore
	turn      *store.Turn
	persisted bool
	logger    *slog.Logger
}

func (r *turnRecord) MessagePosted(_ context.Context, threadID string) {
	r.turn.Posted = true
	r.turn.Status = store.TurnPosted
	r.save()
}

func (r *turnRecord) RunStarted(_ context.Context, _, runID string) {
	r.turn.RunID = runID
	r.turn.Status = store.TurnRunning
	r.save()
}

func (r *turnRecord) setThread(threadID string) {
	if r.turn.ThreadID == threadID {
		return
	}
	r.turn.ThreadID = threadID
	r.save()
}

func (r *turnRecord) finish(err error) {
	if err == nil {
		r.turn.Status = store.TurnCompleted
		r.turn.ErrorKind = ""
		r.turn.ErrorDetail = ""
	} else {
		r.turn.Status = store.TurnFailed
		r.turn.ErrorKind = string(apperr.KindOf(err))
		r.turn.ErrorDetail = apperr.Describe(err)
	}
	r.save()
}

// save writes the row with its own timeout so a cancelled request still
// leaves an accurate ledger behind.
func (r *turnRecord) save() {
	if !r.persisted {
		return
	}
	r.turn.UpdatedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()

	if err := r.ledger.UpdateTurn(ctx, r.turn); err != nil {
		r.logger.Error("failed to update turn",
			"error", err,
			"turn_id", r.turn.ID,
			"status", r.turn.Status)
		return
	}
	r.logger.Debug("turn updated", "turn_id", r.turn.ID, "status", r.turn.Status)
}
