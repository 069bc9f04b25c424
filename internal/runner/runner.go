// ABOUTME: Drives one conversational turn: post, start run, poll to a terminal state, fetch
// ABOUTME: Every failure leaves here classified into the apperr taxonomy

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/backend"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/normalize"
)

const (
	DefaultPollInterval = time.Second
	DefaultTimeout      = 90 * time.Second
)

// Message is a normalized thread message.
type Message struct {
	ID        string       `json:"id"`
	Role      backend.Role `json:"role"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Config holds run settings shared by every turn.
type Config struct {
	AgentID      string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Observer is told about side effects as they happen so callers can record them.
type Observer interface {
	MessagePosted(ctx context.Context, threadID string)
	RunStarted(ctx context.Context, threadID, runID string)
}

// Runner executes turns against one backend.
type Runner struct {
	backend backend.RunBackend
	cfg     Config
	locks   *ThreadLocks
	logger  *slog.Logger
}

// New creates a Runner. locks may be shared across runners; nil gets a private table.
func New(b backend.RunBackend, cfg Config, locks *ThreadLocks, logger *slog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if locks == nil {
		locks = NewThreadLocks()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		backend: b,
		cfg:     cfg,
		locks:   locks,
		logger:  logger.With("component", "runner", "backend", b.Name()),
	}
}

type submitOptions struct {
	skipPost bool
	observer Observer
}

// Option adjusts a single SubmitTurn call.
type Option func(*submitOptions)

// WithoutPost starts the run without posting text, for retries where the
// message already reached the thread.
func WithoutPost() Option {
	return func(o *submitOptions) { o.skipPost = true }
}

// WithObserver reports progress of the turn to o.
func WithObserver(o Observer) Option {
	return func(opts *submitOptions) { opts.observer = o }
}

// SubmitTurn posts text to the thread, runs the agent and returns every
// message on the thread in ascending chronological order.
func (r *Runner) SubmitTurn(ctx context.Context, threadID, text string, opts ...Option) ([]Message, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	unlock, err := r.locks.Lock(ctx, threadID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRequestCancelled, "wait for thread", err).WithThread(threadID)
	}
	defer unlock()

	logger := r.logger.With("thread_id", threadID)

	if !o.skipPost {
		if err := r.backend.PostMessage(ctx, threadID, backend.RoleUser, text); err != nil {
			return nil, classify(ctx, apperr.KindMessagePost, "post message", err).WithThread(threadID)
		}
		if o.observer != nil {
			o.observer.MessagePosted(ctx, threadID)
		}
	}

	run, err := r.backend.StartRun(ctx, threadID, r.cfg.AgentID)
	if err != nil {
		return nil, classify(ctx, apperr.KindRunStart, "start run", err).WithThread(threadID)
	}
	if run.ID == "" {
		return nil, apperr.New(apperr.KindRunStart, "start run", "service returned an empty run id").WithThread(threadID)
	}
	if o.observer != nil {
		o.observer.RunStarted(ctx, threadID, run.ID)
	}
	logger = logger.With("run_id", run.ID)
	logger.Debug("run started", "status", run.Status)

	start := time.Now()
	run, polls, err := r.poll(ctx, threadID, run)
	if err != nil {
		logger.Warn("run did not finish", "polls", polls, "elapsed", time.Since(start), "error", err)
		return nil, err
	}

	if err := terminal(run); err != nil {
		err.WithThread(threadID).WithRun(run.ID)
		logger.Warn("run ended without a reply", "status", run.Status, "detail", err.Detail)
		return nil, err
	}
	logger.Info("run completed", "polls", polls, "elapsed", time.Since(start))

	msgs, err := r.History(ctx, threadID)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			ae.WithRun(run.ID)
		}
		return nil, err
	}
	return msgs, nil
}

// poll re-reads the run every PollInterval while it is active, bounded by Timeout.
func (r *Runner) poll(ctx context.Context, threadID string, run backend.Run) (backend.Run, int, error) {
	pollCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	polls := 0
	for run.Status.Active() {
		timer := time.NewTimer(r.cfg.PollInterval)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			return run, polls, r.interrupted(ctx, threadID, run)
		case <-timer.C:
		}

		next, err := r.backend.GetRun(pollCtx, threadID, run.ID)
		polls++
		if err != nil {
			if pollCtx.Err() != nil {
				return run, polls, r.interrupted(ctx, threadID, run)
			}
			return run, polls, classify(ctx, apperr.KindRunPoll, "poll run", err).WithThread(threadID).WithRun(run.ID)
		}
		run = next
	}
	return run, polls, nil
}

// interrupted tells caller cancellation apart from the poll timeout.
func (r *Runner) interrupted(ctx context.Context, threadID string, run backend.Run) *apperr.Error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindRequestCancelled, "poll run", err).WithThread(threadID).WithRun(run.ID)
	}
	return apperr.New(apperr.KindRunTimeout, "poll run",
		fmt.Sprintf("run still %s after %s", run.Status, r.cfg.Timeout)).WithThread(threadID).WithRun(run.ID)
}

// terminal maps a finished run to nil (completed) or the matching failure.
func terminal(run backend.Run) *apperr.Error {
	switch run.Status {
	case backend.StatusCompleted:
		return nil
	case backend.StatusFailed:
		detail := run.LastError.String()
		if detail == "" {
			detail = "run failed without an error detail"
		}
		return apperr.New(apperr.KindRunFailed, "run", detail)
	case backend.StatusCancelled:
		return apperr.New(apperr.KindRunCancelled, "run", "run was cancelled")
	case backend.StatusExpired:
		return apperr.New(apperr.KindRunExpired, "run", "run expired before completing")
	default:
		detail := fmt.Sprintf("run ended with unexpected status %q", run.Status)
		if le := run.LastError.String(); le != "" {
			detail += ": " + le
		}
		return apperr.New(apperr.KindRunFailed, "run", detail)
	}
}

// History lists the thread's messages oldest first, normalized. Messages
// without a text part are left out.
func (r *Runner) History(ctx context.Context, threadID string) ([]Message, error) {
	list, err := r.backend.ListMessages(ctx, threadID)
	if err != nil {
		return nil, classify(ctx, apperr.KindMessageList, "list messages", err).WithThread(threadID)
	}

	raw := list.Messages
	if list.Order == backend.OrderDescending {
		raw = slices.Clone(raw)
		slices.Reverse(raw)
	}
	sort.SliceStable(raw, func(i, j int) bool {
		return raw[i].CreatedAt.Before(raw[j].CreatedAt)
	})

	out := make([]Message, 0, len(raw))
	for _, m := range raw {
		if !m.HasText {
			continue
		}
		content, err := normalize.Normalize(m.Text)
		if err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) {
				return nil, ae.WithThread(threadID)
			}
			return nil, apperr.Wrap(apperr.KindNormalization, "normalize message", err).WithThread(threadID)
		}
		out = append(out, Message{ID: m.ID, Role: m.Role, Content: content, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

// classify wraps a backend failure under kind. Errors that are already
// classified (credential failures) keep their kind, and caller cancellation
// becomes RequestCancelledError.
func classify(ctx context.Context, kind apperr.Kind, op string, err error) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindRequestCancelled, op, err)
	}
	return apperr.Wrap(kind, op, err)
}
