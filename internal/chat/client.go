// ABOUTME: Factory for request-scoped chat sessions and owner of their shared collaborators
// ABOUTME: Backend constructor, thread locks, turn ledger and run settings live here, not in globals

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/backend"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/credential"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/runner"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/store"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/thread"
)

// ledgerWriteTimeout bounds each ledger write, independent of the request.
const ledgerWriteTimeout = 5 * time.Second

// Message is a normalized conversation message.
type Message = runner.Message

// Config wires a Client.
type Config struct {
	Backends backend.Factory
	// Ledger is optional; without it turns are not recorded and RetryTurn is unavailable.
	Ledger              store.TurnStore
	Locks               *runner.ThreadLocks
	Run                 runner.Config
	ThreadCreateTimeout time.Duration
	Logger              *slog.Logger
}

// Client builds sessions. It is safe for concurrent use.
type Client struct {
	backends      backend.Factory
	ledger        store.TurnStore
	locks         *runner.ThreadLocks
	run           runner.Config
	createTimeout time.Duration
	logger        *slog.Logger
}

// NewClient validates cfg and creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Backends == nil {
		return nil, apperr.Configuration("chat client needs a backend factory")
	}
	if cfg.Run.AgentID == "" {
		return nil, apperr.Configuration("agent id is required")
	}
	if cfg.Locks == nil {
		cfg.Locks = runner.NewThreadLocks()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		backends:      cfg.Backends,
		ledger:        cfg.Ledger,
		locks:         cfg.Locks,
		run:           cfg.Run,
		createTimeout: cfg.ThreadCreateTimeout,
		logger:        cfg.Logger.With("component", "chat"),
	}, nil
}

// Session builds the session for one request. threadID resumes an existing
// conversation; empty starts a new one on the first turn.
func (c *Client) Session(cred credential.Credential, threadID string) *Session {
	b := c.backends(cred)
	logger := c.logger.With("auth_mode", cred.Mode())
	return &Session{
		client: c,
		cred:   cred,
		thread: thread.NewSession(b, threadID,
			thread.WithCreateTimeout(c.createTimeout),
			thread.WithLogger(c.logger)),
		runner: runner.New(b, c.run, c.locks, c.logger),
		logger: logger,
	}
}

// HasLedger reports whether turns are recorded.
func (c *Client) HasLedger() bool { return c.ledger != nil }

// Turns returns the ledger rows recorded for a thread, oldest first.
func (c *Client) Turns(ctx context.Context, threadID string, limit int) ([]*store.Turn, error) {
	if c.ledger == nil {
		return nil, apperr.Configuration("turn ledger is not configured")
	}
	turns, err := c.ledger.ListTurns(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	return turns, nil
}
