// ABOUTME: RunBackend capability interface over the hosted assistant's thread/run API
// ABOUTME: Shared wire-independent types; one implementation per remote variant

package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/credential"
)

// Role is the author of a thread message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RunStatus is the remote run state.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusCancelling     RunStatus = "cancelling"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusCancelled      RunStatus = "cancelled"
	StatusExpired        RunStatus = "expired"
	StatusIncomplete     RunStatus = "incomplete"
)

// Active reports whether the run is still being worked on and should be polled again.
func (s RunStatus) Active() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCancelling:
		return true
	default:
		return false
	}
}

// Order is the chronological direction of a message listing.
type Order string

const (
	OrderAscending  Order = "asc"
	OrderDescending Order = "desc"
)

// ThreadInfo describes a created thread.
type ThreadInfo struct {
	ID        string
	CreatedAt time.Time
}

// Run is a snapshot of a remote run.
type Run struct {
	ID        string
	Status    RunStatus
	LastError *RunError
}

// RunError is the failure the remote service attached to a run.
type RunError struct {
	Code    string
	Message string
}

func (e *RunError) String() string {
	if e == nil {
		return ""
	}
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code + e.Message
}

// Message is one thread message. HasText is false when the message carries
// no text part (for example image-only content).
type Message struct {
	ID        string
	Role      Role
	Text      string
	HasText   bool
	CreatedAt time.Time
}

// MessageList is every message on a thread in the stated Order.
type MessageList struct {
	Messages []Message
	Order    Order
}

// RunBackend is the remote thread/run API. Implementations classify every
// failure into an *apperr.RemoteError before returning it.
type RunBackend interface {
	Name() string
	CreateThread(ctx context.Context) (ThreadInfo, error)
	PostMessage(ctx context.Context, threadID string, role Role, content string) error
	StartRun(ctx context.Context, threadID, agentID string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	ListMessages(ctx context.Context, threadID string) (MessageList, error)
}

// Kind names a backend variant.
type Kind string

const (
	KindAgents     Kind = "agents"
	KindAssistants Kind = "assistants"
)

// Options configures how backends reach the remote service.
type Options struct {
	Kind       Kind
	Endpoint   string
	APIVersion string // empty selects the variant default
	HTTPClient *http.Client
	// ReadRetries bounds retries of idempotent reads on transient failures.
	ReadRetries uint64
	RetryBase   time.Duration
	Logger      *slog.Logger
}

// Factory builds a RunBackend bound to one credential.
type Factory func(cred credential.Credential) RunBackend

// NewFactory validates opts and returns a constructor for per-credential backends.
func NewFactory(opts Options) (Factory, error) {
	opts.Endpoint = strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if opts.Endpoint == "" {
		return nil, apperr.Configuration("backend endpoint is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch opts.Kind {
	case KindAgents, "":
		return func(cred credential.Credential) RunBackend {
			return NewAgents(opts, cred)
		}, nil
	case KindAssistants:
		return func(cred credential.Credential) RunBackend {
			return NewAssistants(opts, cred)
		}, nil
	default:
		return nil, apperr.Configuration(fmt.Sprintf("unknown backend kind %q", opts.Kind))
	}
}
