// ABOUTME: Stable error taxonomy shared by the credential, thread, run and HTTP layers
// ABOUTME: Every failure surfaced to callers is an *Error carrying a Kind and the failing step

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind categorizes failures into the taxonomy exposed to the HTTP and UI layers.
type Kind string

const (
	KindConfiguration     Kind = "configuration_error"
	KindInvalidCredential Kind = "invalid_credential_error"
	KindValidation        Kind = "validation_error"
	KindConflict          Kind = "conflict_error"
	KindThreadCreation    Kind = "thread_creation_error"
	KindMessagePost       Kind = "message_post_error"
	KindRunStart          Kind = "run_start_error"
	KindRunPoll           Kind = "run_poll_error"
	KindRunFailed         Kind = "run_failed_error"
	KindRunCancelled      Kind = "run_cancelled_error"
	KindRunExpired        Kind = "run_expired_error"
	KindRunTimeout        Kind = "run_timeout_error"
	KindMessageList       Kind = "message_list_error"
	KindNormalization     Kind = "normalization_error"
	KindRequestCancelled  Kind = "request_cancelled_error"
)

// Sentinels for errors.Is comparisons. Only the Kind is compared.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrThreadCreation    = &Error{Kind: KindThreadCreation}
	ErrMessagePost       = &Error{Kind: KindMessagePost}
	ErrRunStart          = &Error{Kind: KindRunStart}
	ErrRunPoll           = &Error{Kind: KindRunPoll}
	ErrRunFailed         = &Error{Kind: KindRunFailed}
	ErrRunCancelled      = &Error{Kind: KindRunCancelled}
	ErrRunExpired        = &Error{Kind: KindRunExpired}
	ErrRunTimeout        = &Error{Kind: KindRunTimeout}
	ErrMessageList       = &Error{Kind: KindMessageList}
	ErrNormalization     = &Error{Kind: KindNormalization}
	ErrRequestCancelled  = &Error{Kind: KindRequestCancelled}
)

// Error is a classified failure. Op names the step that failed ("post message",
// "start run", ...). Detail carries remote diagnostic text when the remote side
// reported one (for example a run's last_error message).
type Error struct {
	Kind     Kind
	Op       string
	ThreadID string
	RunID    string
	Detail   string
	Err      error
}

// New creates an error of the given kind with a detail message.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap classifies err under kind. The wrapped error stays reachable through errors.As.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation is shorthand for a caller-input failure.
func Validation(detail string) *Error {
	return New(KindValidation, "validate", detail)
}

// Configuration is shorthand for a setup failure.
func Configuration(detail string) *Error {
	return New(KindConfiguration, "configure", detail)
}

// InvalidCredential is shorthand for a credential shape or lifetime failure.
func InvalidCredential(detail string) *Error {
	return New(KindInvalidCredential, "resolve credential", detail)
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithThread records the thread the failure happened on.
func (e *Error) WithThread(threadID string) *Error {
	e.ThreadID = threadID
	return e
}

// WithRun records the run the failure happened on.
func (e *Error) WithRun(runID string) *Error {
	e.RunID = runID
	return e
}

// KindOf returns the Kind of the outermost classified error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status code the HTTP layer responds with.
// Caller-input failures are 400, duplicates 409, everything else 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindInvalidCredential:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the UI may offer an explicit retry for this failure.
// Configuration and input failures will fail the same way again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindInvalidCredential, KindValidation, KindConflict, KindNormalization:
		return false
	case "":
		return false
	default:
		return true
	}
}

// Describe produces the user-facing message for err: the classified message
// plus the remote detail, without Go wrapping noise from inner layers.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	msg := e.Op
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		msg = fmt.Sprintf("%s: %s", msg, remote.Error())
	} else if e.Err != nil && e.Detail == "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}
