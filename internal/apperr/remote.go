// ABOUTME: Classified remote-service failures produced once at each backend boundary
// ABOUTME: Carries the remote HTTP status so the HTTP layer can attach actionable hints

package apperr

import (
	"fmt"
	"net/http"
)

// RemoteKind categorizes a failure reported by (or on the way to) the remote service.
type RemoteKind string

const (
	RemoteAuth           RemoteKind = "authentication"
	RemotePermission     RemoteKind = "permission"
	RemoteNotFound       RemoteKind = "not_found"
	RemoteRateLimit      RemoteKind = "rate_limit"
	RemoteInvalidRequest RemoteKind = "invalid_request"
	RemoteServer         RemoteKind = "server"
	RemoteTransport      RemoteKind = "transport"
	RemoteDecode         RemoteKind = "decode"
)

// RemoteError is the normalized shape of any backend failure.
type RemoteError struct {
	Kind    RemoteKind
	Status  int    // HTTP status, 0 for transport failures
	Code    string // remote error code when present
	Message string
	Backend string // backend variant that produced the error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("%s %d (%s): %s", e.Backend, e.Status, e.Code, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s %d: %s", e.Backend, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Backend, e.Message)
	}
}

// Retryable reports whether an idempotent read may be retried after this failure.
func (e *RemoteError) Retryable() bool {
	switch e.Kind {
	case RemoteRateLimit, RemoteServer, RemoteTransport:
		return true
	default:
		return false
	}
}

// RemoteKindForStatus maps an HTTP status to a RemoteKind.
func RemoteKindForStatus(status int) RemoteKind {
	switch {
	case status == http.StatusUnauthorized:
		return RemoteAuth
	case status == http.StatusForbidden:
		return RemotePermission
	case status == http.StatusNotFound:
		return RemoteNotFound
	case status == http.StatusTooManyRequests:
		return RemoteRateLimit
	case status >= 500:
		return RemoteServer
	default:
		return RemoteInvalidRequest
	}
}
