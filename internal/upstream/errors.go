package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds.  Every error returned by Client wraps exactly one of them.
var (
	// ErrTransient is a network failure, timeout or 5xx.  Retrying on an
	// explicit user action may succeed.
	ErrTransient = errors.New("upstream unavailable")
	// ErrValidation is a rejected request: malformed code, missing table.
	ErrValidation = errors.New("upstream rejected request")
	// ErrConflict means the table is no longer available.  The caller must
	// recompute availability against fresh data instead of retrying.
	ErrConflict = errors.New("table no longer available")
	// ErrUnauthorized means the bearer credential is missing or refused.
	ErrUnauthorized = errors.New("upstream unauthorized")
	// ErrNotFound means the addressed reservation or payment does not exist.
	ErrNotFound = errors.New("upstream resource not found")
)

// Error carries the HTTP status and server message of a failed call.
type Error struct {
	Kind    error
	Status  int
	Message string
	Op      string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %v (%d): %s", e.Op, e.Kind, e.Status, e.Message)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %v (%d)", e.Op, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Kind }

// kindFor maps an HTTP status to an error kind.
func kindFor(status int) error {
	switch {
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		return ErrTransient
	default:
		return ErrValidation
	}
}

// Message extracts the server-supplied message from err, if any.
func Message(err error) string {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Message
	}
	return ""
}
