package panel

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrAlreadyAuthenticated = errors.New("panel: already logged in; log out first")
	ErrNotAuthenticated     = errors.New("panel: not logged in; log in first")
	ErrProtocol             = errors.New("panel: unexpected page content")
	ErrAuthFailed           = errors.New("panel: wrong credentials")
	ErrHTTPStatus           = errors.New("panel: unexpected HTTP status")
	ErrUnavailable          = errors.New("panel: host unreachable or transport failure")
	ErrTimeout              = errors.New("panel: request timed out")
	ErrInvalidArgument      = errors.New("panel: invalid argument")
	ErrPollerRunning        = errors.New("panel: update poller already running")
	ErrPollerNotRunning     = errors.New("panel: update poller not running")
	ErrRetryExhausted       = errors.New("panel: consecutive status fetch failures exceeded the retry bound")
)

// PanelError wraps the sentinel errors with the operation that failed and,
// where available, the HTTP status and raw response body. The body matters
// for protocol errors: connecting to the wrong host or port is the common
// cause, and the served page is the only diagnostic.
type PanelError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *PanelError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: server returned: %s", msg, e.Body)
	}
	return msg
}

func (e *PanelError) Unwrap() error {
	return e.Sentinel
}
