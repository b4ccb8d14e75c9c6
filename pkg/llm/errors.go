package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNoChoices is returned (wrapped in a TransportError) when the backend
// answers 2xx but without any completion choice.
var ErrNoChoices = errors.New("no completion choices returned")

// TransportError reports a failed backend call: network failure, timeout,
// cancellation, non-2xx status or an unusable success body.
type TransportError struct {
	// Op names the failed operation, e.g. "chat completion"
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received
	StatusCode int

	Err error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call ran out of time.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Retryable reports whether repeating the same call may succeed: timeouts,
// connection failures, 429 and 5xx. Caller cancellation and other 4xx are final.
func (e *TransportError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if e.Timeout() {
		return true
	}
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == 0:
		return !errors.Is(e.Err, ErrNoChoices)
	default:
		return false
	}
}
