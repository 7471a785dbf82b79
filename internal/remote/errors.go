// Package remote is the shared HTTP layer under the Huly and Vibe clients:
// one pooled transport, one error taxonomy, one retry policy, one place
// that records per-call latency.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound marks a 404 on a point lookup. Clients translate it to a nil
// result; it never crosses a client boundary as an error.
var ErrNotFound = errors.New("remote: not found")

// Retryable HTTP statuses. Everything else 4xx/5xx is terminal.
var retryableStatus = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Error is the classified form of any transport or HTTP failure.
// Code is "HTTP_<status>", "NETWORK_ERROR", or "TIMEOUT".
type Error struct {
	Code      string
	Status    int // zero unless Code is HTTP_<status>
	Component string
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Component, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Component, e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify wraps a transport error or non-2xx status into an Error.
// status is zero for transport failures.
func Classify(component, op string, status int, err error) *Error {
	if status != 0 {
		return &Error{
			Code:      fmt.Sprintf("HTTP_%d", status),
			Status:    status,
			Component: component,
			Op:        op,
			Retryable: retryableStatus[status],
			Err:       err,
		}
	}

	code := "NETWORK_ERROR"
	if isTimeout(err) {
		code = "TIMEOUT"
	}
	return &Error{
		Code:      code,
		Component: component,
		Op:        op,
		Retryable: true, // network errors and timeouts always retry
		Err:       err,
	}
}

// IsRetryable reports whether err is a classified retryable failure.
func IsRetryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsNotFound reports whether err marks a missing resource.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var re *Error
	return errors.As(err, &re) && re.Status == 404
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
