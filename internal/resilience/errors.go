// Package resilience wraps outbound calls to remote endpoints with timeout,
// retry-with-backoff, and per-endpoint circuit breaking.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned without a network attempt while an endpoint's
// breaker is open and its cool-down has not elapsed.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// ClientError marks a 4xx-equivalent failure: the request itself is wrong,
// so retrying is pointless and the error surfaces to the caller.
type ClientError struct {
	StatusCode int
	Err        error
}

func (e *ClientError) Error() string { return e.Err.Error() }
func (e *ClientError) Unwrap() error { return e.Err }

// NewClientError wraps err as a terminal caller error.
func NewClientError(err error, statusCode int) *ClientError {
	return &ClientError{StatusCode: statusCode, Err: err}
}

// TransientError marks a failure that is safe to retry: network trouble,
// timeouts, 429s and 5xx responses.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{StatusCode: statusCode, Err: err}
}

// IsClientError reports whether the chain contains a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is safe to retry. Explicit TransientErrors,
// timeouts, and common network failures qualify; ClientErrors and open
// circuits never do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || IsClientError(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// A timed-out call is a failure like any other.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped HTTP client errors lose their type; fall back to message
	// patterns.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// ClassifyHTTPStatus converts an HTTP status code into the matching typed
// error around err. Informational/2xx codes return err unchanged.
func ClassifyHTTPStatus(err error, statusCode int) error {
	switch {
	case statusCode == 408 || statusCode == 429 || statusCode >= 500:
		return NewTransientError(err, statusCode)
	case statusCode >= 400:
		return NewClientError(err, statusCode)
	default:
		return err
	}
}
