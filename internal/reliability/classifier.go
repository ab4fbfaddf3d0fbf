package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// HTTPStatusError is returned by HTTP collaborators for non-2xx responses.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Failure classes reported by Classify.
const (
	ClassOK        = "ok"
	ClassCanceled  = "canceled"
	ClassNetwork   = "network"
	ClassRetryable = "retryable"
	ClassFatal     = "fatal"
)

// Classify maps an error from a polled endpoint to a failure class. Callers keep
// polling regardless; the class only picks the log level and metric label.
func Classify(err error) string {
	if err == nil {
		return ClassOK
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if IsRetryableHTTPStatus(statusErr.Code) {
			return ClassRetryable
		}
		return ClassFatal
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return ClassNetwork
	}
	return ClassFatal
}

// IsTransient reports whether the next attempt is likely to succeed unchanged.
func IsTransient(err error) bool {
	switch Classify(err) {
	case ClassNetwork, ClassRetryable:
		return true
	default:
		return false
	}
}

// FixedDelay is the reconnect schedule: every attempt waits the same base
// delay, with no growth and no cap on attempts.
func FixedDelay(_ int, base time.Duration) time.Duration {
	if base <= 0 {
		return 2 * time.Second
	}
	return base
}
