package providers

import (
	"context"
	"errors"
	"net"
	"strings"
)

// isRetryable reports whether a provider error is worth retrying.
// Rate limits, overload, and transient network failures qualify;
// auth and validation failures do not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable",
		"connection refused", "connection reset", "timeout", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
