package format

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Breaker remembers backends that recently failed transiently.
type Breaker interface {
	IsOpen(ctx context.Context, provider, model string) bool
	Open(ctx context.Context, provider, model string)
	Close(ctx context.Context, provider, model string)
}

// IsTransient reports whether err is worth cooling a backend down for:
// rate limits, timeouts, 5xx and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "eof")
}
