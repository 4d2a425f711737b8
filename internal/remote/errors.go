package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Error is a non-transport failure returned by the remote store: the request
// reached the server and was rejected with a status.
type Error struct {
	Status     int
	Collection string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s: http %d: %s", e.Collection, e.Status, e.Message)
}

// Transient reports whether retrying the same request later may succeed.
func (e *Error) Transient() bool {
	switch {
	case e.Status == http.StatusRequestTimeout:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	}
	return false
}

// networkPatterns is the last-resort substring heuristic for opaque error
// sources. Structured classification above takes precedence.
var networkPatterns = []string{
	"fetch",
	"network",
	"timeout",
	"econnrefused",
	"err_network",
	"failed to fetch",
	"connection refused",
	"connection reset",
	"no such host",
}

// IsTransient classifies an upsert failure. Transport errors and retryable
// statuses count as transient; anything else (validation, permission, schema)
// will not succeed on retry and must not poison the queue.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var re *Error
	if errors.As(err, &re) {
		return re.Transient()
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range networkPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
