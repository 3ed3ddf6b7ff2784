package agenttesting

import (
	"fmt"
	"strings"
	"time"
)

const containerStartAttempts = 3

// startWithRetry retries container start up to 3 times for retryable errors.
func startWithRetry[T any](name string, start func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= containerStartAttempts; attempt++ {
		c, err := start()
		if err == nil {
			return c, nil
		}
		lastErr = err
		if !isRetryableContainerStartErr(err) || attempt == containerStartAttempts {
			break
		}
		time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
	}
	return zero, fmt.Errorf("failed to start %s container after retries: %w", name, lastErr)
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json") ||
		strings.Contains(s, "Get \"http://%2Fvar%2Frun%2Fdocker.sock")
}
