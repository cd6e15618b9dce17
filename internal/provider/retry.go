package provider

import (
	"context"
	"fmt"
	"math"
	"time"
)

// maxBackoff caps a single retry wait regardless of attempt count.
const maxBackoff = 30 * time.Second

// withRetry runs fn with exponential backoff on retryable errors. A
// non-retryable error returns immediately; context cancellation aborts a
// pending backoff wait.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		backoff := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("max retries exceeded: %w", err)
}
