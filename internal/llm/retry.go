package llm

import (
	"context"
	"time"
)

// Retrier holds shared retry configuration for ModelClient implementations,
// grounded on the teacher's per-provider BaseProvider.Retry helper.
type Retrier struct {
	MaxRetries int
	RetryDelay time.Duration
}

// NewRetrier returns a Retrier with sane defaults when given zero values.
func NewRetrier(maxRetries int, retryDelay time.Duration) Retrier {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return Retrier{MaxRetries: maxRetries, RetryDelay: retryDelay}
}

// Do executes op, retrying with linear backoff while the error classifies
// as retryable and attempts remain.
func (r Retrier) Do(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if !ClassifyError(err).IsRetryable() || attempt >= r.MaxRetries {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.RetryDelay * time.Duration(attempt)):
			}
		}
	}
	return lastErr
}
