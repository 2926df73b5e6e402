package ai

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrInvalidMaxAttempts is returned when RetryWithBackoff is called with maxAttempts < 1.
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be at least 1")

// RetryWithBackoff runs op up to maxAttempts times. Only errors classified as
// retryable by IsRetryable trigger another attempt; the delay before attempt
// n+1 is baseDelay * 2^(n-1). The last error is returned when attempts run out
// or when ctx's deadline would expire before the next attempt could start.
func RetryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				log.Debug().Int("attempt", attempt).Msg("embedding call succeeded after retry")
			}
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := BackoffDelay(baseDelay, attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= delay {
			log.Debug().Err(lastErr).Int("attempt", attempt).Msg("no time left for another embedding attempt")
			break
		}
		log.Debug().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).Msg("embedding call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// BackoffDelay returns the wait after the given (1-based) failed attempt.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
