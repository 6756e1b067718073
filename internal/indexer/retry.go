package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const maxBackoff = 30 * time.Second

// retryPolicy retries a chain call with doubling backoff, capped at maxBackoff.
type retryPolicy struct {
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

func newRetryPolicy(maxRetries int, backoff time.Duration, logger *zap.Logger) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return retryPolicy{maxRetries: maxRetries, backoff: backoff, logger: logger}
}

// do runs fn until it succeeds, the retries are spent or ctx is done. Each
// failure is logged with fields describing the call.
func (p retryPolicy) do(ctx context.Context, op string, fn func(context.Context) error, fields ...zap.Field) error {
	delay := p.backoff
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		p.logger.Warn(op+" failed", append(fields, zap.Int("attempt", attempt+1), zap.Error(err))...)
		if attempt >= p.maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if delay *= 2; delay > maxBackoff {
			delay = maxBackoff
		}
	}
}
