package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
)

// withRetry runs op until it succeeds, returns a non-retryable error, the
// attempt limit is reached or ctx is done. It returns the number of
// attempts made.
func withRetry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) (int, error) {
	log := logger.FromContext(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = 0

	var policy backoff.BackOff = backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
	policy = backoff.WithContext(policy, ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		if err := op(ctx); err != nil {
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, policy, func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", wait).Msg("Sink write failed, retrying")
	})
	return attempts, err
}
