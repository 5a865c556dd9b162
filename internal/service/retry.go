package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"media_syncer/internal/storage/postgres"
)

// retrier re-runs an operation on transient database contention with a
// deterministic doubling delay. Any other error stops it immediately.
type retrier struct {
	maxRetries int
	baseDelay  time.Duration
	transient  func(error) bool
}

func newRetrier(maxRetries int, baseDelay time.Duration) retrier {
	return retrier{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		transient:  postgres.IsTransient,
	}
}

// do returns the number of attempts made alongside the final error.
func (r retrier) do(ctx context.Context, op func() error) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxRetries)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil || r.transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	return attempts, err
}
