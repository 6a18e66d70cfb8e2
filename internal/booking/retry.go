package booking

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iliyamo/rail-ticketing/internal/repository"
)

// retryRead runs an idempotent read, retrying transient infrastructure
// errors with exponential backoff until maxElapsed.  Writes never go
// through here: a conditional update that timed out may have committed.
func retryRead[T any](ctx context.Context, maxElapsed time.Duration, op func(context.Context) (T, error)) (T, error) {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if maxElapsed > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 25 * time.Millisecond
		eb.MaxInterval = 500 * time.Millisecond
		eb.MaxElapsedTime = maxElapsed
		b = eb
	}
	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !repository.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(b, ctx))
}
