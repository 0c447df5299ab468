package sync

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/qaops/railsync/pkg/testrail"
)

// retryTransient runs fn, retrying transient remote failures with
// exponential backoff a bounded number of times. Anything else fails
// immediately.
func retryTransient(ctx context.Context, retries int, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond

	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}

		var apiErr *testrail.APIError
		if errors.As(err, &apiErr) && apiErr.Transient() {
			return err
		}

		return backoff.Permanent(err)
	}

	if retries < 0 {
		retries = 0
	}

	return backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(retries)), ctx,
	))
}
