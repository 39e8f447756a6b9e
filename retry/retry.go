// Package retry is the shared attempt-budget primitive for components that
// poll for something not there yet or call a flaky remote endpoint.
//
// Policies come from cenkalti/backoff; Do adds typed results and stops
// between attempts when the context ends.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Fixed returns a constant-interval policy with a total budget of attempts,
// the first attempt included.
func Fixed(attempts int, interval time.Duration) backoff.BackOff {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1))
}

// Exponential returns a doubling policy starting at base, with a total budget
// of attempts and no jitter, so tests can count sleeps deterministically.
func Exponential(attempts int, base time.Duration) backoff.BackOff {
	if attempts < 1 {
		attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0
	return backoff.WithMaxRetries(eb, uint64(attempts-1))
}

// Permanent marks err as non-retryable: Do stops immediately and returns the
// wrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, the budget runs out, the error is Permanent,
// or ctx ends. On success it returns the value from the final attempt; on
// failure the zero value accompanies the error.
func Do[T any](ctx context.Context, b backoff.BackOff, op func() (T, error)) (T, error) {
	var out T
	err := backoff.Retry(func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	}, backoff.WithContext(b, ctx))
	return out, err
}
