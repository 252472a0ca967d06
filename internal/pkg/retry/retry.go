// Package retry re-runs whole units of work that lost a lock race.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

// DefaultAttempts is the total number of tries, including the first one.
const DefaultAttempts = 3

// Policy describes how often and how fast to retry.
type Policy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used by the HTTP handlers and the billing sync.
var DefaultPolicy = Policy{
	Attempts:        DefaultAttempts,
	InitialInterval: 25 * time.Millisecond,
	MaxInterval:     250 * time.Millisecond,
}

// Do runs fn until it succeeds, fails with an error that is not
// errs.ErrConflictRetryable, or the attempts are used up.
func Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return DefaultPolicy.Do(ctx, fn)
}

func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil || errs.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

// Value is Do for functions that also return a result.
func Value[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
