// Package retry re-runs operations that failed with a transient storage
// error.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wfunc/wordquiz/config"
	"github.com/wfunc/wordquiz/gameerr"
)

// Policy bounds how often and how slowly an operation is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy matches the configuration defaults.
var DefaultPolicy = Policy{MaxAttempts: 4, InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second}

// FromConfig builds a Policy out of the retry section.
func FromConfig(c config.RetryConfig) Policy {
	return Policy{MaxAttempts: c.MaxAttempts, InitialInterval: c.InitialInterval, MaxInterval: c.MaxInterval}
}

// OnRetry is called before each retry; monitor hooks in here.
type OnRetry func(err error, wait time.Duration)

// Do runs op until it succeeds, fails with a non-transient error, the
// attempts are exhausted or ctx ends. Only errors matching
// gameerr.ErrTransient are retried.
func Do(ctx context.Context, p Policy, op func() error, notify ...OnRetry) error {
	if p.MaxAttempts <= 1 {
		return op()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	wrapped := func() error {
		err := op()
		if err == nil || errors.Is(err, gameerr.ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}

	var onRetry backoff.Notify
	if len(notify) > 0 {
		onRetry = func(err error, d time.Duration) {
			for _, n := range notify {
				n(err, d)
			}
		}
	}

	err := backoff.RetryNotify(wrapped, b, onRetry)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func() (T, error), notify ...OnRetry) (T, error) {
	var out T
	err := Do(ctx, p, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	}, notify...)
	return out, err
}
