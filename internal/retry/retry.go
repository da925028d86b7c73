// Package retry polls for resources that appear asynchronously, such as a
// host container that has not been published yet.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrGaveUp is returned when every attempt failed.
var ErrGaveUp = errors.New("retry: gave up")

// Policy bounds a poll loop.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPolicy polls every 200ms for up to 25 attempts.
var DefaultPolicy = Policy{Interval: 200 * time.Millisecond, MaxAttempts: 25}

func (p Policy) normalized() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultPolicy.Interval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	return p
}

// Permanent wraps err so Poll stops immediately and returns it unchanged.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Poll calls fn until it succeeds, returns a Permanent error, the attempt cap
// is reached, or ctx is cancelled. After the cap the result wraps both
// ErrGaveUp and the last error. On cancellation ctx.Err() is returned.
func Poll(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.MaxAttempts-1)),
		ctx,
	)

	var last error
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		last = fn(ctx)
		return last
	}, b)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var perm *backoff.PermanentError
	if errors.As(last, &perm) {
		return perm.Err
	}
	if last != nil && errors.Is(err, last) {
		return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, p.MaxAttempts, last)
	}
	return err
}
