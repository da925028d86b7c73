package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("missing")

func fastPolicy(attempts int) Policy {
	return Policy{Interval: time.Millisecond, MaxAttempts: attempts}
}

func TestPollSucceedsEventually(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errMissing
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollGivesUpAfterCap(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), fastPolicy(4), func(context.Context) error {
		calls++
		return errMissing
	})
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.ErrorIs(t, err, errMissing)
	assert.Equal(t, 4, calls)
}

func TestPollPermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), fastPolicy(10), func(context.Context) error {
		calls++
		return Permanent(errMissing)
	})
	assert.ErrorIs(t, err, errMissing)
	assert.NotErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, 1, calls)
}

func TestPollCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Poll(ctx, Policy{Interval: 10 * time.Millisecond, MaxAttempts: 100}, func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errMissing
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 3)
}

func TestPollAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Poll(ctx, fastPolicy(3), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.normalized()
	assert.Equal(t, DefaultPolicy, p)
}
