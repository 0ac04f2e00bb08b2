package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}
}

func TestPolicy_Do(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var calls int
		err := fastPolicy(3).Do(ctx, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})
	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls int
		boom := errors.New("boom")
		err := fastPolicy(3).Do(ctx, func(ctx context.Context) error {
			calls++
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})
	t.Run("permanent error stops immediately", func(t *testing.T) {
		var calls int
		boom := errors.New("bad request")
		err := fastPolicy(5).Do(ctx, func(ctx context.Context) error {
			calls++
			return Permanent(boom)
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})
	t.Run("cancelled context stops retrying", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		var calls int
		err := fastPolicy(100).Do(cctx, func(ctx context.Context) error {
			calls++
			cancel()
			return errors.New("transient")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
	t.Run("attempt timeout bounds each call", func(t *testing.T) {
		p := fastPolicy(2)
		p.AttemptTimeout = 10 * time.Millisecond
		var deadlineSet bool
		err := p.Do(ctx, func(ctx context.Context) error {
			_, deadlineSet = ctx.Deadline()
			return nil
		})
		require.NoError(t, err)
		assert.True(t, deadlineSet)
	})
}

func TestPolicy_WithMaxAttempts(t *testing.T) {
	p := Default().WithMaxAttempts(7)
	assert.Equal(t, 7, p.MaxAttempts)
	// non-positive keeps the existing budget
	assert.Equal(t, 7, p.WithMaxAttempts(0).MaxAttempts)
	assert.Equal(t, 7, p.WithMaxAttempts(-1).MaxAttempts)
}

func TestPolicy_ZeroValueUsesDefaults(t *testing.T) {
	var calls int
	err := Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, Default().MaxAttempts, calls)
}
