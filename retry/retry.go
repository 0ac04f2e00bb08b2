// Package retry holds the explicit retry policies composed around outbound
// calls (bus publishes, archive I/O, reference resolution).
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
}

// WithMaxAttempts overrides the attempt budget when n is positive.
func (p Policy) WithMaxAttempts(n int) Policy {
	if n > 0 {
		p.MaxAttempts = n
	}
	return p
}

func Default() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		AttemptTimeout:  10 * time.Second,
	}
}

func (p Policy) orDefault() Policy {
	def := Default()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	return p
}

// Do runs op until it succeeds, returns a permanent error, or the policy's
// attempts are exhausted. Backoff between attempts is exponential.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.orDefault()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	var bo backoff.BackOff = backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
	bo = backoff.WithContext(bo, ctx)
	return backoff.Retry(func() error {
		return p.attempt(ctx, op)
	}, bo)
}

func (p Policy) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()
	}
	return op(ctx)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
