package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/peersync/internal/result"
)

// RetryPolicy bounds caller-side retries of lock timeouts. MaxTries counts
// the initial push.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns 5 tries starting at 50ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 5, InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

var errStillLocked = errors.New("resource still locked")

// RetryLockTimeouts pushes every change once, then re-pushes only the items
// whose outcome is LockTimeout, with exponential backoff. Other outcomes are
// never retried. The batch holds each item's final outcome in input order.
func RetryLockTimeouts(ctx context.Context, a *Adapter, changes []Change, policy RetryPolicy) result.Batch {
	outcomes := a.pushAll(ctx, changes)
	if policy.MaxTries <= 1 {
		return result.Flatten(outcomes)
	}

	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, o := range outcomes {
		if !o.Kind.Retryable() {
			continue
		}
		g.Go(func() error {
			last := o
			_, _ = backoff.Retry(ctx, func() (result.Outcome, error) {
				last = a.Push(ctx, changes[i])
				if last.Kind.Retryable() {
					return last, errStillLocked
				}
				return last, nil
			}, backoff.WithBackOff(policy.backOff()), backoff.WithMaxTries(policy.MaxTries-1))
			outcomes[i] = last
			return nil
		})
	}
	_ = g.Wait()
	return result.Flatten(outcomes)
}
