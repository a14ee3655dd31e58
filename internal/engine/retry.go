package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/itemsync/internal/syncerr"
)

// RetryPolicy bounds the retries of one provider call. Only transient
// provider errors are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.MaxElapsedTime = 0
	b.Multiplier = 2

	attempts := max(p.MaxAttempts, 1)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do calls op until it succeeds, fails permanently or the attempts run out.
// ctx bounds the waits between attempts, not op itself: a cancelled run
// stops retrying but never interrupts a call in flight.
func (p RetryPolicy) Do(ctx context.Context, op func() error, notify func(err error, wait time.Duration)) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !syncerr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), notify)
}
