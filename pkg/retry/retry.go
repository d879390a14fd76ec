// Package retry runs an operation with capped exponential backoff until a
// total wait budget is spent.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Policy struct {
	// Base is the first delay; each attempt doubles it.
	Base time.Duration
	// Cap bounds a single delay.
	Cap time.Duration
	// MaxElapsed bounds the total time spent retrying. Zero means a single attempt.
	MaxElapsed time.Duration
	// Jitter randomizes each delay by up to this fraction either way.
	Jitter float64
}

// DefaultPolicy starts at 200ms and caps single delays at 5s.
func DefaultPolicy(maxElapsed time.Duration) Policy {
	return Policy{
		Base:       200 * time.Millisecond,
		Cap:        5 * time.Second,
		MaxElapsed: maxElapsed,
		Jitter:     0.2,
	}
}

// BackOff builds the exponential schedule of p.
func (p Policy) BackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: p.Jitter,
		Multiplier:          2,
		MaxInterval:         p.Cap,
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Hour
	}
	b.Reset()
	return b
}

// HintedError lets an error suggest its own delay, e.g. from a Retry-After header.
type HintedError interface {
	error
	RetryHint() time.Duration
}

// hinted prefers the delay suggested by the last error over the schedule.
type hinted struct {
	backoff.BackOff
	last *error
}

func (h hinted) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	var he HintedError
	if d != backoff.Stop && errors.As(*h.last, &he) && he.RetryHint() > 0 {
		return he.RetryHint()
	}
	return d
}

// Do calls fn until it succeeds, returns a non retryable error, the budget is
// spent or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(attempt int) error) error {
	var last error
	attempt := 0
	op := func() (struct{}, error) {
		err := fn(attempt)
		attempt++
		last = err
		if err != nil && (retryable == nil || !retryable(err)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(hinted{BackOff: p.BackOff(), last: &last})}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	} else {
		opts = append(opts, backoff.WithMaxTries(1))
	}
	if _, err := backoff.Retry(ctx, op, opts...); err != nil {
		if last != nil {
			return last
		}
		return err
	}
	return nil
}
