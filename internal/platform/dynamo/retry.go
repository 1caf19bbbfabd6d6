package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrRetriesExhausted = errors.New("dynamo: retries exhausted")

type retryable struct{ err error }

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// Retry marks err as worth another attempt inside Retrier.Do.
func Retry(err error) error {
	if err == nil {
		return nil
	}
	return &retryable{err: err}
}

// Retrier runs optimistic read-modify-write loops with jittered exponential backoff.
type Retrier struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRetrier(maxAttempts int, initial, max time.Duration) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if initial <= 0 {
		initial = 50 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	return &Retrier{MaxAttempts: maxAttempts, Initial: initial, Max: max, sleep: sleepCtx}
}

// WithSleep swaps the sleeper; tests use it to record delays without waiting.
func (r *Retrier) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Retrier {
	cp := *r
	cp.sleep = fn
	return &cp
}

// Do calls fn until it succeeds, returns an error not wrapped with Retry, the
// context ends, or MaxAttempts is reached. It returns the attempts used.
func (r *Retrier) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Initial
	b.MaxInterval = r.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()

	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		var re *retryable
		if !errors.As(err, &re) {
			return attempt, err
		}
		last = re.err
		if attempt == r.MaxAttempts {
			break
		}
		if err := sleep(ctx, b.NextBackOff()); err != nil {
			return attempt, err
		}
	}
	return r.MaxAttempts, fmt.Errorf("%w: %w", ErrRetriesExhausted, last)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
