// Package retry runs operations with exponential backoff and jitter.
// It is used for transactions that can lose an optimistic-lock race, for
// contended session locks and for event handlers.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// PermanentError stops retrying immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so it is returned without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

type settings struct {
	attempts   int
	initial    time.Duration
	ceiling    time.Duration
	multiplier float64
	jitter     float64
	retryIf    func(error) bool
	onRetry    func(attempt int, err error, delay time.Duration)
}

// Option configures a Retrier.
type Option func(*settings)

// WithMaxAttempts sets the number of attempts, the first one included.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.initial = d
		}
	}
}

// WithMaxDelay caps the delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.ceiling = d
		}
	}
}

// WithJitter spreads each delay by up to ±j of itself; j is in [0,1].
func WithJitter(j float64) Option {
	return func(s *settings) {
		if j >= 0 && j <= 1 {
			s.jitter = j
		}
	}
}

// WithRetryIf limits retries to errors fn accepts. Without it every error
// that is not Permanent is retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(s *settings) { s.retryIf = fn }
}

// WithOnRetry runs fn before each sleep.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(s *settings) { s.onRetry = fn }
}

// Retrier runs operations under one backoff policy.
type Retrier struct {
	s settings
}

// New creates a Retrier: three attempts starting at 100ms, doubling.
func New(opts ...Option) *Retrier {
	s := settings{
		attempts:   3,
		initial:    100 * time.Millisecond,
		ceiling:    30 * time.Second,
		multiplier: 2,
		jitter:     0.1,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Retrier{s: s}
}

// Do runs op until it succeeds, fails with an error that is not retried, or
// the attempts run out. A Permanent wrapper is removed from the result.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		var p *PermanentError
		if errors.As(err, &p) {
			return p.Err
		}
		last = err

		if attempt >= r.s.attempts || (r.s.retryIf != nil && !r.s.retryIf(err)) {
			return last
		}

		delay := r.backoff(attempt)
		if r.s.onRetry != nil {
			r.s.onRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}

// backoff is initial*multiplier^(attempt-1), capped, then jittered.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := math.Min(float64(r.s.initial)*math.Pow(r.s.multiplier, float64(attempt-1)), float64(r.s.ceiling))
	if r.s.jitter > 0 {
		d += d * r.s.jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// Do creates a Retrier from opts and runs op.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// ConflictRetrier re-runs a whole read-modify-write transaction when
// isConflict reports a lost race. Other errors are returned at once.
func ConflictRetrier(isConflict func(error) bool, opts ...Option) *Retrier {
	return New(append([]Option{
		WithMaxAttempts(4),
		WithInitialDelay(20 * time.Millisecond),
		WithMaxDelay(500 * time.Millisecond),
		WithJitter(0.3),
		WithRetryIf(isConflict),
	}, opts...)...)
}
