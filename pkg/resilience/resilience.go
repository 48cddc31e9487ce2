package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/angelmondragon/shopbot-backend/pkg/config"
)

// ErrTimeout is returned by WithTimeout when the deadline fires before the
// wrapped call returns.
var ErrTimeout = errors.New("operation timed out")

// Policy controls Retry. MaxRetries counts retries after the first attempt.
type Policy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	AttemptTimeout time.Duration

	// OnRetry is called before each wait with the failed attempt number.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2,
		AttemptTimeout: 10 * time.Second,
	}
}

func PolicyFromConfig(cfg config.ResilienceConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxRetries >= 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.BackoffFactor >= 1 {
		p.BackoffFactor = cfg.BackoffFactor
	}
	if cfg.AttemptTimeout > 0 {
		p.AttemptTimeout = cfg.AttemptTimeout
	}
	return p
}

type temporary interface {
	Temporary() bool
}

type retryAfter interface {
	RetryAfter() time.Duration
}

// Retry runs fn up to 1+MaxRetries times with exponential backoff and returns
// the last error on exhaustion. Errors reporting Temporary() == false stop
// immediately; errors reporting RetryAfter() wait exactly that long, or stop
// when the requested wait exceeds MaxDelay. Each attempt is bounded by
// AttemptTimeout when set.
func Retry[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		last    error
		attempt int
	)
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}

	op := func() (T, error) {
		attempt++
		val, err := WithTimeout(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return val, nil
		}
		last = err
		if ctx.Err() != nil {
			return zero, backoff.Permanent(err)
		}

		var tmp temporary
		if errors.As(err, &tmp) && !tmp.Temporary() {
			return zero, backoff.Permanent(err)
		}
		var ra retryAfter
		if errors.As(err, &ra) && ra.RetryAfter() > 0 {
			if p.MaxDelay > 0 && ra.RetryAfter() > p.MaxDelay {
				return zero, backoff.Permanent(err)
			}
			return zero, &backoff.RetryAfterError{Duration: ra.RetryAfter()}
		}
		return zero, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     p.InitialDelay,
			RandomizationFactor: 0,
			Multiplier:          p.BackoffFactor,
			MaxInterval:         p.MaxDelay,
		}),
		backoff.WithMaxTries(uint(p.MaxRetries + 1)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(_ error, wait time.Duration) {
			p.OnRetry(attempt, last, wait)
		}))
	}

	val, err := backoff.Retry(ctx, op, opts...)
	if err == nil {
		return val, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if last != nil {
			return zero, fmt.Errorf("%w: last attempt: %v", ctxErr, last)
		}
		return zero, ctxErr
	}
	if last != nil {
		return zero, last
	}
	return zero, err
}

// WithTimeout races fn against d. Expiry yields an error matching ErrTimeout;
// cancellation of the parent ctx yields the parent's error. d <= 0 disables
// the bound.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn(tctx)
		done <- result{val: val, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return res.val, fmt.Errorf("%w after %s: %w", ErrTimeout, d, res.err)
		}
		return res.val, res.err
	case <-tctx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	}
}
