package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy allows five attempts with 200ms doubling backoff capped at 1s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    time.Second,
	}
}

// exponential returns the unjittered, never-expiring schedule behind the policy.
func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// BackOff returns the schedule for one call: min(MaxDelay, BaseDelay *
// 2^(n-1)) after failed attempt n, then Stop once MaxAttempts have run.
func (p Policy) BackOff() backoff.BackOff {
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(p.exponential(), uint64(retries))
}

// Delay returns the wait after the given failed attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	b := p.exponential()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// RetryObserver is notified of every transient failure before the next attempt.
type RetryObserver func(operation string, kind ErrorKind, attempt int)

// Retrier executes persistence operations and retries the ones that fail
// with a transient ErrorKind. Wrapped operations must be idempotent or must
// re-check their own preconditions, because a retried write may already have
// committed.
type Retrier struct {
	policy   Policy
	logger   *zap.Logger
	observer RetryObserver
	timer    func() backoff.Timer
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithObserver registers a callback for transient failures (used for metrics).
func WithObserver(fn RetryObserver) RetrierOption {
	return func(r *Retrier) { r.observer = fn }
}

// NewRetrier creates a Retrier with the given policy.
func NewRetrier(policy Policy, logger *zap.Logger, opts ...RetrierOption) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	r := &Retrier{
		policy: policy,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the retry policy in effect.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// WithMaxAttempts returns a copy of the Retrier with a different attempt budget.
func (r *Retrier) WithMaxAttempts(n int) *Retrier {
	cp := *r
	if n < 1 {
		n = 1
	}
	cp.policy.MaxAttempts = n
	return &cp
}

// Exec runs op under the retry policy.
func (r *Retrier) Exec(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, r, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (r *Retrier) newTimer() backoff.Timer {
	if r.timer == nil {
		return nil
	}
	return r.timer()
}

// Do runs op at most MaxAttempts times. Permanent errors are returned on first
// occurrence; after the budget is spent, or when ctx ends during a backoff,
// the last error from op is returned unwrapped so callers can still classify
// it.
func Do[T any](ctx context.Context, r *Retrier, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempt := 0

	result, err := backoff.RetryNotifyWithTimerAndData(func() (T, error) {
		attempt++
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		kind := Classify(err)
		if !kind.Transient() {
			return zero, backoff.Permanent(err)
		}
		if r.observer != nil {
			r.observer(operation, kind, attempt)
		}
		return zero, err
	}, backoff.WithContext(r.policy.BackOff(), ctx), func(err error, next time.Duration) {
		r.logger.Warn("transient database error, retrying",
			zap.String("operation", operation),
			zap.String("kind", Classify(err).String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}, r.newTimer())

	if err == nil {
		if attempt > 1 {
			r.logger.Info("database operation recovered after retry",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
			)
		}
		return result, nil
	}
	if lastErr == nil || !IsTransient(lastErr) {
		return zero, err
	}

	r.logger.Error("database operation failed after retries",
		zap.String("operation", operation),
		zap.Int("attempts", attempt),
		zap.Error(lastErr),
	)
	return zero, lastErr
}
