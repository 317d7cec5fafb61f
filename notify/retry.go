// Package notify provides engine.NotificationSink decorators and implementations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goliatone/go-workflow/engine"
)

// RetryStrategy decides the delay between delivery attempts.
type RetryStrategy interface {
	// SleepDuration returns how long to wait before the next attempt.
	// The attempt index starts at 0, incrementing after each failure.
	SleepDuration(attempt int, err error) time.Duration
}

// NoDelayStrategy retries immediately.
type NoDelayStrategy struct{}

// SleepDuration always returns zero.
func (NoDelayStrategy) SleepDuration(int, error) time.Duration { return 0 }

// ExponentialBackoffStrategy grows the delay by Factor on every attempt, capped at Max.
//
//	notify.NewRetryingSink(sink, notify.WithStrategy(notify.ExponentialBackoffStrategy{
//	    Base:   100 * time.Millisecond,
//	    Factor: 2,
//	    Max:    5 * time.Second,
//	}))
type ExponentialBackoffStrategy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// SleepDuration returns Base * Factor^attempt, never more than Max when Max is set.
func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(e.Base) * math.Pow(factor, float64(attempt))
	if e.Max > 0 && (delay > float64(e.Max) || math.IsInf(delay, 1)) {
		return e.Max
	}
	return time.Duration(delay)
}

const defaultMaxAttempts = 3

// RetryingSink redelivers a notification until the wrapped sink accepts it or the
// attempt budget runs out.
type RetryingSink struct {
	next        engine.NotificationSink
	maxAttempts int
	strategy    RetryStrategy
	retryable   func(error) bool
	logger      engine.Logger
}

// RetryOption configures a RetryingSink.
type RetryOption func(*RetryingSink)

// WithMaxAttempts bounds the total number of deliveries, first one included.
func WithMaxAttempts(n int) RetryOption {
	return func(s *RetryingSink) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithStrategy sets the backoff between attempts.
func WithStrategy(strategy RetryStrategy) RetryOption {
	return func(s *RetryingSink) {
		if strategy != nil {
			s.strategy = strategy
		}
	}
}

// WithRetryable limits retries to errors for which fn returns true.
func WithRetryable(fn func(error) bool) RetryOption {
	return func(s *RetryingSink) {
		if fn != nil {
			s.retryable = fn
		}
	}
}

// WithRetryLogger logs failed attempts.
func WithRetryLogger(logger engine.Logger) RetryOption {
	return func(s *RetryingSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRetryingSink wraps next. Defaults: three attempts, no delay, every error retried.
func NewRetryingSink(next engine.NotificationSink, opts ...RetryOption) *RetryingSink {
	s := &RetryingSink{
		next:        next,
		maxAttempts: defaultMaxAttempts,
		strategy:    NoDelayStrategy{},
		retryable:   func(error) bool { return true },
		logger:      engine.NopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Notify implements engine.NotificationSink.
func (s *RetryingSink) Notify(ctx context.Context, n engine.Notification) error {
	if s == nil || s.next == nil {
		return errors.New("retrying sink not configured")
	}
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err = s.next.Notify(ctx, n); err == nil {
			return nil
		}
		if ctx.Err() != nil || !s.retryable(err) {
			break
		}
		if attempt == s.maxAttempts-1 {
			break
		}
		s.logger.WithContext(ctx).Warn("notification %s for %s failed, attempt %d of %d: %v",
			n.Template, n.WorkflowID, attempt+1, s.maxAttempts, err)
		if werr := sleep(ctx, s.strategy.SleepDuration(attempt, err)); werr != nil {
			return errors.Join(err, werr)
		}
	}
	return fmt.Errorf("notification %s for %s failed after %d attempts: %w", n.Template, n.WorkflowID, s.maxAttempts, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
