package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryableError marks a failure as transient. The proxy wraps network
// errors and retryable 5xx responses in it; everything else is final.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so the policy will retry it.
func Retryable(err error) error {
	return &RetryableError{Err: err}
}

func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Policy retries an outbound call a bounded number of times with
// exponential backoff and jitter.
type Policy struct {
	maxAttempts int
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func() time.Duration
}

type Option func(*Policy)

// WithSleep replaces the backoff wait, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleep = fn }
}

// WithJitter replaces the jitter source, for tests.
func WithJitter(fn func() time.Duration) Option {
	return func(p *Policy) { p.jitter = fn }
}

func New(maxAttempts int, logger *zap.Logger, opts ...Option) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Policy{
		maxAttempts: maxAttempts,
		logger:      logger,
		sleep:       sleepCtx,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(time.Second)))
		},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Do runs fn up to maxAttempts times. Only errors marked Retryable are
// retried; the wait between attempts aborts as soon as ctx is cancelled,
// so a disconnected client never holds a retry loop alive.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}

		if attempt == p.maxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		p.logger.Warn("retrying downstream call",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if werr := p.sleep(ctx, delay); werr != nil {
			return werr
		}
	}

	return err
}

// Backoff computes the delay after the given failed attempt: 2^attempt
// seconds plus up to a second of jitter, so a fleet of gateways does not
// hammer a recovering downstream in lockstep.
func (p *Policy) Backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt))*time.Second + p.jitter()
}

// sleepCtx waits without blocking a shared worker; the timer fires on its
// own goroutine and cancellation wins immediately.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
