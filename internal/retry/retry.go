// Package retry provides the single retry policy applied at the record-store
// and population-query boundaries.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
)

// Policy describes how a boundary call is retried.
type Policy struct {
	MaxAttempts uint          // Total attempts including the first (default: 3)
	BaseDelay   time.Duration // First backoff interval (default: 100ms)
	MaxDelay    time.Duration // Upper bound of a single backoff interval (default: 2s)
	Multiplier  float64       // Exponential growth factor (default: 2)
	Timeout     time.Duration // Overall budget across all attempts (default: 10s)
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2,
		Timeout:     10 * time.Second,
	}
}

// NoRetry returns a policy that performs exactly one attempt.
func NoRetry() Policy {
	p := DefaultPolicy()
	p.MaxAttempts = 1
	return p
}

// Once returns p limited to a single attempt. The timeout still applies.
// Writes that are not idempotent use it.
func (p Policy) Once() Policy {
	p.MaxAttempts = 1
	return p
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	return p
}

// Do runs op under the policy. Errors that can never succeed on retry
// (validation, not found, cancellation) are returned immediately.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithMaxElapsedTime(p.Timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("retrying boundary call",
				"operation", name,
				"attempt", attempt,
				"next_delay", next,
				"error", err,
			)
		}),
	)
}

// Exec is Do for operations without a result value.
func Exec(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch engineerrors.GetCodeFromError(err, "") {
	case engineerrors.ErrCodeInvalidArgument,
		engineerrors.ErrCodeNotFound,
		engineerrors.ErrCodeFailedPrecondition,
		engineerrors.ErrCodeConfiguration,
		engineerrors.ErrCodeBudgetExceeded,
		engineerrors.ErrCodeNoClearWinner:
		return false
	}
	return true
}
