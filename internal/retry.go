package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrTransient marks a failure that is worth another attempt
var ErrTransient = errors.New("transient failure")

// RetryPolicy describes an exponential backoff schedule. Tries counts
// attempts, not retries.
type RetryPolicy struct {
	Tries   int           `yaml:"tries"`
	Delay   time.Duration `yaml:"delay"`
	Backoff float64       `yaml:"backoff"`
}

// DefaultRetryPolicy is used where no schedule is configured
var DefaultRetryPolicy = RetryPolicy{Tries: 4, Delay: 3 * time.Second, Backoff: 2}

// WithRetry runs action until it succeeds, returns a non-transient error or
// the policy is exhausted. Between attempts it sleeps Delay, then
// Delay*Backoff, and so on. The last result and error are returned as is.
func WithRetry[T any](ctx context.Context, clock Clock, policy RetryPolicy, action func(context.Context) (T, error)) (T, error) {
	return retry(ctx, clock, policy, action, func(_ T, err error) bool {
		return errors.Is(err, ErrTransient)
	})
}

// RetryUntil is the error-free variant: an attempt is repeated while it
// returns the zero value of T (an empty string, a nil pointer). Any error
// is treated as a failed attempt.
func RetryUntil[T comparable](ctx context.Context, clock Clock, policy RetryPolicy, action func(context.Context) (T, error)) (T, error) {
	var zero T
	return retry(ctx, clock, policy, action, func(res T, err error) bool {
		return err != nil || res == zero
	})
}

func retry[T any](ctx context.Context, clock Clock, policy RetryPolicy, action func(context.Context) (T, error), again func(T, error) bool) (T, error) {
	tries := policy.Tries
	if tries < 1 {
		tries = 1
	}
	delay := policy.Delay

	var res T
	var err error
	for attempt := 1; ; attempt++ {
		res, err = action(ctx)
		if !again(res, err) || attempt >= tries {
			return res, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		slog.Info("Retrying", "attempt", attempt, "delay", delay, "error", err)
		clock.Sleep(delay)
		if policy.Backoff > 0 {
			delay = time.Duration(float64(delay) * policy.Backoff)
		}
	}
}

// Safe runs action and reports any error or panic to onFault instead of
// letting it escape. It returns the fault so callers can decide whether to
// continue.
func Safe(action func() error, onFault func(error)) (fault error) {
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Errorf("panic: %v", r)
			reportFault(fault, onFault)
		}
	}()

	if err := action(); err != nil {
		reportFault(err, onFault)
		return err
	}
	return nil
}

func reportFault(err error, onFault func(error)) {
	slog.Error("Exception occurred while running safe action", "error", err)
	if onFault == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Fault handler failed", "error", fmt.Errorf("panic: %v", r), "original", err)
		}
	}()
	onFault(err)
}
