package tts

import (
	"context"
	"fmt"
	"time"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

const (
	opRetry                 = "retry"
	msgFmtTimedOutAttempts  = "API timed out after %d attempts"
	msgFmtFailedAttempts    = "API failed after %d attempts"
	msgCancelledBeforeRetry = "cancelled while waiting to retry"
	msgCancelledBeforeCall  = "cancelled before provider call"
)

type retryState int

const (
	stateAttempting retryState = iota
	stateBackoff
	stateSuccess
	stateFatal
	stateExhausted
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy drives a provider call through bounded attempts with
// exponential backoff. The delay after the zero-indexed failed attempt n is
// BaseDelay * 2^n.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       SleepFunc
	// OnRetry is called before each backoff with the 1-based attempt that
	// just failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns a policy with three attempts and a one second base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Sleep:       sleepContext,
		OnRetry:     nil,
	}
}

// Delay returns the backoff after the zero-indexed failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay << uint(attempt)
}

// Execute runs call until it succeeds, fails with a non-retryable error or
// runs out of attempts. It returns the number of calls made.
//
// Exhausted retries yield an *Error keeping the kind of the last failure;
// when that failure was a timeout the message reports a timeout.
func (p RetryPolicy) Execute(ctx context.Context, call func(ctx context.Context, attempt int) error) (int, error) {
	policy := p.withDefaults()

	var lastErr error

	attempts := 0
	state := stateAttempting

	for {
		switch state {
		case stateAttempting:
			ctxErr := ctx.Err()
			if ctxErr != nil {
				return attempts, WrapError(KindCancelled, opRetry, msgCancelledBeforeCall, ctxErr)
			}

			lastErr = call(ctx, attempts)
			attempts++
			state = policy.next(lastErr, attempts)

		case stateBackoff:
			delay := policy.Delay(attempts - 1)
			if policy.OnRetry != nil {
				policy.OnRetry(attempts, delay, lastErr)
			}

			sleepErr := policy.Sleep(ctx, delay)
			if sleepErr != nil {
				return attempts, WrapError(KindCancelled, opRetry, msgCancelledBeforeRetry, sleepErr)
			}

			state = stateAttempting

		case stateSuccess:
			return attempts, nil

		case stateFatal:
			return attempts, lastErr

		case stateExhausted:
			return attempts, exhaustedError(lastErr, attempts)
		}
	}
}

func (p RetryPolicy) next(err error, attempts int) retryState {
	switch {
	case err == nil:
		return stateSuccess
	case !IsRetryable(err):
		return stateFatal
	case attempts >= p.MaxAttempts:
		return stateExhausted
	default:
		return stateBackoff
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}

	if p.Sleep == nil {
		p.Sleep = sleepContext
	}

	return p
}

func exhaustedError(last error, attempts int) *Error {
	kind := KindOf(last)

	message := fmt.Sprintf(msgFmtFailedAttempts, attempts)
	if kind == KindTimeout {
		message = fmt.Sprintf(msgFmtTimedOutAttempts, attempts)
	}

	return &Error{
		Kind:     kind,
		Op:       opRetry,
		Message:  message,
		Attempts: attempts,
		Cause:    last,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
