package sticker

import (
	"context"
	"time"
)

// RetryPolicy bounds a retried operation.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// DefaultRetryPolicy is three attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Retry runs fn until it succeeds or policy.MaxAttempts attempts have failed,
// waiting policy.Delay between attempts (never after the last one). fn
// signals an empty result by returning ErrEmptyResult. On exhaustion the last
// cause is returned inside a *RetryExhaustedError.
func Retry[T any](ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.normalized()

	var zero T
	var last error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &RetryExhaustedError{Op: op, Attempts: attempt - 1, Last: err}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		last = err

		if attempt == policy.MaxAttempts {
			break
		}
		if policy.Delay > 0 {
			timer := time.NewTimer(policy.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, &RetryExhaustedError{Op: op, Attempts: attempt, Last: ctx.Err()}
			case <-timer.C:
			}
		}
	}
	return zero, &RetryExhaustedError{Op: op, Attempts: policy.MaxAttempts, Last: last}
}
