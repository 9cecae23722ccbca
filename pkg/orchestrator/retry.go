package orchestrator

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultBackoff is used for orchestrator reads
var DefaultBackoff = wait.Backoff{
	Steps:    5,
	Duration: 200 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
	Cap:      5 * time.Second,
}

// DefaultTimeout bounds a single orchestrator call
const DefaultTimeout = 10 * time.Second

// RetryPolicy bounds each call with Timeout and retries transient failures
// following Backoff
type RetryPolicy struct {
	Backoff wait.Backoff
	Timeout time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Backoff: DefaultBackoff, Timeout: DefaultTimeout}
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// backoff is exhausted. The last error from fn is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, p.Backoff, func(ctx context.Context) (bool, error) {
		lastErr = p.Once(ctx, fn)
		switch {
		case lastErr == nil:
			return true, nil
		case IsTransient(lastErr) && ctx.Err() == nil:
			return false, nil
		default:
			return false, lastErr
		}
	})
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}

// Once runs fn a single time under the call timeout
func (p RetryPolicy) Once(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(ctx)
}
