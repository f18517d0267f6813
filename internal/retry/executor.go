package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// Executor runs an operation until it succeeds, fails permanently, runs out
// of attempts, or its context ends.
//
// Executors are immutable; WithOnRetry returns a configured copy.
type Executor struct {
	classifier pgtally.ErrorClassifier
	strategy   pgtally.BackoffStrategy
	onRetry    func(attempt int, err error, delay time.Duration)
}

// NewExecutor creates an Executor. Panics if classifier or strategy is nil.
func NewExecutor(classifier pgtally.ErrorClassifier, strategy pgtally.BackoffStrategy) *Executor {
	if classifier == nil {
		panic("classifier cannot be nil")
	}
	if strategy == nil {
		panic("strategy cannot be nil")
	}
	return &Executor{classifier: classifier, strategy: strategy}
}

// WithOnRetry returns a copy of the executor that calls fn before each wait.
// attempt is 1-based.
func (e *Executor) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) *Executor {
	clone := *e
	clone.onRetry = fn
	return &clone
}

// Execute runs op, retrying transient failures.
// The last error is returned once retries are exhausted.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	limit := e.strategy.MaxAttempts()

	for retries := 0; ; retries++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !e.classifier.IsTransient(err) {
			return err
		}
		if limit >= 0 && retries >= limit {
			if retries == 0 {
				return err
			}
			return fmt.Errorf("giving up after %d attempts: %w", retries+1, err)
		}

		delay := e.strategy.NextDelay(retries)
		if e.onRetry != nil {
			e.onRetry(retries+1, err, delay)
		}

		if werr := wait(ctx, delay); werr != nil {
			return fmt.Errorf("%w (last error: %v)", werr, err)
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
