// Package retry repeats connection attempts that fail for transient reasons,
// waiting an exponentially growing, jittered delay between attempts.
//
// Only connection establishment is retried. Once a file transaction has
// started, any failure is final for that file.
//
// # Example Usage
//
//	executor := retry.NewExecutor(
//	    retry.NewConnectionClassifier(),
//	    retry.NewExponentialBackoff(3),
//	).WithOnRetry(func(attempt int, err error, delay time.Duration) {
//	    logger.Info("attempt %d failed: %v, retrying in %v", attempt, err, delay)
//	})
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return pool.Ping(ctx)
//	})
package retry
