package shared

import (
	"context"
	"fmt"
)

// Retry runs fn up to attempts times while it fails with a conflict.
// Each attempt must recompute its contested values from the store.
func Retry(ctx context.Context, attempts int, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrStoreTimeout, ctxErr)
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
