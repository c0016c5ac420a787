package shared

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// StoreError tags store failures that a retry can resolve.
func StoreError(err error) error {
	if err == nil {
		return nil
	}
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	}
	return err
}
