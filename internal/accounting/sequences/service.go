package sequences

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Service issues document codes such as CP-20251101003.
type Service struct {
	counter Counter
	retries int
	logger  *slog.Logger
}

// NewService constructs a generator; retries bounds attempts on conflicts.
func NewService(counter Counter, retries int, logger *slog.Logger) *Service {
	if retries < 1 {
		retries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{counter: counter, retries: retries, logger: logger}
}

// NextCode returns the next unused code for prefix on date.
func (s *Service) NextCode(ctx context.Context, prefix string, date time.Time, tenantID int64) (string, error) {
	key, err := NewKey(tenantID, prefix, date)
	if err != nil {
		return "", err
	}
	var code string
	err = shared.Retry(ctx, s.retries, func(attempt int) error {
		seq, err := s.counter.Increment(ctx, key)
		if err != nil {
			err = shared.StoreError(err)
			if shared.IsRetryable(err) {
				s.logger.Debug("sequence conflict", slog.String("stem", key.Stem()), slog.Int("attempt", attempt), slog.Any("error", err))
			}
			return err
		}
		code = Format(key, seq)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sequences: next %s: %w", key.Stem(), err)
	}
	return code, nil
}
