package mappings

import (
	"context"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Service resolves module keys such as SALES/REVENUE to ledger accounts.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Resolve returns the account code mapped to module/key.
func (s *Service) Resolve(ctx context.Context, tenantID int64, module, key string) (string, error) {
	if module == "" || key == "" {
		return "", &shared.InvalidInputError{Fields: map[string]string{"module": "required", "key": "required"}}
	}
	m, err := s.repo.Get(ctx, tenantID, strings.ToUpper(module), key)
	if err != nil {
		return "", err
	}
	return m.AccountCode, nil
}

// List returns the tenant's mappings, optionally for a single module.
func (s *Service) List(ctx context.Context, tenantID int64, module string) ([]AccountMapping, error) {
	return s.repo.List(ctx, tenantID, strings.ToUpper(module))
}

// Upsert binds module/key to an existing account.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (AccountMapping, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return AccountMapping{}, err
	}
	m, err := s.repo.Upsert(ctx, AccountMapping{
		TenantID:    in.TenantID,
		Module:      strings.ToUpper(in.Module),
		Key:         in.Key,
		AccountCode: in.AccountCode,
	})
	if err != nil {
		return AccountMapping{}, err
	}
	s.logger.Info("account mapping saved",
		slog.Int64("tenant_id", m.TenantID),
		slog.String("module", m.Module),
		slog.String("key", m.Key),
		slog.String("account", m.AccountCode))
	return m, nil
}
