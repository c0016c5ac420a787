package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Invalidator drops balance projections after the chart changes shape.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID int64) error
}

// Service owns the canonical, de-duplicated chart of accounts.
type Service struct {
	repo        Repository
	logger      *slog.Logger
	invalidator Invalidator
}

// NewService constructs the registry.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// WithInvalidator registers the balance projection to drop after merges.
func (s *Service) WithInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// Tenants lists every tenant known to the store.
func (s *Service) Tenants(ctx context.Context) ([]int64, error) {
	return s.repo.ListTenants(ctx)
}

// List returns the tenant's chart ordered by code.
func (s *Service) List(ctx context.Context, tenantID int64) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.List(ctx, tenantID)
		return err
	})
	return accounts, err
}

// Get loads a single account by code.
func (s *Service) Get(ctx context.Context, tenantID int64, code string) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetByCode(ctx, tenantID, code)
		return err
	})
	return account, err
}

// EnsureSystemAccounts creates or repairs every system account. It is safe to
// call repeatedly and concurrently with normal traffic.
func (s *Service) EnsureSystemAccounts(ctx context.Context, tenantID int64) (int, error) {
	changed := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		changed = 0
		if err := tx.LockTenant(ctx, tenantID); err != nil {
			return err
		}
		for _, def := range SystemAccounts {
			want := def.account(tenantID)
			current, err := tx.GetByCode(ctx, tenantID, def.Code)
			if errors.Is(err, shared.ErrAccountNotFound) {
				want.ParentID = lookupParent(ctx, tx, tenantID, def.ParentCode)
				if _, err := tx.Insert(ctx, want); err != nil {
					return fmt.Errorf("insert system account %s: %w", def.Code, err)
				}
				changed++
				continue
			}
			if err != nil {
				return err
			}
			if matchesDefinition(current, want) {
				continue
			}
			current.Name = want.Name
			current.Type = want.Type
			current.Category = want.Category
			current.NormalBalance = want.NormalBalance
			current.IsSystem = true
			current.IsActive = true
			current.AllowDirectPosting = true
			if err := tx.Update(ctx, current); err != nil {
				return fmt.Errorf("repair system account %s: %w", def.Code, err)
			}
			s.logger.Warn("system account repaired", slog.Int64("tenant_id", tenantID), slog.String("code", def.Code))
			changed++
		}
		return nil
	})
	if err == nil && changed > 0 {
		s.invalidate(ctx, tenantID)
	}
	return changed, err
}

// SeedDefaultAccounts inserts the default chart without overwriting existing
// codes and links parents that are still missing.
func (s *Service) SeedDefaultAccounts(ctx context.Context, tenantID int64) (int, error) {
	inserted := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted = 0
		if err := tx.LockTenant(ctx, tenantID); err != nil {
			return err
		}
		existing, err := tx.List(ctx, tenantID)
		if err != nil {
			return err
		}
		byCode := make(map[string]Account, len(existing))
		for _, acc := range existing {
			byCode[acc.Code] = acc
		}
		for _, def := range DefaultChart {
			if _, ok := byCode[def.Code]; ok {
				continue
			}
			acc := def.account(tenantID)
			if parent, ok := byCode[def.ParentCode]; ok {
				acc.ParentID = &parent.ID
			}
			created, err := tx.Insert(ctx, acc)
			if err != nil {
				return fmt.Errorf("seed account %s: %w", def.Code, err)
			}
			byCode[created.Code] = created
			inserted++
		}
		index := definitionIndex()
		for _, acc := range byCode {
			def, ok := index[acc.Code]
			if !ok || acc.ParentID != nil || def.ParentCode == "" {
				continue
			}
			parent, ok := byCode[def.ParentCode]
			if !ok {
				continue
			}
			acc.ParentID = &parent.ID
			if err := tx.Update(ctx, acc); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil && inserted > 0 {
		s.invalidate(ctx, tenantID)
	}
	return inserted, err
}

// ResolveDuplicates merges accounts sharing type and normalised name into a
// primary. Each duplicate is merged in its own transaction so an interrupted
// run can simply be repeated.
func (s *Service) ResolveDuplicates(ctx context.Context, tenantID int64) (MergeReport, error) {
	var report MergeReport
	accounts, err := s.List(ctx, tenantID)
	if err != nil {
		return report, err
	}
	groups := DuplicateGroups(accounts)
	report.Groups = len(groups)
	for _, group := range groups {
		primary := group[0]
		for _, dup := range group[1:] {
			if dup.IsSystem {
				s.logger.Warn("duplicate system account left in place",
					slog.Int64("tenant_id", tenantID), slog.String("primary", primary.Code), slog.String("duplicate", dup.Code))
				report.Skipped = append(report.Skipped, dup.Code)
				continue
			}
			merge, err := s.mergeOne(ctx, tenantID, primary.ID, dup.ID)
			if errors.Is(err, shared.ErrAccountNotFound) {
				continue
			}
			if err != nil {
				return report, fmt.Errorf("merge %s into %s: %w", dup.Code, primary.Code, err)
			}
			report.Merges = append(report.Merges, merge)
			s.logger.Info("duplicate account merged",
				slog.Int64("tenant_id", tenantID),
				slog.String("primary", merge.PrimaryCode),
				slog.String("removed", merge.RemovedCode),
				slog.Int64("reassigned", merge.Reassigned))
		}
	}
	if len(report.Merges) > 0 {
		s.invalidate(ctx, tenantID)
	}
	return report, nil
}

func (s *Service) mergeOne(ctx context.Context, tenantID, primaryID, dupID int64) (Merge, error) {
	var merge Merge
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockTenant(ctx, tenantID); err != nil {
			return err
		}
		dup, err := tx.GetByID(ctx, dupID)
		if err != nil {
			return err
		}
		primary, err := tx.GetByID(ctx, primaryID)
		if err != nil {
			return err
		}
		if duplicateKey(dup) != duplicateKey(primary) {
			// Renamed since the scan; no longer a duplicate.
			return shared.ErrAccountNotFound
		}
		moved, err := tx.ReassignReferences(ctx, dup, primary)
		if err != nil {
			return err
		}
		if dup.IsActive && !primary.IsActive {
			primary.IsActive = true
			if err := tx.Update(ctx, primary); err != nil {
				return err
			}
		}
		if err := tx.Delete(ctx, dup.ID); err != nil {
			return err
		}
		merge = Merge{
			PrimaryID:   primary.ID,
			PrimaryCode: primary.Code,
			RemovedID:   dup.ID,
			RemovedCode: dup.Code,
			Reassigned:  moved,
		}
		return nil
	})
	return merge, err
}

// Create adds a tenant defined account.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Account{}, err
	}
	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		acc := Account{
			TenantID:           in.TenantID,
			Code:               in.Code,
			Name:               in.Name,
			Type:               in.Type,
			Category:           in.Category,
			NormalBalance:      in.Type.NormalBalance(),
			IsActive:           true,
			AllowDirectPosting: !in.Header,
		}
		if in.ParentCode != "" {
			parent, err := tx.GetByCode(ctx, in.TenantID, in.ParentCode)
			if err != nil {
				return err
			}
			if parent.Type != in.Type {
				return &shared.InvalidInputError{Fields: map[string]string{"parentcode": "type mismatch"}}
			}
			acc.ParentID = &parent.ID
		}
		var err error
		created, err = tx.Insert(ctx, acc)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.invalidate(ctx, in.TenantID)
	return created, nil
}

// Update changes a non-system account.
func (s *Service) Update(ctx context.Context, in UpdateInput) (Account, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Account{}, err
	}
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		acc, err := tx.GetByCode(ctx, in.TenantID, in.Code)
		if err != nil {
			return err
		}
		if acc.IsSystem {
			return shared.ErrSystemAccount
		}
		if in.Name != nil {
			acc.Name = *in.Name
		}
		if in.Category != nil {
			acc.Category = *in.Category
		}
		if in.AllowDirectPosting != nil {
			acc.AllowDirectPosting = *in.AllowDirectPosting
		}
		if in.ParentCode != nil {
			acc.ParentID = nil
			if *in.ParentCode != "" {
				parent, err := tx.GetByCode(ctx, in.TenantID, *in.ParentCode)
				if err != nil {
					return err
				}
				if err := ensureNoCycle(ctx, tx, acc.ID, parent); err != nil {
					return err
				}
				acc.ParentID = &parent.ID
			}
		}
		if err := tx.Update(ctx, acc); err != nil {
			return err
		}
		updated = acc
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.invalidate(ctx, in.TenantID)
	return updated, nil
}

// Deactivate hides an account from postings; system accounts stay active.
func (s *Service) Deactivate(ctx context.Context, tenantID int64, code string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		acc, err := tx.GetByCode(ctx, tenantID, code)
		if err != nil {
			return err
		}
		if acc.IsSystem {
			return shared.ErrSystemAccount
		}
		if !acc.IsActive {
			return nil
		}
		acc.IsActive = false
		return tx.Update(ctx, acc)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

// Delete removes an unreferenced, non-system account.
func (s *Service) Delete(ctx context.Context, tenantID int64, code string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		acc, err := tx.GetByCode(ctx, tenantID, code)
		if err != nil {
			return err
		}
		if acc.IsSystem {
			return shared.ErrSystemAccount
		}
		refs, err := tx.CountReferences(ctx, acc.ID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return shared.ErrAccountInUse
		}
		return tx.Delete(ctx, acc.ID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, tenantID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, tenantID); err != nil {
		s.logger.Warn("invalidate balances", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
	}
}

func matchesDefinition(current, want Account) bool {
	return current.Name == want.Name &&
		current.Type == want.Type &&
		current.Category == want.Category &&
		current.NormalBalance == want.NormalBalance &&
		current.IsSystem &&
		current.IsActive &&
		current.AllowDirectPosting
}

func lookupParent(ctx context.Context, tx TxRepository, tenantID int64, code string) *int64 {
	if code == "" {
		return nil
	}
	parent, err := tx.GetByCode(ctx, tenantID, code)
	if err != nil {
		return nil
	}
	return &parent.ID
}

func ensureNoCycle(ctx context.Context, tx TxRepository, id int64, parent Account) error {
	cursor := parent
	for depth := 0; depth < 64; depth++ {
		if cursor.ID == id {
			return &shared.InvalidInputError{Fields: map[string]string{"parentcode": "cycle"}}
		}
		if cursor.ParentID == nil {
			return nil
		}
		next, err := tx.GetByID(ctx, *cursor.ParentID)
		if err != nil {
			return err
		}
		cursor = next
	}
	return &shared.InvalidInputError{Fields: map[string]string{"parentcode": "too deep"}}
}
