package mappings

import "time"

// AccountMapping links an integration key of a calling module to a ledger account.
type AccountMapping struct {
	TenantID    int64
	Module      string
	Key         string
	AccountID   int64
	AccountCode string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpsertInput binds module/key to an account code.
type UpsertInput struct {
	TenantID    int64  `validate:"required,gt=0"`
	Module      string `validate:"required,max=64"`
	Key         string `validate:"required,max=128"`
	AccountCode string `validate:"required,max=32"`
}
