package shared

import "fmt"

// PeriodCloseLockKey serialises closing runs for one period across processes.
func PeriodCloseLockKey(periodID int64) string {
	return fmt.Sprintf("ledger:period:%d:close-lock", periodID)
}

// BalanceVersionKey holds the tenant's balance projection version.
func BalanceVersionKey(tenantID int64) string {
	return fmt.Sprintf("ledger:tenant:%d:balances:version", tenantID)
}

// BalanceCacheKey addresses one cached projection under a version.
func BalanceCacheKey(tenantID, version int64, kind, suffix string) string {
	return fmt.Sprintf("ledger:tenant:%d:balances:v%d:%s:%s", tenantID, version, kind, suffix)
}
