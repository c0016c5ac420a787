package sequences

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

const (
	dateLayout = "20060102"
	minDigits  = 3
)

// Key scopes a counter to a tenant, document prefix and calendar day.
type Key struct {
	TenantID int64
	Prefix   string
	DateKey  string
}

// NewKey normalises prefix and date into a counter key.
func NewKey(tenantID int64, prefix string, date time.Time) (Key, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if err := ValidatePrefix(prefix); err != nil {
		return Key{}, err
	}
	return Key{TenantID: tenantID, Prefix: prefix, DateKey: date.Format(dateLayout)}, nil
}

// Stem is the code shared by every sequence issued for the key.
func (k Key) Stem() string {
	return k.Prefix + "-" + k.DateKey
}

// ValidatePrefix accepts upper case letters and digits only.
func ValidatePrefix(prefix string) error {
	if prefix == "" || len(prefix) > 16 {
		return fmt.Errorf("%w: %q", shared.ErrInvalidPrefix, prefix)
	}
	for _, r := range prefix {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("%w: %q", shared.ErrInvalidPrefix, prefix)
		}
	}
	return nil
}

// Format renders PREFIX-YYYYMMDD followed by seq padded to three digits.
// Sequences past 999 simply grow wider.
func Format(key Key, seq int64) string {
	return fmt.Sprintf("%s%0*d", key.Stem(), minDigits, seq)
}

// Parse extracts the sequence that follows the eight digit date segment.
// Codes that do not carry a numeric tail yield zero.
func Parse(code string) int64 {
	dash := strings.LastIndexByte(code, '-')
	if dash < 0 {
		return 0
	}
	rest := code[dash+1:]
	if len(rest) <= len(dateLayout) {
		return 0
	}
	seq, err := strconv.ParseInt(rest[len(dateLayout):], 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

// Less orders codes of one stem by sequence: longer codes are later.
func Less(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
