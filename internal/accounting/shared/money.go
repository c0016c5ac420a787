package shared

import "github.com/shopspring/decimal"

// DefaultPrecision is the number of fractional digits stored for amounts.
const DefaultPrecision int32 = 2

// FitsPrecision reports whether amount carries no more than precision fractional digits.
func FitsPrecision(amount decimal.Decimal, precision int32) bool {
	return amount.Equal(amount.Truncate(precision))
}

// Side reports a signed net amount as a debit or credit column value.
func Side(net decimal.Decimal) (debit, credit decimal.Decimal) {
	if net.IsNegative() {
		return decimal.Zero, net.Neg()
	}
	return net, decimal.Zero
}
