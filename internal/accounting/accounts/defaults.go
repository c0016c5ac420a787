package accounts

// Definition seeds a chart of accounts entry.
type Definition struct {
	Code       string
	Name       string
	Type       AccountType
	Category   string
	ParentCode string
	Header     bool
	System     bool
}

// Well-known account codes.
const (
	CodeCash               = "1110"
	CodeBank               = "1120"
	CodeAccountsReceivable = "1130"
	CodeInventory          = "1140"
	CodeAccountsPayable    = "2110"
	CodeRetainedEarnings   = "3200"
	CodeSalesRevenue       = "4100"
	CodeCostOfGoodsSold    = "5100"
)

// SystemAccounts are reconciled on every start and cannot be changed by tenants.
var SystemAccounts = []Definition{
	{Code: CodeCash, Name: "Cash", Type: AccountTypeAsset, Category: "CURRENT_ASSET", ParentCode: "1100", System: true},
	{Code: CodeBank, Name: "Bank", Type: AccountTypeAsset, Category: "CURRENT_ASSET", ParentCode: "1100", System: true},
	{Code: CodeAccountsReceivable, Name: "Accounts Receivable", Type: AccountTypeAsset, Category: "CURRENT_ASSET", ParentCode: "1100", System: true},
	{Code: CodeInventory, Name: "Inventory", Type: AccountTypeAsset, Category: "CURRENT_ASSET", ParentCode: "1100", System: true},
	{Code: CodeAccountsPayable, Name: "Accounts Payable", Type: AccountTypeLiability, Category: "CURRENT_LIABILITY", ParentCode: "2100", System: true},
	{Code: CodeRetainedEarnings, Name: "Retained Earnings", Type: AccountTypeEquity, Category: "EQUITY", ParentCode: "3000", System: true},
	{Code: CodeSalesRevenue, Name: "Sales Revenue", Type: AccountTypeRevenue, Category: "OPERATING_REVENUE", ParentCode: "4000", System: true},
	{Code: CodeCostOfGoodsSold, Name: "Cost of Goods Sold", Type: AccountTypeExpense, Category: "COST_OF_SALES", ParentCode: "5000", System: true},
}

// DefaultChart is the broader chart seeded per tenant, parents before children.
var DefaultChart = []Definition{
	{Code: "1000", Name: "Assets", Type: AccountTypeAsset, Category: "ASSET", Header: true},
	{Code: "1100", Name: "Current Assets", Type: AccountTypeAsset, Category: "CURRENT_ASSET", ParentCode: "1000", Header: true},
	{Code: "1150", Name: "Prepaid Expenses", Type: AccountTypeAsset, Category: "CURRENT_ASSET", ParentCode: "1100"},
	{Code: "1200", Name: "Fixed Assets", Type: AccountTypeAsset, Category: "FIXED_ASSET", ParentCode: "1000", Header: true},
	{Code: "1210", Name: "Equipment", Type: AccountTypeAsset, Category: "FIXED_ASSET", ParentCode: "1200"},
	{Code: "1290", Name: "Accumulated Depreciation", Type: AccountTypeAsset, Category: "FIXED_ASSET", ParentCode: "1200"},
	{Code: "2000", Name: "Liabilities", Type: AccountTypeLiability, Category: "LIABILITY", Header: true},
	{Code: "2100", Name: "Current Liabilities", Type: AccountTypeLiability, Category: "CURRENT_LIABILITY", ParentCode: "2000", Header: true},
	{Code: "2120", Name: "Accrued Expenses", Type: AccountTypeLiability, Category: "CURRENT_LIABILITY", ParentCode: "2100"},
	{Code: "2130", Name: "Taxes Payable", Type: AccountTypeLiability, Category: "CURRENT_LIABILITY", ParentCode: "2100"},
	{Code: "2200", Name: "Long-term Loans", Type: AccountTypeLiability, Category: "LONG_TERM_LIABILITY", ParentCode: "2000"},
	{Code: "3000", Name: "Equity", Type: AccountTypeEquity, Category: "EQUITY", Header: true},
	{Code: "3100", Name: "Owner's Capital", Type: AccountTypeEquity, Category: "EQUITY", ParentCode: "3000"},
	{Code: "4000", Name: "Revenue", Type: AccountTypeRevenue, Category: "REVENUE", Header: true},
	{Code: "4200", Name: "Service Revenue", Type: AccountTypeRevenue, Category: "OPERATING_REVENUE", ParentCode: "4000"},
	{Code: "4900", Name: "Other Income", Type: AccountTypeRevenue, Category: "OTHER_REVENUE", ParentCode: "4000"},
	{Code: "5000", Name: "Expenses", Type: AccountTypeExpense, Category: "EXPENSE", Header: true},
	{Code: "5200", Name: "Salaries Expense", Type: AccountTypeExpense, Category: "OPERATING_EXPENSE", ParentCode: "5000"},
	{Code: "5300", Name: "Rent Expense", Type: AccountTypeExpense, Category: "OPERATING_EXPENSE", ParentCode: "5000"},
	{Code: "5400", Name: "Utilities Expense", Type: AccountTypeExpense, Category: "OPERATING_EXPENSE", ParentCode: "5000"},
	{Code: "5500", Name: "Depreciation Expense", Type: AccountTypeExpense, Category: "OPERATING_EXPENSE", ParentCode: "5000"},
	{Code: "5900", Name: "Other Expenses", Type: AccountTypeExpense, Category: "OTHER_EXPENSE", ParentCode: "5000"},
}

func definitionIndex() map[string]Definition {
	out := make(map[string]Definition, len(SystemAccounts)+len(DefaultChart))
	for _, def := range DefaultChart {
		out[def.Code] = def
	}
	for _, def := range SystemAccounts {
		out[def.Code] = def
	}
	return out
}

func (d Definition) account(tenantID int64) Account {
	return Account{
		TenantID:           tenantID,
		Code:               d.Code,
		Name:               d.Name,
		Type:               d.Type,
		Category:           d.Category,
		NormalBalance:      d.Type.NormalBalance(),
		IsSystem:           d.System,
		IsActive:           true,
		AllowDirectPosting: !d.Header,
	}
}
