package models

import (
	"context"

	"gorm.io/gorm"
)

type defaultAccount struct {
	Code       string
	ParentCode string
	Name       string
	Type       AccountType
	SubType    AccountSubType
	IsContra   bool
	Activity   CashflowActivity
	SystemCode string
}

// Parents are listed before their children.
var defaultChartOfAccounts = []defaultAccount{
	{Code: "1000", Name: "Current Assets", Type: AccountTypeAsset, SubType: AccountSubTypeOtherCurrentAsset},
	{Code: "1010", ParentCode: "1000", Name: "Cash on Hand", Type: AccountTypeAsset, SubType: AccountSubTypeCash, SystemCode: "CASH"},
	{Code: "1020", ParentCode: "1000", Name: "Bank Account", Type: AccountTypeAsset, SubType: AccountSubTypeBank, SystemCode: "BANK"},
	{Code: "1100", ParentCode: "1000", Name: "Accounts Receivable", Type: AccountTypeAsset, SubType: AccountSubTypeAccountsReceivable, SystemCode: "AR"},
	{Code: "1200", ParentCode: "1000", Name: "Inventory", Type: AccountTypeAsset, SubType: AccountSubTypeInventory, SystemCode: "INVENTORY"},
	{Code: "1500", Name: "Fixed Assets", Type: AccountTypeAsset, SubType: AccountSubTypeFixedAsset},
	{Code: "1510", ParentCode: "1500", Name: "Equipment", Type: AccountTypeAsset, SubType: AccountSubTypeFixedAsset, Activity: CashflowActivityInvesting},
	{Code: "1590", ParentCode: "1500", Name: "Accumulated Depreciation", Type: AccountTypeAsset, SubType: AccountSubTypeFixedAsset, IsContra: true, SystemCode: "ACC_DEPRECIATION"},
	{Code: "2000", Name: "Current Liabilities", Type: AccountTypeLiability, SubType: AccountSubTypeOtherCurrentLiability},
	{Code: "2010", ParentCode: "2000", Name: "Accounts Payable", Type: AccountTypeLiability, SubType: AccountSubTypeAccountsPayable, SystemCode: "AP"},
	{Code: "2100", ParentCode: "2000", Name: "Tax Payable", Type: AccountTypeLiability, SubType: AccountSubTypeOtherCurrentLiability, SystemCode: "TAX_PAYABLE"},
	{Code: "2500", Name: "Long-term Loans", Type: AccountTypeLiability, SubType: AccountSubTypeLongTermLiability, Activity: CashflowActivityFinancing},
	{Code: "3000", Name: "Owner's Capital", Type: AccountTypeEquity, SubType: AccountSubTypeOwnerEquity, Activity: CashflowActivityFinancing, SystemCode: "CAPITAL"},
	{Code: "3100", Name: "Owner's Drawings", Type: AccountTypeEquity, SubType: AccountSubTypeOwnerEquity, IsContra: true, Activity: CashflowActivityFinancing},
	{Code: "3900", Name: "Retained Earnings", Type: AccountTypeEquity, SubType: AccountSubTypeRetainedEarnings, SystemCode: "RETAINED_EARNINGS"},
	{Code: "4000", Name: "Sales Revenue", Type: AccountTypeRevenue, SubType: AccountSubTypeOperatingRevenue, SystemCode: "SALES"},
	{Code: "4010", ParentCode: "4000", Name: "Sales Discounts", Type: AccountTypeRevenue, SubType: AccountSubTypeOperatingRevenue, IsContra: true},
	{Code: "4900", Name: "Other Income", Type: AccountTypeRevenue, SubType: AccountSubTypeOtherIncome},
	{Code: "5000", Name: "Cost of Goods Sold", Type: AccountTypeExpense, SubType: AccountSubTypeCostOfGoodsSold, SystemCode: "COGS"},
	{Code: "6000", Name: "Operating Expenses", Type: AccountTypeExpense, SubType: AccountSubTypeOperatingExpense},
	{Code: "6010", ParentCode: "6000", Name: "Rent Expense", Type: AccountTypeExpense, SubType: AccountSubTypeOperatingExpense},
	{Code: "6020", ParentCode: "6000", Name: "Salaries Expense", Type: AccountTypeExpense, SubType: AccountSubTypeOperatingExpense},
	{Code: "6100", Name: "Depreciation Expense", Type: AccountTypeExpense, SubType: AccountSubTypeDepreciation, SystemCode: "DEPRECIATION"},
	{Code: "7000", Name: "Interest Expense", Type: AccountTypeExpense, SubType: AccountSubTypeOtherExpense},
	{Code: "8000", Name: "Gain on Disposal", Type: AccountTypeGain},
	{Code: "8500", Name: "Loss on Disposal", Type: AccountTypeLoss},
}

// SeedDefaultChart creates the default chart of accounts for the business in ctx.
// Codes that already exist are left untouched, so seeding twice is harmless.
func SeedDefaultChart(ctx context.Context, db *gorm.DB) ([]*Account, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	var existing []*Account
	if err := db.WithContext(ctx).Where("business_id = ?", businessId).Find(&existing).Error; err != nil {
		return nil, err
	}
	byCode := make(map[string]*Account, len(existing))
	for _, a := range existing {
		byCode[a.Code] = a
	}

	var created []*Account
	for _, d := range defaultChartOfAccounts {
		if _, ok := byCode[d.Code]; ok {
			continue
		}
		input := NewAccount{
			Code:              d.Code,
			Name:              d.Name,
			AccountType:       d.Type,
			SubType:           d.SubType,
			IsContra:          d.IsContra,
			CashflowActivity:  d.Activity,
			IsSystemDefault:   d.SystemCode != "",
			SystemDefaultCode: d.SystemCode,
		}
		if d.ParentCode != "" {
			input.ParentAccountId = byCode[d.ParentCode].ID
		}
		account, err := CreateAccount(ctx, db, &input)
		if err != nil {
			return created, err
		}
		byCode[account.Code] = account
		created = append(created, account)
	}
	return created, nil
}
