package reports

import (
	"context"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	SectionAssets      = "Assets"
	SectionLiabilities = "Liabilities"
	SectionEquity      = "Equity"

	TotalAssets              = "Total Assets"
	TotalLiabilities         = "Total Liabilities"
	TotalEquity              = "Total Equity"
	TotalLiabilitiesEquity   = "Total Liabilities and Equity"
	TotalAssetsLessLiability = "Assets - Liabilities"

	linePriorYearsEarnings  = "Prior Years' Earnings"
	lineCurrentYearEarnings = "Current Year Earnings"
)

type BalanceSheet struct {
	Statement
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	TotalEquity      decimal.Decimal `json:"total_equity"`
	IsBalanced       bool            `json:"is_balanced"`
	Comparative      *BalanceSheet   `json:"comparative,omitempty"`
}

// GetBalanceSheet reports assets, liabilities and equity at the end of asOf. Income statement
// accounts roll into equity as prior years' and current year earnings, split at the start of
// the fiscal year containing asOf. The comparative is the same date one year earlier.
func GetBalanceSheet(ctx context.Context, db *gorm.DB, asOf time.Time, includeComparative bool) (result *BalanceSheet, err error) {
	asOf = utils.ToDate(asOf)
	started := time.Now()
	ctx, span := startReportSpan(ctx, "reports.BalanceSheet", dateAttr("as_of", asOf))
	defer func() {
		endReportSpan(span, err)
		logSlowReport(ctx, "balance_sheet", started, map[string]any{"as_of": asOf.Format(time.DateOnly)})
	}()

	result, err = balanceSheet(ctx, db, asOf)
	if err != nil {
		logReportError("balance sheet", "GetBalanceSheet", asOf, err)
		return nil, err
	}
	if includeComparative {
		if result.Comparative, err = balanceSheet(ctx, db, asOf.AddDate(-1, 0, 0)); err != nil {
			logReportError("comparative balance sheet", "GetBalanceSheet", asOf, err)
			return nil, err
		}
	}
	return result, nil
}

func balanceSheet(ctx context.Context, db *gorm.DB, asOf time.Time) (*BalanceSheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	tx := db.WithContext(ctx)
	accounts, err := models.LoadAccounts(tx, businessId)
	if err != nil {
		return nil, err
	}
	balances, err := models.BalancesAsOf(tx, businessId, accounts, asOf)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fyStart := utils.FiscalYearStartFor(asOf, config.GetLedgerConfig().FiscalYearStart())
	incomeAccounts := filterAccounts(accounts, func(a *models.Account) bool { return a.AccountType.IsIncomeStatement() })
	priorBalances, err := models.BalancesAsOf(tx, businessId, incomeAccounts, utils.PreviousDay(fyStart))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	totalEarnings, priorEarnings := decimal.Zero, decimal.Zero
	for _, a := range incomeAccounts {
		totalEarnings = totalEarnings.Add(creditSide(a, balances[a.ID]))
		priorEarnings = priorEarnings.Add(creditSide(a, priorBalances[a.ID]))
	}
	currentEarnings := totalEarnings.Sub(priorEarnings)

	assets := accountLines(
		filterAccounts(accounts, func(a *models.Account) bool { return a.AccountType == models.AccountTypeAsset }),
		func(a *models.Account) decimal.Decimal { return debitSide(a, balances[a.ID]) })
	liabilities := accountLines(
		filterAccounts(accounts, func(a *models.Account) bool { return a.AccountType == models.AccountTypeLiability }),
		func(a *models.Account) decimal.Decimal { return creditSide(a, balances[a.ID]) })
	equity := accountLines(
		filterAccounts(accounts, func(a *models.Account) bool {
			return a.AccountType == models.AccountTypeEquity || a.AccountType == models.AccountTypeTemporary
		}),
		func(a *models.Account) decimal.Decimal { return creditSide(a, balances[a.ID]) })
	equity = append(equity,
		&StatementLine{Name: linePriorYearsEarnings, Amount: priorEarnings},
		&StatementLine{Name: lineCurrentYearEarnings, Amount: currentEarnings},
	)

	assetSection := newSection(SectionAssets, assets)
	liabilitySection := newSection(SectionLiabilities, liabilities)
	equitySection := newSection(SectionEquity, equity)
	equitySection.Total = liabilitySection.Subtotal.Add(equitySection.Subtotal)

	bs := &BalanceSheet{
		Statement: Statement{
			Title:     "Balance Sheet",
			PeriodEnd: asOf,
			Sections:  []*StatementSection{assetSection, liabilitySection, equitySection},
		},
		TotalAssets:      assetSection.Subtotal,
		TotalLiabilities: liabilitySection.Subtotal,
		TotalEquity:      equitySection.Subtotal,
	}
	bs.addTotal(TotalAssets, bs.TotalAssets)
	bs.addTotal(TotalLiabilities, bs.TotalLiabilities)
	bs.addTotal(TotalEquity, bs.TotalEquity)
	bs.addTotal(TotalLiabilitiesEquity, equitySection.Total)
	bs.addTotal(TotalAssetsLessLiability, bs.TotalAssets.Sub(bs.TotalLiabilities))
	bs.IsBalanced = bs.TotalAssets.Sub(equitySection.Total).Abs().LessThan(balanceTolerance)
	return bs, nil
}
