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
	SectionRevenue           = "Revenue"
	SectionCostOfGoodsSold   = "Cost of Goods Sold"
	SectionOperatingExpenses = "Operating Expenses"
	SectionOther             = "Other Income and Expenses"

	TotalGrossProfit     = "Gross Profit"
	TotalOperatingIncome = "Operating Income"
	TotalNetIncome       = "Net Income"
)

type IncomeStatement struct {
	Statement
	Revenue           decimal.Decimal  `json:"revenue"`
	CostOfGoodsSold   decimal.Decimal  `json:"cost_of_goods_sold"`
	GrossProfit       decimal.Decimal  `json:"gross_profit"`
	OperatingExpenses decimal.Decimal  `json:"operating_expenses"`
	OperatingIncome   decimal.Decimal  `json:"operating_income"`
	OtherNet          decimal.Decimal  `json:"other_net"`
	NetIncome         decimal.Decimal  `json:"net_income"`
	Comparative       *IncomeStatement `json:"comparative,omitempty"`
	YearToDate        *IncomeStatement `json:"year_to_date,omitempty"`
}

type incomeCategory int

const (
	categoryNone incomeCategory = iota
	categoryRevenue
	categoryCOGS
	categoryOperatingExpense
	categoryOther
)

func categorize(a *models.Account) incomeCategory {
	switch a.AccountType {
	case models.AccountTypeRevenue:
		if a.SubType == models.AccountSubTypeOtherIncome {
			return categoryOther
		}
		return categoryRevenue
	case models.AccountTypeExpense:
		switch a.SubType {
		case models.AccountSubTypeCostOfGoodsSold:
			return categoryCOGS
		case models.AccountSubTypeOtherExpense:
			return categoryOther
		}
		return categoryOperatingExpense
	case models.AccountTypeGain, models.AccountTypeLoss:
		return categoryOther
	}
	return categoryNone
}

// GetIncomeStatement reports revenue and expenses posted in [start, end].
// The comparative covers the preceding range of equal length; year-to-date runs from the
// start of the fiscal year containing end.
func GetIncomeStatement(ctx context.Context, db *gorm.DB, start, end time.Time, includeComparative, includeYTD bool) (result *IncomeStatement, err error) {
	start, end = utils.ToDate(start), utils.ToDate(end)
	started := time.Now()
	ctx, span := startReportSpan(ctx, "reports.IncomeStatement", dateAttr("start", start), dateAttr("end", end))
	defer func() {
		endReportSpan(span, err)
		logSlowReport(ctx, "income_statement", started, map[string]any{
			"start": start.Format(time.DateOnly), "end": end.Format(time.DateOnly),
		})
	}()

	result, err = incomeStatement(ctx, db, start, end)
	if err != nil {
		logReportError("income statement", "GetIncomeStatement", map[string]any{"start": start, "end": end}, err)
		return nil, err
	}
	if includeComparative {
		prevStart, prevEnd := utils.PrecedingRange(start, end)
		if result.Comparative, err = incomeStatement(ctx, db, prevStart, prevEnd); err != nil {
			return nil, err
		}
	}
	if includeYTD {
		fyStart := utils.FiscalYearStartFor(end, config.GetLedgerConfig().FiscalYearStart())
		if result.YearToDate, err = incomeStatement(ctx, db, fyStart, end); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func incomeStatement(ctx context.Context, db *gorm.DB, start, end time.Time) (*IncomeStatement, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	tx := db.WithContext(ctx)
	activity, err := models.AccountActivity(tx, businessId, start, end)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	accounts, err := models.LoadAccounts(tx, businessId)
	if err != nil {
		return nil, err
	}

	inCategory := func(c incomeCategory) []*models.Account {
		return filterAccounts(accounts, func(a *models.Account) bool { return categorize(a) == c })
	}
	credit := func(a *models.Account) decimal.Decimal { return activity[a.ID].Net().Neg() }
	debit := func(a *models.Account) decimal.Decimal { return activity[a.ID].Net() }

	revenue := newSection(SectionRevenue, accountLines(inCategory(categoryRevenue), credit))
	cogs := newSection(SectionCostOfGoodsSold, accountLines(inCategory(categoryCOGS), debit))
	opex := newSection(SectionOperatingExpenses, accountLines(inCategory(categoryOperatingExpense), debit))
	// Other expenses and losses count positive; other income and gains negative.
	other := newSection(SectionOther, accountLines(inCategory(categoryOther), debit))

	is := &IncomeStatement{
		Revenue:           revenue.Subtotal,
		CostOfGoodsSold:   cogs.Subtotal,
		OperatingExpenses: opex.Subtotal,
		OtherNet:          other.Subtotal,
	}
	is.GrossProfit = is.Revenue.Sub(is.CostOfGoodsSold)
	is.OperatingIncome = is.GrossProfit.Sub(is.OperatingExpenses)
	is.NetIncome = is.OperatingIncome.Sub(is.OtherNet)
	cogs.Total = is.GrossProfit
	opex.Total = is.OperatingIncome
	other.Total = is.NetIncome

	periodStart := start
	is.Statement = Statement{
		Title:       "Income Statement",
		PeriodStart: &periodStart,
		PeriodEnd:   end,
		Sections:    []*StatementSection{revenue, cogs, opex, other},
	}
	is.addTotal(SectionRevenue, is.Revenue)
	is.addTotal(TotalGrossProfit, is.GrossProfit)
	is.addTotal(TotalOperatingIncome, is.OperatingIncome)
	is.addTotal(TotalNetIncome, is.NetIncome)
	return is, nil
}

// netIncome is credits minus debits over every income statement account.
func netIncome(accounts []*models.Account, activity map[int]models.Activity) decimal.Decimal {
	total := decimal.Zero
	for _, a := range accounts {
		if a.AccountType.IsIncomeStatement() {
			total = total.Sub(activity[a.ID].Net())
		}
	}
	return total
}
