package reports

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	SectionOperating = "Operating Activities"
	SectionInvesting = "Investing Activities"
	SectionFinancing = "Financing Activities"

	TotalBeginningCash = "Beginning Cash Balance"
	TotalNetChange     = "Net Change in Cash"
	TotalEndingCash    = "Ending Cash Balance"

	lineNetIncome     = "Net Income"
	lineOtherNonCash  = "Other non-cash items"
	lineAddBackPrefix = "Add back: "
	lineChangePrefix  = "Change in "
)

var (
	financingKeywords = []string{"loan", "borrowing", "dividend", "capital"}
	investingKeywords = []string{"equipment", "property", "investment", "vehicle"}
)

type CashFlowStatement struct {
	Statement
	BeginningCash decimal.Decimal    `json:"beginning_cash"`
	Operating     decimal.Decimal    `json:"operating"`
	Investing     decimal.Decimal    `json:"investing"`
	Financing     decimal.Decimal    `json:"financing"`
	NetChange     decimal.Decimal    `json:"net_change"`
	EndingCash    decimal.Decimal    `json:"ending_cash"`
	Comparative   *CashFlowStatement `json:"comparative,omitempty"`
}

// classifyCashflow decides which activity the cash movements against an account belong to.
// An explicit tag wins, then the subtype, then keywords in the name of untyped accounts.
func classifyCashflow(a *models.Account) models.CashflowActivity {
	if a.CashflowActivity != models.CashflowActivityNone {
		return a.CashflowActivity
	}
	switch {
	case a.SubType == models.AccountSubTypeFixedAsset, a.SubType == models.AccountSubTypeInvestment:
		return models.CashflowActivityInvesting
	case a.SubType == models.AccountSubTypeLongTermLiability, a.AccountType == models.AccountTypeEquity:
		return models.CashflowActivityFinancing
	}
	if a.SubType == models.AccountSubTypeNone {
		name := strings.ToLower(a.Name)
		for _, k := range financingKeywords {
			if strings.Contains(name, k) {
				return models.CashflowActivityFinancing
			}
		}
		for _, k := range investingKeywords {
			if strings.Contains(name, k) {
				return models.CashflowActivityInvesting
			}
		}
	}
	return models.CashflowActivityOperating
}

// GetCashFlowStatement reports the movement of cash-equivalent asset accounts over [start, end].
// Operating activities are shown by the indirect method; investing and financing list the
// counterpart accounts of cash lines.
func GetCashFlowStatement(ctx context.Context, db *gorm.DB, start, end time.Time, includeComparative bool) (result *CashFlowStatement, err error) {
	start, end = utils.ToDate(start), utils.ToDate(end)
	started := time.Now()
	ctx, span := startReportSpan(ctx, "reports.CashFlowStatement", dateAttr("start", start), dateAttr("end", end))
	defer func() {
		endReportSpan(span, err)
		logSlowReport(ctx, "cash_flow_statement", started, map[string]any{
			"start": start.Format(time.DateOnly), "end": end.Format(time.DateOnly),
		})
	}()

	result, err = cashFlowStatement(ctx, db, start, end)
	if err != nil {
		logReportError("cash flow statement", "GetCashFlowStatement", map[string]any{"start": start, "end": end}, err)
		return nil, err
	}
	if includeComparative {
		prevStart, prevEnd := utils.PrecedingRange(start, end)
		if result.Comparative, err = cashFlowStatement(ctx, db, prevStart, prevEnd); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func cashFlowStatement(ctx context.Context, db *gorm.DB, start, end time.Time) (*CashFlowStatement, error) {
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
	cashAccounts := filterAccounts(accounts, func(a *models.Account) bool {
		return a.AccountType == models.AccountTypeAsset && a.IsCashEquivalent
	})
	if len(cashAccounts) == 0 {
		return nil, models.ErrNoCashAccountConfigured
	}
	isCash := make(map[int]bool, len(cashAccounts))
	cashIds := make([]int, 0, len(cashAccounts))
	for _, a := range cashAccounts {
		isCash[a.ID] = true
		cashIds = append(cashIds, a.ID)
	}

	opening, err := models.BalancesAsOf(tx, businessId, cashAccounts, utils.PreviousDay(start))
	if err != nil {
		return nil, err
	}
	closing, err := models.BalancesAsOf(tx, businessId, cashAccounts, end)
	if err != nil {
		return nil, err
	}
	activity, err := models.AccountActivity(tx, businessId, start, end)
	if err != nil {
		return nil, err
	}
	counterparts, err := models.CashCounterpartActivity(tx, businessId, cashIds, start, end)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cf := &CashFlowStatement{BeginningCash: decimal.Zero, EndingCash: decimal.Zero}
	for _, a := range cashAccounts {
		cf.BeginningCash = cf.BeginningCash.Add(debitSide(a, opening[a.ID]))
		cf.EndingCash = cf.EndingCash.Add(debitSide(a, closing[a.ID]))
	}

	// Cash movement attributed to each counterpart account, as credit minus debit.
	contribution := func(a *models.Account) decimal.Decimal { return counterparts[a.ID].Net().Neg() }
	byActivity := func(c models.CashflowActivity) []*models.Account {
		return filterAccounts(accounts, func(a *models.Account) bool {
			return !isCash[a.ID] && classifyCashflow(a) == c
		})
	}
	cf.NetChange = decimal.Zero
	for _, a := range accounts {
		if !isCash[a.ID] {
			cf.NetChange = cf.NetChange.Add(contribution(a))
		}
	}

	investing := newSection(SectionInvesting, accountLines(byActivity(models.CashflowActivityInvesting), contribution))
	financing := newSection(SectionFinancing, accountLines(byActivity(models.CashflowActivityFinancing), contribution))
	cf.Investing = investing.Subtotal
	cf.Financing = financing.Subtotal
	cf.Operating = cf.NetChange.Sub(cf.Investing).Sub(cf.Financing)

	operating := newSection(SectionOperating, operatingLines(accounts, isCash, activity, cf.Operating))
	operating.Total = cf.Operating
	investing.Total = cf.Operating.Add(cf.Investing)
	financing.Total = cf.NetChange

	periodStart := start
	cf.Statement = Statement{
		Title:       "Cash Flow Statement",
		PeriodStart: &periodStart,
		PeriodEnd:   end,
		Sections:    []*StatementSection{operating, investing, financing},
	}
	cf.addTotal(TotalBeginningCash, cf.BeginningCash)
	cf.addTotal(SectionOperating, cf.Operating)
	cf.addTotal(SectionInvesting, cf.Investing)
	cf.addTotal(SectionFinancing, cf.Financing)
	cf.addTotal(TotalNetChange, cf.NetChange)
	cf.addTotal(TotalEndingCash, cf.EndingCash)
	return cf, nil
}

// operatingLines builds the indirect-method reconciliation from net income to operating cash.
// Whatever the adjustments do not explain lands on a single reconciling line.
func operatingLines(accounts []*models.Account, isCash map[int]bool, activity map[int]models.Activity, operating decimal.Decimal) []*StatementLine {
	ni := netIncome(accounts, activity)
	lines := []*StatementLine{{Name: lineNetIncome, Amount: ni}}
	explained := ni

	add := func(a *models.Account, label string, amount decimal.Decimal) {
		if amount.IsZero() {
			return
		}
		lines = append(lines, &StatementLine{AccountId: a.ID, Code: a.FullCode, Name: label + a.Name, Amount: amount})
		explained = explained.Add(amount)
	}
	for _, a := range sortedByCode(accounts) {
		switch {
		case a.AccountType == models.AccountTypeExpense && a.SubType.IsNonCashCharge():
			add(a, lineAddBackPrefix, activity[a.ID].Debit)
		case isCash[a.ID]:
		case a.AccountType == models.AccountTypeAsset && a.SubType.IsCurrentAsset():
			add(a, lineChangePrefix, activity[a.ID].Net().Neg())
		case a.AccountType == models.AccountTypeLiability && a.SubType.IsCurrentLiability():
			add(a, lineChangePrefix, activity[a.ID].Net().Neg())
		}
	}
	if other := operating.Sub(explained); !other.IsZero() {
		lines = append(lines, &StatementLine{Name: lineOtherNonCash, Amount: other})
	}
	return lines
}

func sortedByCode(accounts []*models.Account) []*models.Account {
	out := append([]*models.Account(nil), accounts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FullCode < out[j].FullCode })
	return out
}
