package reports

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TrialBalanceRow struct {
	AccountId   int                `json:"account_id"`
	Code        string             `json:"code"`
	Name        string             `json:"name"`
	AccountType models.AccountType `json:"account_type"`
	Debit       decimal.Decimal    `json:"debit"`
	Credit      decimal.Decimal    `json:"credit"`
}

type TrialBalance struct {
	AsOf        time.Time          `json:"as_of"`
	Rows        []*TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal    `json:"total_debit"`
	TotalCredit decimal.Decimal    `json:"total_credit"`
	IsBalanced  bool               `json:"is_balanced"`
}

// GetTrialBalance lists every account with a nonzero balance at the end of asOf, in the debit
// column when its debits exceed its credits and in the credit column otherwise.
func GetTrialBalance(ctx context.Context, db *gorm.DB, asOf time.Time) (result *TrialBalance, err error) {
	asOf = utils.ToDate(asOf)
	started := time.Now()
	ctx, span := startReportSpan(ctx, "reports.TrialBalance", dateAttr("as_of", asOf))
	defer func() {
		endReportSpan(span, err)
		logSlowReport(ctx, "trial_balance", started, map[string]any{"as_of": asOf.Format(time.DateOnly)})
	}()

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
		logReportError("trial balance", "GetTrialBalance", asOf, err)
		return nil, err
	}

	tb := &TrialBalance{AsOf: asOf, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, a := range accounts {
		raw := debitSide(a, balances[a.ID])
		if raw.IsZero() {
			continue
		}
		row := &TrialBalanceRow{
			AccountId:   a.ID,
			Code:        a.FullCode,
			Name:        a.Name,
			AccountType: a.AccountType,
			Debit:       decimal.Zero,
			Credit:      decimal.Zero,
		}
		if raw.IsPositive() {
			row.Debit = raw
		} else {
			row.Credit = raw.Neg()
		}
		tb.TotalDebit = tb.TotalDebit.Add(row.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
		tb.Rows = append(tb.Rows, row)
	}
	sort.SliceStable(tb.Rows, func(i, j int) bool { return tb.Rows[i].Code < tb.Rows[j].Code })
	tb.IsBalanced = tb.TotalDebit.Sub(tb.TotalCredit).Abs().LessThan(balanceTolerance)
	return tb, nil
}
