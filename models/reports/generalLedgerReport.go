package reports

import (
	"context"
	"time"

	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AccountLedgerLine struct {
	JournalEntryId int                       `json:"journal_entry_id"`
	EntryNumber    string                    `json:"entry_number"`
	EntryDate      time.Time                 `json:"entry_date"`
	Status         models.JournalEntryStatus `json:"status"`
	LineId         int                       `json:"line_id"`
	Description    string                    `json:"description"`
	Debit          decimal.Decimal           `json:"debit"`
	Credit         decimal.Decimal           `json:"credit"`
	Balance        decimal.Decimal           `json:"balance"`
}

// AccountLedger is the posted activity of one account with a running natural-direction balance.
type AccountLedger struct {
	Account *models.Account      `json:"account"`
	Start   time.Time            `json:"start"`
	End     time.Time            `json:"end"`
	Opening decimal.Decimal      `json:"opening_balance"`
	Lines   []*AccountLedgerLine `json:"lines"`
	Debit   decimal.Decimal      `json:"debit"`
	Credit  decimal.Decimal      `json:"credit"`
	Closing decimal.Decimal      `json:"closing_balance"`
}

func GetAccountLedger(ctx context.Context, db *gorm.DB, accountId int, start, end time.Time) (result *AccountLedger, err error) {
	start, end = utils.ToDate(start), utils.ToDate(end)
	started := time.Now()
	ctx, span := startReportSpan(ctx, "reports.AccountLedger", dateAttr("start", start), dateAttr("end", end))
	defer func() {
		endReportSpan(span, err)
		logSlowReport(ctx, "account_ledger", started, map[string]any{"account_id": accountId})
	}()

	account, err := models.GetAccount(ctx, db, accountId)
	if err != nil {
		return nil, err
	}
	period, err := models.BalanceForPeriod(ctx, db, accountId, start, end)
	if err != nil {
		return nil, err
	}

	var lines []*AccountLedgerLine
	err = db.WithContext(ctx).Raw(`SELECT e.id AS journal_entry_id, e.entry_number, e.entry_date, e.status,
		l.id AS line_id, COALESCE(NULLIF(l.description, ''), e.description) AS description, l.debit, l.credit
	FROM journal_entry_lines l
	JOIN journal_entries e ON e.id = l.journal_entry_id
	WHERE e.business_id = ? AND l.account_id = ? AND e.status IN ? AND e.entry_date >= ? AND e.entry_date <= ?
	ORDER BY e.entry_date, e.sequence_no, l.line_no`,
		account.BusinessId, account.ID, models.LedgerVisibleStatuses, start, end).Scan(&lines).Error
	if err != nil {
		logReportError("account ledger", "GetAccountLedger", accountId, err)
		return nil, err
	}

	running := period.Opening
	for _, l := range lines {
		running = running.Add(account.Natural(l.Debit.Sub(l.Credit)))
		l.Balance = running
	}
	return &AccountLedger{
		Account: account,
		Start:   start,
		End:     end,
		Opening: period.Opening,
		Lines:   lines,
		Debit:   period.PeriodDebit,
		Credit:  period.PeriodCredit,
		Closing: period.Closing,
	}, nil
}
