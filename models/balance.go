package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Activity is the posted debit and credit volume of one account over a range.
type Activity struct {
	AccountId int             `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// Net is debit minus credit.
func (a Activity) Net() decimal.Decimal {
	return a.Debit.Sub(a.Credit)
}

type PeriodBalance struct {
	AccountId    int             `json:"account_id"`
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
	Opening      decimal.Decimal `json:"opening_balance"`
	PeriodDebit  decimal.Decimal `json:"period_debit"`
	PeriodCredit decimal.Decimal `json:"period_credit"`
	PeriodNet    decimal.Decimal `json:"period_net"`
	Closing      decimal.Decimal `json:"closing_balance"`
}

type snapshotPoint struct {
	AccountId      int
	PeriodEnd      time.Time
	ClosingBalance decimal.Decimal
}

// sumLines aggregates posted activity per account for entry dates in (after, through].
// A nil after means from the beginning of the ledger; empty accountIds means every account.
func sumLines(tx *gorm.DB, businessId string, accountIds []int, after *time.Time, through time.Time) (map[int]Activity, error) {
	var sb strings.Builder
	args := []interface{}{businessId, LedgerVisibleStatuses, utils.ToDate(through)}
	sb.WriteString(`SELECT l.account_id AS account_id,
		COALESCE(SUM(l.debit), 0) AS debit,
		COALESCE(SUM(l.credit), 0) AS credit
	FROM journal_entry_lines l
	JOIN journal_entries e ON e.id = l.journal_entry_id
	WHERE e.business_id = ? AND e.status IN ? AND e.entry_date <= ?`)
	if after != nil {
		sb.WriteString(" AND e.entry_date > ?")
		args = append(args, utils.ToDate(*after))
	}
	if len(accountIds) > 0 {
		sb.WriteString(" AND l.account_id IN ?")
		args = append(args, accountIds)
	}
	sb.WriteString(" GROUP BY l.account_id")

	var rows []Activity
	if err := tx.Raw(sb.String(), args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make(map[int]Activity, len(rows))
	for _, r := range rows {
		result[r.AccountId] = r
	}
	return result, nil
}

// latestSnapshots returns, per account, the closed snapshot with the greatest period end on or before date.
func latestSnapshots(tx *gorm.DB, businessId string, accountIds []int, date time.Time) (map[int]snapshotPoint, error) {
	var sb strings.Builder
	args := []interface{}{businessId, utils.ToDate(date)}
	sb.WriteString(`SELECT b.account_id AS account_id, b.period_end AS period_end, b.closing_balance AS closing_balance
	FROM account_balances b
	JOIN (
		SELECT account_id, MAX(period_end) AS period_end
		FROM account_balances
		WHERE business_id = ? AND period_end IS NOT NULL AND period_end <= ?`)
	if len(accountIds) > 0 {
		sb.WriteString(" AND account_id IN ?")
		args = append(args, accountIds)
	}
	sb.WriteString(`
		GROUP BY account_id
	) m ON m.account_id = b.account_id AND m.period_end = b.period_end
	WHERE b.business_id = ?`)
	args = append(args, businessId)

	var rows []snapshotPoint
	if err := tx.Raw(sb.String(), args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make(map[int]snapshotPoint, len(rows))
	for _, r := range rows {
		result[r.AccountId] = r
	}
	return result, nil
}

// BalancesAsOf returns the natural-direction balance of every given account at the end of date.
// Accounts with a closed snapshot on or before date start from its closing balance and add
// only later activity; the rest are aggregated from the first line.
func BalancesAsOf(tx *gorm.DB, businessId string, accounts []*Account, date time.Time) (map[int]decimal.Decimal, error) {
	date = utils.ToDate(date)
	ids := make([]int, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	result := make(map[int]decimal.Decimal, len(accounts))
	if len(ids) == 0 {
		return result, nil
	}

	snapshots, err := latestSnapshots(tx, businessId, ids, date)
	if err != nil {
		return nil, err
	}
	// Group accounts by snapshot boundary so each boundary needs one aggregation.
	byBoundary := map[time.Time][]int{}
	var unsnapshotted []int
	for _, id := range ids {
		if s, ok := snapshots[id]; ok {
			end := utils.ToDate(s.PeriodEnd)
			byBoundary[end] = append(byBoundary[end], id)
		} else {
			unsnapshotted = append(unsnapshotted, id)
		}
	}

	activity := map[int]Activity{}
	if len(unsnapshotted) > 0 {
		rows, err := sumLines(tx, businessId, unsnapshotted, nil, date)
		if err != nil {
			return nil, err
		}
		for k, v := range rows {
			activity[k] = v
		}
	}
	for boundary, group := range byBoundary {
		after := boundary
		rows, err := sumLines(tx, businessId, group, &after, date)
		if err != nil {
			return nil, err
		}
		for k, v := range rows {
			activity[k] = v
		}
	}

	for _, a := range accounts {
		balance := a.Natural(activity[a.ID].Net())
		if s, ok := snapshots[a.ID]; ok {
			balance = balance.Add(s.ClosingBalance)
		}
		result[a.ID] = balance
	}
	return result, nil
}

// AccountActivity returns posted debit and credit per account for entry dates in [start, end].
func AccountActivity(tx *gorm.DB, businessId string, start, end time.Time) (map[int]Activity, error) {
	start, end = utils.ToDate(start), utils.ToDate(end)
	if start.After(end) {
		return nil, errorf(ErrInvalidDateRange, "start %s is after end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	dayBefore := utils.PreviousDay(start)
	return sumLines(tx, businessId, nil, &dayBefore, end)
}

// BalanceAsOf is the natural-direction balance of one account at the end of date.
func BalanceAsOf(ctx context.Context, db *gorm.DB, accountId int, date time.Time) (decimal.Decimal, error) {
	account, err := GetAccount(ctx, db, accountId)
	if err != nil {
		return decimal.Zero, err
	}
	balances, err := BalancesAsOf(db.WithContext(ctx), account.BusinessId, []*Account{account}, date)
	if err != nil {
		return decimal.Zero, err
	}
	return balances[account.ID], nil
}

// directBalanceAsOf aggregates every posted line up to date and ignores snapshots.
func directBalanceAsOf(tx *gorm.DB, account *Account, date time.Time) (decimal.Decimal, error) {
	rows, err := sumLines(tx, account.BusinessId, []int{account.ID}, nil, date)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Natural(rows[account.ID].Net()), nil
}

func BalanceForPeriod(ctx context.Context, db *gorm.DB, accountId int, start, end time.Time) (*PeriodBalance, error) {
	account, err := GetAccount(ctx, db, accountId)
	if err != nil {
		return nil, err
	}
	return periodBalance(db.WithContext(ctx), account, start, end)
}

func periodBalance(tx *gorm.DB, account *Account, start, end time.Time) (*PeriodBalance, error) {
	start, end = utils.ToDate(start), utils.ToDate(end)
	if start.After(end) {
		return nil, errorf(ErrInvalidDateRange, "start %s is after end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	opening, err := BalancesAsOf(tx, account.BusinessId, []*Account{account}, utils.PreviousDay(start))
	if err != nil {
		return nil, err
	}
	dayBefore := utils.PreviousDay(start)
	rows, err := sumLines(tx, account.BusinessId, []int{account.ID}, &dayBefore, end)
	if err != nil {
		return nil, err
	}
	act := rows[account.ID]
	pb := &PeriodBalance{
		AccountId:    account.ID,
		PeriodStart:  start,
		PeriodEnd:    end,
		Opening:      opening[account.ID],
		PeriodDebit:  act.Debit,
		PeriodCredit: act.Credit,
		PeriodNet:    account.Natural(act.Net()),
	}
	pb.Closing = pb.Opening.Add(pb.PeriodNet)
	return pb, nil
}

// RollupBalanceAsOf sums an account and all of its descendants, each expressed in the
// natural direction of the account at the top of the rollup.
func RollupBalanceAsOf(ctx context.Context, db *gorm.DB, accountId int, date time.Time) (decimal.Decimal, error) {
	root, err := GetAccount(ctx, db, accountId)
	if err != nil {
		return decimal.Zero, err
	}
	descendants, err := ListDescendants(ctx, db, accountId)
	if err != nil {
		return decimal.Zero, err
	}
	accounts := append([]*Account{root}, descendants...)
	balances, err := BalancesAsOf(db.WithContext(ctx), root.BusinessId, accounts, date)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(root.Natural(a.Raw(balances[a.ID])))
	}
	return total, nil
}

// CashCounterpartActivity aggregates, per non-cash account, the lines of visible entries dated in
// [start, end] that also carry a line on one of cashAccountIds. Summed as credit minus debit, the
// result equals the net movement of the cash accounts over the range.
func CashCounterpartActivity(tx *gorm.DB, businessId string, cashAccountIds []int, start, end time.Time) (map[int]Activity, error) {
	start, end = utils.ToDate(start), utils.ToDate(end)
	if start.After(end) {
		return nil, errorf(ErrInvalidDateRange, "start %s is after end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	result := map[int]Activity{}
	if len(cashAccountIds) == 0 {
		return result, nil
	}
	var rows []Activity
	err := tx.Raw(`SELECT l.account_id AS account_id,
		COALESCE(SUM(l.debit), 0) AS debit,
		COALESCE(SUM(l.credit), 0) AS credit
	FROM journal_entry_lines l
	JOIN journal_entries e ON e.id = l.journal_entry_id
	WHERE e.business_id = ? AND e.status IN ? AND e.entry_date >= ? AND e.entry_date <= ?
		AND l.account_id NOT IN ?
		AND EXISTS (SELECT 1 FROM journal_entry_lines c WHERE c.journal_entry_id = e.id AND c.account_id IN ?)
	GROUP BY l.account_id`,
		businessId, LedgerVisibleStatuses, start, end, cashAccountIds, cashAccountIds).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		result[r.AccountId] = r
	}
	return result, nil
}
