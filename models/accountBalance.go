package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountBalance is the closed-period snapshot of one account. Balances are in the
// account's natural direction. Rows are written only by ClosePeriodSnapshots.
type AccountBalance struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"size:64;not null;index:idx_ab_biz_end,priority:1" json:"business_id"`
	AccountId      int             `gorm:"not null;uniqueIndex:uniq_account_period,priority:1" json:"account_id"`
	FiscalPeriodId int             `gorm:"not null;index" json:"fiscal_period_id"`
	PeriodStart    time.Time       `gorm:"type:date;not null;uniqueIndex:uniq_account_period,priority:2" json:"period_start"`
	PeriodEnd      *time.Time      `gorm:"type:date;index:idx_ab_biz_end,priority:2" json:"period_end"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"opening_balance"`
	PeriodDebit    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"period_debit"`
	PeriodCredit   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"period_credit"`
	ClosingBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"closing_balance"`
	CreatedBy      string          `gorm:"size:100" json:"created_by"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (b *AccountBalance) BeforeUpdate(tx *gorm.DB) error {
	return errorf(ErrImmutableLedger, "account balance snapshots cannot be updated")
}

func (b *AccountBalance) BeforeDelete(tx *gorm.DB) error {
	return errorf(ErrImmutableLedger, "account balance snapshots cannot be deleted")
}

// LockAccounts takes row locks on the given accounts in id order.
func LockAccounts(tx *gorm.DB, businessId string, accountIds []int) ([]*Account, error) {
	var accounts []*Account
	if len(accountIds) == 0 {
		return accounts, nil
	}
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id IN ?", businessId, accountIds).
		Order("id ASC").Find(&accounts).Error
	return accounts, err
}

// ClosePeriodSnapshots closes the fiscal period ending on periodEnd inside tx: it writes one
// snapshot per account and marks the period closed.
func ClosePeriodSnapshots(ctx context.Context, tx *gorm.DB, periodEnd time.Time, actor string) (*FiscalPeriod, []*AccountBalance, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, nil, err
	}
	periodEnd = utils.ToDate(periodEnd)

	var period FiscalPeriod
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND end_date = ?", businessId, periodEnd).First(&period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, errorf(ErrPeriodNotFound, "no fiscal period ends on %s", periodEnd.Format(time.DateOnly))
	}
	if err != nil {
		return nil, nil, err
	}
	if period.IsClosed {
		return nil, nil, errorf(ErrPeriodAlreadyClosed, "period %s is already closed", period.Name)
	}
	var existing int64
	if err := tx.Model(&AccountBalance{}).
		Where("business_id = ? AND period_start = ?", businessId, period.StartDate).
		Count(&existing).Error; err != nil {
		return nil, nil, err
	}
	if existing > 0 {
		return nil, nil, errorf(ErrPeriodAlreadyClosed, "snapshots already exist for period starting %s", period.StartDate.Format(time.DateOnly))
	}

	var ids []int
	if err := tx.Model(&Account{}).Where("business_id = ?", businessId).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, nil, err
	}
	accounts, err := LockAccounts(tx, businessId, ids)
	if err != nil {
		return nil, nil, err
	}

	openings, err := BalancesAsOf(tx, businessId, accounts, utils.PreviousDay(period.StartDate))
	if err != nil {
		return nil, nil, err
	}
	activity, err := AccountActivity(tx, businessId, period.StartDate, period.EndDate)
	if err != nil {
		return nil, nil, err
	}

	end := period.EndDate
	snapshots := make([]*AccountBalance, 0, len(accounts))
	for _, a := range accounts {
		act := activity[a.ID]
		opening := openings[a.ID]
		snapshots = append(snapshots, &AccountBalance{
			BusinessId:     businessId,
			AccountId:      a.ID,
			FiscalPeriodId: period.ID,
			PeriodStart:    period.StartDate,
			PeriodEnd:      &end,
			OpeningBalance: opening,
			PeriodDebit:    act.Debit,
			PeriodCredit:   act.Credit,
			ClosingBalance: opening.Add(a.Natural(act.Net())),
			CreatedBy:      actor,
		})
	}
	if len(snapshots) > 0 {
		if err := tx.CreateInBatches(snapshots, 200).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return nil, nil, errorf(ErrPeriodAlreadyClosed, "period %s was closed concurrently", period.Name)
			}
			return nil, nil, err
		}
	}

	now := time.Now().UTC()
	if err := tx.Model(&period).Updates(map[string]interface{}{
		"IsClosed": true,
		"ClosedAt": now,
		"ClosedBy": actor,
	}).Error; err != nil {
		return nil, nil, err
	}
	return &period, snapshots, nil
}

func ListAccountBalances(ctx context.Context, db *gorm.DB, fiscalPeriodId int) ([]*AccountBalance, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	var rows []*AccountBalance
	if err := db.WithContext(ctx).
		Where("business_id = ? AND fiscal_period_id = ?", businessId, fiscalPeriodId).
		Order("account_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
