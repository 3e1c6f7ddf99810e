package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BankTransaction is a statement line supplied by the bank-import collaborator.
// Amount is signed from the bank's point of view: positive is money into the account.
type BankTransaction struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"size:64;not null;index:idx_bt_biz_acct_date,priority:1" json:"business_id"`
	AccountId       int             `gorm:"not null;index:idx_bt_biz_acct_date,priority:2;uniqueIndex:uniq_bank_txn_ref,priority:1" json:"account_id"`
	TransactionDate time.Time       `gorm:"type:date;not null;index:idx_bt_biz_acct_date,priority:3" json:"transaction_date"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Description     string          `gorm:"size:255" json:"description"`
	ExternalRef     string          `gorm:"size:100;not null;uniqueIndex:uniq_bank_txn_ref,priority:2" json:"external_ref"`
	ImportedAt      time.Time       `gorm:"autoCreateTime" json:"imported_at"`
}

type NewBankTransaction struct {
	TransactionDate time.Time       `json:"transaction_date" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description" validate:"max=255"`
	ExternalRef     string          `json:"external_ref" validate:"required,max=100"`
}

// ImportBankTransactions stores the statement lines of an account, skipping any whose
// external reference was already imported. It returns the newly stored rows.
func ImportBankTransactions(ctx context.Context, db *gorm.DB, accountId int, input []NewBankTransaction) ([]*BankTransaction, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	for i := range input {
		if err := utils.ValidateStruct(&input[i]); err != nil {
			return nil, errorf(ErrValidation, "bank transaction %d: %v", i+1, err)
		}
		if input[i].Amount.IsZero() {
			return nil, errorf(ErrValidation, "bank transaction %s has a zero amount", input[i].ExternalRef)
		}
	}
	if _, err := GetAccount(ctx, db, accountId); err != nil {
		return nil, err
	}

	var imported []*BankTransaction
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		refs := make([]string, 0, len(input))
		for _, in := range input {
			refs = append(refs, strings.TrimSpace(in.ExternalRef))
		}
		var known []string
		if len(refs) > 0 {
			if err := tx.Model(&BankTransaction{}).
				Where("account_id = ? AND external_ref IN ?", accountId, refs).
				Pluck("external_ref", &known).Error; err != nil {
				return err
			}
		}
		seen := make(map[string]bool, len(known))
		for _, ref := range known {
			seen[ref] = true
		}
		for _, in := range input {
			ref := strings.TrimSpace(in.ExternalRef)
			if seen[ref] {
				continue
			}
			seen[ref] = true
			imported = append(imported, &BankTransaction{
				BusinessId:      businessId,
				AccountId:       accountId,
				TransactionDate: utils.ToDate(in.TransactionDate),
				Amount:          in.Amount,
				Description:     in.Description,
				ExternalRef:     ref,
			})
		}
		if len(imported) == 0 {
			return nil
		}
		return tx.CreateInBatches(imported, 200).Error
	})
	if err != nil {
		if isDuplicateKeyErr(err) {
			return nil, errorf(ErrConcurrencyConflict, "bank transactions were imported concurrently")
		}
		return nil, TranslateDBError(err)
	}
	return imported, nil
}

func ListBankTransactions(ctx context.Context, db *gorm.DB, accountId int, start, end time.Time) ([]*BankTransaction, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	var rows []*BankTransaction
	err = db.WithContext(ctx).
		Where("business_id = ? AND account_id = ? AND transaction_date >= ? AND transaction_date <= ?",
			businessId, accountId, utils.ToDate(start), utils.ToDate(end)).
		Order("transaction_date ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
