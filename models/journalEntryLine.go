package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type JournalEntryLine struct {
	ID             int             `gorm:"primary_key" json:"id"`
	JournalEntryId int             `gorm:"not null;uniqueIndex:uniq_entry_line,priority:1" json:"journal_entry_id"`
	BusinessId     string          `gorm:"size:64;not null;index:idx_jel_biz_acct,priority:1" json:"business_id"`
	LineNo         int             `gorm:"not null;uniqueIndex:uniq_entry_line,priority:2" json:"line_no"`
	AccountId      int             `gorm:"not null;index;index:idx_jel_biz_acct,priority:2" json:"account_id"`
	Description    string          `gorm:"size:255" json:"description"`
	Debit          decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"debit"`
	Credit         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"credit"`
	CurrencyCode   string          `gorm:"size:3" json:"currency_code"`
	TaxCode        string          `gorm:"size:32" json:"tax_code"`
	EntityRef      string          `gorm:"size:100" json:"entity_ref"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewJournalEntryLine struct {
	AccountId   int             `json:"account_id" validate:"required,gt=0"`
	Description string          `json:"description" validate:"max=255"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	TaxCode     string          `json:"tax_code" validate:"max=32"`
	EntityRef   string          `json:"entity_ref" validate:"max=100"`
}

// Net is debit minus credit.
func (l *JournalEntryLine) Net() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// checkLine enforces that exactly one side of a line carries a positive amount.
func checkLine(lineNo int, debit, credit decimal.Decimal) error {
	if debit.IsNegative() || credit.IsNegative() {
		return errorf(ErrValidation, "line %d: amounts must not be negative", lineNo)
	}
	if debit.IsPositive() && credit.IsPositive() {
		return errorf(ErrInvalidLine, "line %d: debit and credit cannot both be set", lineNo)
	}
	if debit.IsZero() && credit.IsZero() {
		return errorf(ErrValidation, "line %d: either debit or credit must have a positive amount", lineNo)
	}
	return nil
}

// Lines are append-only. A draft replaces its lines by deleting and reinserting them;
// lines of posted or void entries can never be deleted.

func (l *JournalEntryLine) BeforeUpdate(tx *gorm.DB) error {
	return errorf(ErrImmutableLedger, "journal entry lines cannot be updated")
}

func (l *JournalEntryLine) BeforeDelete(tx *gorm.DB) error {
	entryId := l.JournalEntryId
	if entryId == 0 && l.ID > 0 {
		if err := tx.Session(&gorm.Session{NewDB: true}).Model(&JournalEntryLine{}).
			Where("id = ?", l.ID).Select("journal_entry_id").Scan(&entryId).Error; err != nil {
			return err
		}
	}
	if entryId == 0 {
		return errorf(ErrImmutableLedger, "journal entry lines may only be deleted through their draft entry")
	}
	status, err := entryStatus(tx, entryId)
	if err != nil {
		return err
	}
	if status == JournalEntryStatusPosted || status == JournalEntryStatusVoid {
		return errorf(ErrImmutableLedger, "lines of a %s entry cannot be deleted", status)
	}
	return nil
}

func entryStatus(tx *gorm.DB, entryId int) (JournalEntryStatus, error) {
	var status JournalEntryStatus
	err := tx.Session(&gorm.Session{NewDB: true}).Model(&JournalEntry{}).
		Where("id = ?", entryId).Select("status").Scan(&status).Error
	return status, err
}
