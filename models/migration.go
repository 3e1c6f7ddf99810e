package models

import (
	"gorm.io/gorm"
)

// AllModels lists every table the ledger owns, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&Account{},
		&FiscalPeriod{},
		&JournalEntry{}, &JournalEntryLine{},
		&EntryNumberCounter{},
		&AccountBalance{},
		&BankTransaction{},
		&Reconciliation{}, &ReconciliationItem{},
		&LedgerEventRecord{},
		&IdempotencyKey{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
