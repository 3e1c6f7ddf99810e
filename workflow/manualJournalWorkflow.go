package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EntryEventPayload is the body of ENTRY_POSTED and ENTRY_VOIDED events.
type EntryEventPayload struct {
	EntryId        int             `json:"entry_id"`
	EntryNumber    string          `json:"entry_number"`
	EntryDate      string          `json:"entry_date"`
	EntryKind      string          `json:"entry_kind"`
	TotalDebit     decimal.Decimal `json:"total_debit"`
	TotalCredit    decimal.Decimal `json:"total_credit"`
	AccountIds     []int           `json:"account_ids"`
	Actor          string          `json:"actor"`
	ReversalId     int             `json:"reversal_id,omitempty"`
	ReversalNumber string          `json:"reversal_number,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

func newEntryEventPayload(entry *models.JournalEntry, actor string) EntryEventPayload {
	return EntryEventPayload{
		EntryId:     entry.ID,
		EntryNumber: entry.EntryNumber,
		EntryDate:   entry.EntryDate.Format(time.DateOnly),
		EntryKind:   string(entry.EntryKind),
		TotalDebit:  entry.TotalDebit,
		TotalCredit: entry.TotalCredit,
		AccountIds:  entry.AccountIds(),
		Actor:       actor,
	}
}

// PostJournalEntry posts a draft entry. Every account the entry touches is locked, in id order,
// first in Redis when it is configured and then as rows inside the transaction, so concurrent
// postings to shared accounts serialize and postings to disjoint accounts do not.
// ENTRY_POSTED is written to the outbox in the same transaction.
func PostJournalEntry(ctx context.Context, db *gorm.DB, id int, actor string) (*models.JournalEntry, error) {
	logger := config.GetLogger()
	businessId, actor, err := requireActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	accountIds, err := models.EntryAccountIds(ctx, db, id)
	if err != nil {
		return nil, err
	}
	locks, err := acquireAccountLocks(ctx, businessId, accountIds)
	if err != nil {
		return nil, err
	}
	defer locks.release(ctx)

	var posted *models.JournalEntry
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := models.LockAccounts(tx, businessId, accountIds); err != nil {
			return err
		}
		entry, err := models.PostEntry(ctx, tx, id, actor, postingRequiresApproval())
		if err != nil {
			return err
		}
		if !sameIds(entry.AccountIds(), accountIds) {
			return models.ErrConcurrencyConflict
		}
		posted = entry
		return models.PublishLedgerEvent(ctx, tx, businessId, models.LedgerEventEntryPosted,
			models.AggregateJournalEntry, entry.ID, newEntryEventPayload(entry, actor))
	})
	if err != nil {
		err = models.TranslateDBError(err)
		config.LogError(logger, "manualJournalWorkflow.go", "PostJournalEntry", "posting entry", id, err)
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"field":        "PostJournalEntry",
		"business_id":  businessId,
		"entry_id":     posted.ID,
		"entry_number": posted.EntryNumber,
		"accounts":     len(accountIds),
	}).Info("journal entry posted")
	return posted, nil
}

// sameIds compares two ascending id lists.
func sameIds(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
