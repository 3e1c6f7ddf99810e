package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// VoidJournalEntry voids a posted entry. Posted lines are never edited or deleted: the original
// turns VOID and a posted reversing entry on the same date swaps every line's sides, so the
// pair nets to zero in every balance. Returns the voided entry and its reversal.
func VoidJournalEntry(ctx context.Context, db *gorm.DB, id int, reason, actor string) (*models.JournalEntry, *models.JournalEntry, error) {
	logger := config.GetLogger()
	businessId, actor, err := requireActor(ctx, actor)
	if err != nil {
		return nil, nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, nil, models.ErrValidation
	}
	accountIds, err := models.EntryAccountIds(ctx, db, id)
	if err != nil {
		return nil, nil, err
	}
	locks, err := acquireAccountLocks(ctx, businessId, accountIds)
	if err != nil {
		return nil, nil, err
	}
	defer locks.release(ctx)

	var voided, reversal *models.JournalEntry
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := models.LockAccounts(tx, businessId, accountIds); err != nil {
			return err
		}
		voided, reversal, err = models.VoidEntry(ctx, tx, id, reason, actor)
		if err != nil {
			return err
		}
		payload := newEntryEventPayload(voided, actor)
		payload.ReversalId = reversal.ID
		payload.ReversalNumber = reversal.EntryNumber
		payload.Reason = reason
		return models.PublishLedgerEvent(ctx, tx, businessId, models.LedgerEventEntryVoided,
			models.AggregateJournalEntry, voided.ID, payload)
	})
	if err != nil {
		err = models.TranslateDBError(err)
		config.LogError(logger, "journalReversal.go", "VoidJournalEntry", "voiding entry", id, err)
		return nil, nil, err
	}
	logger.WithFields(logrus.Fields{
		"field":           "VoidJournalEntry",
		"business_id":     businessId,
		"entry_id":        voided.ID,
		"reversal_id":     reversal.ID,
		"reversal_number": reversal.EntryNumber,
	}).Info("journal entry voided")
	return voided, reversal, nil
}
