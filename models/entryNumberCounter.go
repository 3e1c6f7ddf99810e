package models

import (
	"time"

	"github.com/mmdatafocus/books_ledger/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntryNumberCounter holds the last journal entry sequence handed out per business.
// Incrementing the row locks it until the surrounding transaction ends, so concurrent
// creates queue on the counter instead of racing for the same number.
type EntryNumberCounter struct {
	BusinessId   string    `gorm:"primaryKey;size:64" json:"business_id"`
	LastSequence int       `gorm:"not null;default:0" json:"last_sequence"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func nextEntrySequence(tx *gorm.DB, businessId string) (int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res := tx.Model(&EntryNumberCounter{}).Where("business_id = ?", businessId).
			UpdateColumn("last_sequence", gorm.Expr("last_sequence + 1"))
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			if err := seedEntryCounter(tx, businessId); err != nil {
				return 0, err
			}
			continue
		}
		var counter EntryNumberCounter
		if err := tx.Where("business_id = ?", businessId).First(&counter).Error; err != nil {
			return 0, err
		}
		return counter.LastSequence, nil
	}
	return 0, errorf(ErrConcurrencyConflict, "entry number counter for %s could not be created", businessId)
}

// seedEntryCounter starts the counter after any entries numbered before it existed.
// A concurrent seed of the same business is ignored.
func seedEntryCounter(tx *gorm.DB, businessId string) error {
	var maxSeq *int
	if err := tx.Model(&JournalEntry{}).Where("business_id = ?", businessId).
		Select("MAX(sequence_no)").Scan(&maxSeq).Error; err != nil {
		return err
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&EntryNumberCounter{BusinessId: businessId, LastSequence: utils.DereferencePtr(maxSeq)}).Error
}
