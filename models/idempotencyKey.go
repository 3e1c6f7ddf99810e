package models

import (
	"time"

	"gorm.io/gorm"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
)

// IdempotencyKey makes a client-keyed operation durable against retries.
// Unique constraint: (business_id, operation, idempotency_key).
type IdempotencyKey struct {
	ID             int               `gorm:"primary_key" json:"id"`
	BusinessId     string            `gorm:"size:64;not null;uniqueIndex:uniq_idem,priority:1" json:"business_id"`
	Operation      string            `gorm:"size:100;not null;uniqueIndex:uniq_idem,priority:2" json:"operation"`
	IdempotencyKey string            `gorm:"size:255;not null;uniqueIndex:uniq_idem,priority:3" json:"idempotency_key"`
	Status         IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	ResourceId     int               `gorm:"not null;default:0" json:"resource_id"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// beginIdempotency claims key inside tx. It returns the id of the resource a previous
// successful attempt produced, or 0 when the caller should proceed.
// The claim commits or rolls back together with the caller's work, so a concurrent
// duplicate blocks on the unique index until the first attempt finishes.
func beginIdempotency(tx *gorm.DB, businessId, operation, key string) (int, error) {
	claim := IdempotencyKey{
		BusinessId:     businessId,
		Operation:      operation,
		IdempotencyKey: key,
		Status:         IdempotencyStatusStarted,
	}
	err := tx.Create(&claim).Error
	if err == nil {
		return 0, nil
	}
	if !isDuplicateKeyErr(err) {
		return 0, err
	}

	var existing IdempotencyKey
	if err := tx.Where("business_id = ? AND operation = ? AND idempotency_key = ?", businessId, operation, key).
		First(&existing).Error; err != nil {
		return 0, err
	}
	if existing.Status == IdempotencyStatusSucceeded && existing.ResourceId > 0 {
		return existing.ResourceId, nil
	}
	return 0, errorf(ErrConcurrencyConflict, "operation %s with key %q is in progress", operation, key)
}

func markIdempotencySucceeded(tx *gorm.DB, businessId, operation, key string, resourceId int) error {
	return tx.Model(&IdempotencyKey{}).
		Where("business_id = ? AND operation = ? AND idempotency_key = ?", businessId, operation, key).
		Updates(map[string]interface{}{"status": IdempotencyStatusSucceeded, "resource_id": resourceId}).Error
}
