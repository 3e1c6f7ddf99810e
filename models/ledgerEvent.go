package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/utils"
	"gorm.io/gorm"
)

// LedgerEventRecord is the transactional outbox row. It is written in the same transaction
// as the change it describes; the outbox dispatcher publishes it after commit.
type LedgerEventRecord struct {
	ID            int             `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId    string          `gorm:"size:64;not null;index" json:"business_id"`
	EventType     LedgerEventType `gorm:"size:40;not null;index" json:"event_type"`
	AggregateType string          `gorm:"size:40;not null" json:"aggregate_type"`
	AggregateId   int             `gorm:"not null;index" json:"aggregate_id"`
	OccurredAt    time.Time       `gorm:"not null;index" json:"occurred_at"`
	Payload       []byte          `gorm:"type:blob" json:"payload"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	AggregateJournalEntry   = "journal_entry"
	AggregateFiscalPeriod   = "fiscal_period"
	AggregateReconciliation = "reconciliation"
)

// PublishLedgerEvent records event in the caller's transaction. Nothing reaches Pub/Sub until
// the transaction commits and the dispatcher picks the row up.
func PublishLedgerEvent(ctx context.Context, tx *gorm.DB, businessId string, eventType LedgerEventType, aggregateType string, aggregateId int, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	record := LedgerEventRecord{
		BusinessId:    businessId,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateId:   aggregateId,
		OccurredAt:    time.Now().UTC(),
		Payload:       data,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: utils.CorrelationIdOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func ConvertToLedgerEventMessage(record LedgerEventRecord) config.LedgerEventMessage {
	return config.LedgerEventMessage{
		ID:            record.ID,
		BusinessId:    record.BusinessId,
		EventType:     string(record.EventType),
		AggregateType: record.AggregateType,
		AggregateId:   record.AggregateId,
		OccurredAt:    record.OccurredAt,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}

// ListLedgerEvents returns outbox rows of the business in a publish status, oldest first.
func ListLedgerEvents(ctx context.Context, db *gorm.DB, status string, limit int) ([]*LedgerEventRecord, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []*LedgerEventRecord
	q := db.WithContext(ctx).Where("business_id = ?", businessId)
	if status != "" {
		q = q.Where("publish_status = ?", status)
	}
	if err := q.Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ReviveDeadLedgerEvents puts DEAD rows back to PENDING with a fresh attempt budget.
func ReviveDeadLedgerEvents(ctx context.Context, db *gorm.DB) (int64, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return 0, err
	}
	res := db.WithContext(ctx).Model(&LedgerEventRecord{}).
		Where("business_id = ? AND publish_status = ?", businessId, OutboxPublishStatusDead).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusPending,
			"publish_attempts":   0,
			"next_attempt_at":    nil,
			"last_publish_error": nil,
		})
	return res.RowsAffected, res.Error
}
