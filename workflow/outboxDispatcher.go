package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventPublisher delivers one ledger event and returns the broker's message id.
// *config.PubSubPublisher is the production implementation.
type EventPublisher interface {
	Publish(ctx context.Context, msg config.LedgerEventMessage) (string, error)
}

// OutboxDispatcher publishes committed ledger events at least once. On MySQL rows are
// claimed with SKIP LOCKED so several dispatchers can share the table.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Publisher    EventPublisher
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger, publisher EventPublisher) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		Publisher:      publisher,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

// Run dispatches until ctx is done. A fully delivered batch is followed at once by the next.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	interval := d.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for ctx.Err() == nil {
		if d.BatchSize > 0 && d.DispatchOnce(ctx) >= d.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch, publishes it and returns how many events were delivered.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	if d.DB == nil || d.Publisher == nil {
		return 0
	}
	// Events of every business go through one dispatcher.
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	now := time.Now().UTC()

	batch, err := d.claim(ctx, now)
	if err != nil {
		config.LogError(d.logger(), "outboxDispatcher.go", "DispatchOnce", "claiming outbox batch", d.DispatcherID, err)
		return 0
	}
	delivered := 0
	for _, event := range batch {
		if d.deliver(ctx, event, now) {
			delivered++
		}
	}
	return delivered
}

// claimable selects events that are due, plus PROCESSING events whose claim outlived lockTimeout.
func claimable(now time.Time, lockTimeout time.Duration) func(*gorm.DB) *gorm.DB {
	retryable := []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(
			"(publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (publish_status = ? AND locked_at <= ?)",
			retryable, now, models.OutboxPublishStatusProcessing, now.Add(-lockTimeout))
	}
}

// claim locks the next batch to this dispatcher. Events already out of attempts go
// straight to DEAD and are not returned.
func (d *OutboxDispatcher) claim(ctx context.Context, now time.Time) ([]models.LedgerEventRecord, error) {
	var batch []models.LedgerEventRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Scopes(claimable(now, d.LockTimeout)).Order("id ASC").Limit(d.BatchSize)
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var due []models.LedgerEventRecord
		if err := q.Find(&due).Error; err != nil {
			return err
		}

		var exhausted, claimed []int
		for _, event := range due {
			if d.outOfAttempts(event.PublishAttempts) {
				exhausted = append(exhausted, event.ID)
				continue
			}
			event.PublishAttempts++
			claimed = append(claimed, event.ID)
			batch = append(batch, event)
		}
		if len(exhausted) > 0 {
			reason := fmt.Sprintf("gave up after %d publish attempts", d.MaxAttempts)
			if err := tx.Model(&models.LedgerEventRecord{}).Where("id IN ?", exhausted).
				Updates(deadLettered(reason)).Error; err != nil {
				return err
			}
		}
		if len(claimed) == 0 {
			return nil
		}
		return tx.Model(&models.LedgerEventRecord{}).Where("id IN ?", claimed).Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusProcessing,
			"locked_at":          now,
			"locked_by":          d.DispatcherID,
			"publish_attempts":   gorm.Expr("publish_attempts + 1"),
			"last_publish_error": nil,
			"next_attempt_at":    nil,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, event models.LedgerEventRecord, now time.Time) bool {
	log := d.logger().WithFields(logrus.Fields{
		"field":       "OutboxDispatcher",
		"business_id": event.BusinessId,
		"record_id":   event.ID,
		"event_type":  event.EventType,
		"aggregate":   fmt.Sprintf("%s:%d", event.AggregateType, event.AggregateId),
		"attempt":     event.PublishAttempts,
	})
	msgID, err := d.Publisher.Publish(ctx, models.ConvertToLedgerEventMessage(event))
	if err != nil {
		d.markPublishFailed(ctx, event, err, log)
		return false
	}
	d.markPublishSent(ctx, event.ID, msgID, now)
	log.Debug("ledger event published")
	return true
}

func (d *OutboxDispatcher) outOfAttempts(attempts int) bool {
	return d.MaxAttempts > 0 && attempts >= d.MaxAttempts
}

func (d *OutboxDispatcher) logger() *logrus.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return config.GetLogger()
}

// released drops the dispatcher's claim and records status.
func released(status string) map[string]interface{} {
	return map[string]interface{}{
		"publish_status":  status,
		"locked_at":       nil,
		"locked_by":       nil,
		"next_attempt_at": nil,
	}
}

func deadLettered(reason string) map[string]interface{} {
	fields := released(models.OutboxPublishStatusDead)
	fields["last_publish_error"] = reason
	return fields
}

func (d *OutboxDispatcher) settle(ctx context.Context, recordID int, fields map[string]interface{}) {
	err := d.DB.WithContext(ctx).Model(&models.LedgerEventRecord{}).Where("id = ?", recordID).Updates(fields).Error
	config.LogError(d.logger(), "outboxDispatcher.go", "settle", "recording publish outcome", recordID, err)
}

func (d *OutboxDispatcher) markPublishSent(ctx context.Context, recordID int, msgID string, now time.Time) {
	fields := released(models.OutboxPublishStatusSent)
	fields["published_at"] = now
	fields["pub_sub_message_id"] = msgID
	d.settle(ctx, recordID, fields)
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, event models.LedgerEventRecord, err error, log *logrus.Entry) {
	reason := err.Error()
	if d.outOfAttempts(event.PublishAttempts) {
		d.settle(ctx, event.ID, deadLettered(reason))
		log.Error("ledger event moved to DEAD: " + reason)
		return
	}
	next := time.Now().UTC().Add(retryBackoff(d.InitialBackoff, event.PublishAttempts))
	fields := released(models.OutboxPublishStatusFailed)
	fields["last_publish_error"] = reason
	fields["next_attempt_at"] = next
	d.settle(ctx, event.ID, fields)
	log.WithField("next_attempt_at", next.Format(time.RFC3339Nano)).Warn("ledger event publish failed: " + reason)
}

// retryBackoff doubles from initial per attempt, capped at ten minutes.
func retryBackoff(initial time.Duration, attempt int) time.Duration {
	const ceiling = 10 * time.Minute
	backoff := initial
	for i := 1; i < attempt && backoff < ceiling; i++ {
		backoff *= 2
	}
	if backoff > ceiling {
		return ceiling
	}
	return backoff
}
