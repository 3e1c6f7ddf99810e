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

type ReconciliationEventPayload struct {
	ReconciliationId int             `json:"reconciliation_id"`
	AccountId        int             `json:"account_id"`
	PeriodStart      string          `json:"period_start"`
	PeriodEnd        string          `json:"period_end"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
	ClearedBalance   decimal.Decimal `json:"cleared_balance"`
	Items            int             `json:"items"`
	Actor            string          `json:"actor"`
}

func newReconciliationEventPayload(rec *models.Reconciliation, actor string) ReconciliationEventPayload {
	return ReconciliationEventPayload{
		ReconciliationId: rec.ID,
		AccountId:        rec.AccountId,
		PeriodStart:      rec.PeriodStart.Format(time.DateOnly),
		PeriodEnd:        rec.PeriodEnd.Format(time.DateOnly),
		StatementBalance: rec.StatementBalance,
		ClearedBalance:   rec.ClearedBalance,
		Items:            len(rec.Items),
		Actor:            actor,
	}
}

// AutoMatchReconciliation matches the reconciliation's window using the configured date tolerance.
// When matching leaves it COMPLETED, RECONCILIATION_COMPLETED is written in the same transaction.
func AutoMatchReconciliation(ctx context.Context, db *gorm.DB, id int, actor string) (*models.Reconciliation, error) {
	logger := config.GetLogger()
	businessId, actor, err := requireActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	window := config.GetLedgerConfig().ReconcileDateWindowDays

	var rec *models.Reconciliation
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err = models.AutoMatch(ctx, tx, id, window, actor)
		if err != nil {
			return err
		}
		if rec.Status != models.ReconciliationStatusCompleted {
			return nil
		}
		return models.PublishLedgerEvent(ctx, tx, businessId, models.LedgerEventReconciliationCompleted,
			models.AggregateReconciliation, rec.ID, newReconciliationEventPayload(rec, actor))
	})
	if err != nil {
		err = models.TranslateDBError(err)
		config.LogError(logger, "reconciliationWorkflow.go", "AutoMatchReconciliation", "auto-matching", id, err)
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"field":             "AutoMatchReconciliation",
		"business_id":       businessId,
		"reconciliation_id": rec.ID,
		"status":            rec.Status,
		"difference":        rec.Difference.String(),
	}).Info("reconciliation auto-matched")
	return rec, nil
}

// CompleteReconciliation finalizes a reconciliation whose items are all matched and whose
// difference is within tolerance.
func CompleteReconciliation(ctx context.Context, db *gorm.DB, id int, actor string) (*models.Reconciliation, error) {
	logger := config.GetLogger()
	businessId, actor, err := requireActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	var rec *models.Reconciliation
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err = models.CompleteReconciliation(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		return models.PublishLedgerEvent(ctx, tx, businessId, models.LedgerEventReconciliationCompleted,
			models.AggregateReconciliation, rec.ID, newReconciliationEventPayload(rec, actor))
	})
	if err != nil {
		err = models.TranslateDBError(err)
		config.LogError(logger, "reconciliationWorkflow.go", "CompleteReconciliation", "completing", id, err)
		return nil, err
	}
	return rec, nil
}
