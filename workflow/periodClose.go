package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type PeriodClosedPayload struct {
	FiscalPeriodId int    `json:"fiscal_period_id"`
	Name           string `json:"name"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	Snapshots      int    `json:"snapshots"`
	Actor          string `json:"actor"`
}

// ClosePeriod closes the fiscal period ending on periodEnd. Each account gets an immutable
// snapshot of its opening, activity and closing balance, and the period stops accepting
// postings. Closing an already closed period fails with PeriodAlreadyClosed and writes nothing.
func ClosePeriod(ctx context.Context, db *gorm.DB, periodEnd time.Time, actor string) (*models.FiscalPeriod, []*models.AccountBalance, error) {
	logger := config.GetLogger()
	businessId, actor, err := requireActor(ctx, actor)
	if err != nil {
		return nil, nil, err
	}

	var period *models.FiscalPeriod
	var snapshots []*models.AccountBalance
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		release, err := acquireBusinessCloseLock(tx, businessId)
		if err != nil {
			return err
		}
		defer release()

		period, snapshots, err = models.ClosePeriodSnapshots(ctx, tx, periodEnd, actor)
		if err != nil {
			return err
		}
		return models.PublishLedgerEvent(ctx, tx, businessId, models.LedgerEventPeriodClosed,
			models.AggregateFiscalPeriod, period.ID, PeriodClosedPayload{
				FiscalPeriodId: period.ID,
				Name:           period.Name,
				StartDate:      period.StartDate.Format(time.DateOnly),
				EndDate:        period.EndDate.Format(time.DateOnly),
				Snapshots:      len(snapshots),
				Actor:          actor,
			})
	})
	if err != nil {
		err = models.TranslateDBError(err)
		config.LogError(logger, "periodClose.go", "ClosePeriod", "closing period", periodEnd.Format(time.DateOnly), err)
		return nil, nil, err
	}
	logger.WithFields(logrus.Fields{
		"field":       "ClosePeriod",
		"business_id": businessId,
		"period":      period.Name,
		"snapshots":   len(snapshots),
	}).Info("fiscal period closed")
	return period, snapshots, nil
}
