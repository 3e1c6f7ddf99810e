package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/books_ledger/utils"
	"gorm.io/gorm"
)

type FiscalPeriod struct {
	ID         int        `gorm:"primary_key" json:"id"`
	BusinessId string     `gorm:"size:64;not null;index:idx_fp_biz_range,priority:1" json:"business_id"`
	Name       string     `gorm:"size:100;not null" json:"name"`
	FiscalYear int        `gorm:"not null;index" json:"fiscal_year"`
	StartDate  time.Time  `gorm:"type:date;not null;index:idx_fp_biz_range,priority:2" json:"start_date"`
	EndDate    time.Time  `gorm:"type:date;not null;index:idx_fp_biz_range,priority:3" json:"end_date"`
	IsClosed   bool       `gorm:"not null;default:false;index" json:"is_closed"`
	ClosedAt   *time.Time `json:"closed_at"`
	ClosedBy   *string    `gorm:"size:100" json:"closed_by"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewFiscalPeriod struct {
	Name       string    `json:"name" validate:"required,max=100"`
	FiscalYear int       `json:"fiscal_year" validate:"required,gte=1900,lte=9999"`
	StartDate  time.Time `json:"start_date" validate:"required"`
	EndDate    time.Time `json:"end_date" validate:"required"`
}

// Contains reports whether d falls within the period, both ends inclusive.
func (p *FiscalPeriod) Contains(d time.Time) bool {
	d = utils.ToDate(d)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

func CreateFiscalPeriod(ctx context.Context, db *gorm.DB, input *NewFiscalPeriod) (*FiscalPeriod, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, errorf(ErrValidation, "%v", err)
	}
	period := FiscalPeriod{
		BusinessId: businessId,
		Name:       input.Name,
		FiscalYear: input.FiscalYear,
		StartDate:  utils.ToDate(input.StartDate),
		EndDate:    utils.ToDate(input.EndDate),
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertPeriod(tx, &period)
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return &period, nil
}

func insertPeriod(tx *gorm.DB, period *FiscalPeriod) error {
	if period.StartDate.After(period.EndDate) {
		return errorf(ErrInvalidDateRange, "period %s starts after it ends", period.Name)
	}
	var overlapping int64
	if err := tx.Model(&FiscalPeriod{}).
		Where("business_id = ? AND start_date <= ? AND end_date >= ?", period.BusinessId, period.EndDate, period.StartDate).
		Count(&overlapping).Error; err != nil {
		return err
	}
	if overlapping > 0 {
		return errorf(ErrPeriodOverlap, "period %s (%s to %s) overlaps an existing period", period.Name,
			period.StartDate.Format(time.DateOnly), period.EndDate.Format(time.DateOnly))
	}
	return tx.Create(period).Error
}

// GenerateFiscalYear creates the twelve monthly periods of the fiscal year that begins
// in startMonth of year. Fails without writing if any month overlaps an existing period.
func GenerateFiscalYear(ctx context.Context, db *gorm.DB, year int, startMonth time.Month) ([]*FiscalPeriod, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if startMonth < time.January || startMonth > time.December {
		return nil, errorf(ErrValidation, "invalid fiscal year start month %d", startMonth)
	}
	fyStart, _ := utils.GetFiscalYearRange(startMonth, year)

	var periods []*FiscalPeriod
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < 12; i++ {
			start := fyStart.AddDate(0, i, 0)
			period := &FiscalPeriod{
				BusinessId: businessId,
				Name:       fmt.Sprintf("FY%d-%02d %s", year, i+1, start.Format("Jan 2006")),
				FiscalYear: year,
				StartDate:  start,
				EndDate:    start.AddDate(0, 1, -1),
			}
			if err := insertPeriod(tx, period); err != nil {
				return err
			}
			periods = append(periods, period)
		}
		return nil
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return periods, nil
}

func ListFiscalPeriods(ctx context.Context, db *gorm.DB, fiscalYear *int) ([]*FiscalPeriod, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if fiscalYear != nil {
		dbCtx = dbCtx.Where("fiscal_year = ?", *fiscalYear)
	}
	var periods []*FiscalPeriod
	if err := dbCtx.Order("start_date ASC").Find(&periods).Error; err != nil {
		return nil, err
	}
	return periods, nil
}

// PeriodForDate returns the period containing date.
func PeriodForDate(ctx context.Context, db *gorm.DB, date time.Time) (*FiscalPeriod, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	date = utils.ToDate(date)
	var period FiscalPeriod
	err = db.WithContext(ctx).
		Where("business_id = ? AND start_date <= ? AND end_date >= ?", businessId, date, date).
		First(&period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errorf(ErrPeriodNotFound, "no fiscal period contains %s", date.Format(time.DateOnly))
	}
	if err != nil {
		return nil, err
	}
	return &period, nil
}

// EnsurePeriodOpen fails with ErrPeriodClosed when date is on or before the end of any closed period.
// Closed snapshots carry cumulative balances, so back-dating behind one would invalidate it.
func EnsurePeriodOpen(tx *gorm.DB, businessId string, date time.Time) error {
	date = utils.ToDate(date)
	var closed FiscalPeriod
	err := tx.Where("business_id = ? AND is_closed = ? AND end_date >= ?", businessId, true, date).
		Order("start_date ASC").First(&closed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return errorf(ErrPeriodClosed, "%s falls on or before closed period %s", date.Format(time.DateOnly), closed.Name)
}
