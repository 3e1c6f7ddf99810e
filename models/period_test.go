package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/books_ledger/ledgertest"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func closePeriod(t *testing.T, ctx context.Context, db *gorm.DB, end time.Time) (*models.FiscalPeriod, []*models.AccountBalance, error) {
	t.Helper()
	var (
		period    *models.FiscalPeriod
		snapshots []*models.AccountBalance
	)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		period, snapshots, err = models.ClosePeriodSnapshots(ctx, tx, end, ledgertest.Actor)
		return err
	})
	return period, snapshots, err
}

func snapshotFor(rows []*models.AccountBalance, accountId int) *models.AccountBalance {
	for _, r := range rows {
		if r.AccountId == accountId {
			return r
		}
	}
	return nil
}

func TestGenerateFiscalYear_TwelveMonthsWithoutOverlap(t *testing.T) {
	db := ledgertest.OpenDB(t)
	ctx := ledgertest.Context("biz-fy")

	periods, err := models.GenerateFiscalYear(ctx, db, 2024, time.April)
	require.NoError(t, err)
	require.Len(t, periods, 12)
	assert.Equal(t, "FY2024-01 Apr 2024", periods[0].Name)
	assert.True(t, periods[0].StartDate.Equal(ledgertest.Date(2024, 4, 1)))
	assert.True(t, periods[0].EndDate.Equal(ledgertest.Date(2024, 4, 30)))
	assert.True(t, periods[10].EndDate.Equal(ledgertest.Date(2025, 2, 28)), "February 2025 is not a leap month")
	assert.True(t, periods[11].EndDate.Equal(ledgertest.Date(2025, 3, 31)))
	for i := 1; i < len(periods); i++ {
		assert.True(t, periods[i].StartDate.Equal(periods[i-1].EndDate.AddDate(0, 0, 1)), "period %d is contiguous", i)
	}

	_, err = models.GenerateFiscalYear(ctx, db, 2024, time.April)
	require.ErrorIs(t, err, models.ErrPeriodOverlap)
	year := 2024
	stored, err := models.ListFiscalPeriods(ctx, db, &year)
	require.NoError(t, err)
	assert.Len(t, stored, 12, "a failed generation writes nothing")

	_, err = models.CreateFiscalPeriod(ctx, db, &models.NewFiscalPeriod{
		Name: "Backwards", FiscalYear: 2030, StartDate: ledgertest.Date(2030, 2, 1), EndDate: ledgertest.Date(2030, 1, 1),
	})
	require.ErrorIs(t, err, models.ErrInvalidDateRange)
	_, err = models.CreateFiscalPeriod(ctx, db, &models.NewFiscalPeriod{
		Name: "Straddle", FiscalYear: 2025, StartDate: ledgertest.Date(2025, 3, 15), EndDate: ledgertest.Date(2025, 4, 15),
	})
	require.ErrorIs(t, err, models.ErrPeriodOverlap)
	_, err = models.GenerateFiscalYear(ctx, db, 2024, time.Month(13))
	require.ErrorIs(t, err, models.ErrValidation)

	period, err := models.PeriodForDate(ctx, db, ledgertest.Date(2024, 7, 19))
	require.NoError(t, err)
	assert.Equal(t, "FY2024-04 Jul 2024", period.Name)
	assert.True(t, period.Contains(ledgertest.Date(2024, 7, 1)))
	assert.True(t, period.Contains(ledgertest.Date(2024, 7, 31).Add(23*time.Hour)), "time of day is ignored")
	assert.False(t, period.Contains(ledgertest.Date(2024, 6, 30)))
	assert.False(t, period.Contains(ledgertest.Date(2024, 8, 1)))

	// Every day of the year falls in exactly one generated period.
	for d := ledgertest.Date(2024, 4, 1); d.Before(ledgertest.Date(2025, 4, 1)); d = d.AddDate(0, 0, 1) {
		containing := 0
		for _, p := range periods {
			if p.Contains(d) {
				containing++
			}
		}
		require.Equal(t, 1, containing, "periods containing %s", d.Format(time.DateOnly))
	}
	_, err = models.PeriodForDate(ctx, db, ledgertest.Date(2023, 7, 19))
	require.ErrorIs(t, err, models.ErrPeriodNotFound)
}

func TestClosePeriod_WritesSnapshotsOnce(t *testing.T) {
	db := ledgertest.OpenDB(t)
	ctx := ledgertest.Context("biz-close")
	chart := ledgertest.SeedChart(t, ctx, db)
	_, err := models.GenerateFiscalYear(ctx, db, 2024, time.January)
	require.NoError(t, err)
	cash, sales, rent := chart.ID("1010"), chart.ID("4000"), chart.ID("6010")

	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 1, 5), ledgertest.Dr(cash, 500), ledgertest.Cr(sales, 500))
	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 1, 20), ledgertest.Dr(rent, 200), ledgertest.Cr(cash, 200))

	period, snapshots, err := closePeriod(t, ctx, db, ledgertest.Date(2024, 1, 31))
	require.NoError(t, err)
	assert.True(t, period.IsClosed)
	assert.Len(t, snapshots, len(chart), "every account gets a snapshot")

	stored, err := models.ListAccountBalances(ctx, db, period.ID)
	require.NoError(t, err)
	cashRow := snapshotFor(stored, cash)
	require.NotNil(t, cashRow)
	ledgertest.RequireDecimal(t, 0, cashRow.OpeningBalance, "opening")
	ledgertest.RequireDecimal(t, 500, cashRow.PeriodDebit, "period debit")
	ledgertest.RequireDecimal(t, 200, cashRow.PeriodCredit, "period credit")
	ledgertest.RequireDecimal(t, 300, cashRow.ClosingBalance, "closing")
	ledgertest.RequireDecimal(t, 500, snapshotFor(stored, sales).ClosingBalance, "sales closing")

	_, _, err = closePeriod(t, ctx, db, ledgertest.Date(2024, 1, 31))
	require.ErrorIs(t, err, models.ErrPeriodAlreadyClosed)
	again, err := models.ListAccountBalances(ctx, db, period.ID)
	require.NoError(t, err)
	assert.Len(t, again, len(stored))
	ledgertest.RequireDecimal(t, 300, snapshotFor(again, cash).ClosingBalance, "closing after re-close")

	_, _, err = closePeriod(t, ctx, db, ledgertest.Date(2024, 1, 30))
	require.ErrorIs(t, err, models.ErrPeriodNotFound)

	err = db.WithContext(ctx).Model(cashRow).Update("ClosingBalance", ledgertest.Amount(1)).Error
	require.ErrorIs(t, err, models.ErrImmutableLedger)
	err = db.WithContext(ctx).Delete(cashRow).Error
	require.ErrorIs(t, err, models.ErrImmutableLedger)
}

func TestClosedPeriod_RejectsBackdatedPostings(t *testing.T) {
	db := ledgertest.OpenDB(t)
	ctx := ledgertest.Context("biz-backdate")
	chart := ledgertest.SeedChart(t, ctx, db)
	_, err := models.GenerateFiscalYear(ctx, db, 2024, time.January)
	require.NoError(t, err)
	cash, sales := chart.ID("1010"), chart.ID("4000")

	draft := ledgertest.Draft(t, ctx, db, ledgertest.Date(2024, 2, 10), ledgertest.Dr(cash, 10), ledgertest.Cr(sales, 10))

	_, _, err = closePeriod(t, ctx, db, ledgertest.Date(2024, 2, 29))
	require.NoError(t, err)

	for _, day := range []time.Time{ledgertest.Date(2024, 2, 29), ledgertest.Date(2024, 1, 15)} {
		_, err = models.CreateJournalEntry(ctx, db, &models.NewJournalEntry{
			EntryDate: day,
			Lines:     []models.NewJournalEntryLine{ledgertest.Dr(cash, 10), ledgertest.Cr(sales, 10)},
		})
		require.ErrorIs(t, err, models.ErrPeriodClosed, day.Format(time.DateOnly))
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := models.PostEntry(ctx, tx, draft.ID, ledgertest.Actor, false)
		return err
	})
	require.ErrorIs(t, err, models.ErrPeriodClosed, "drafts dated in a closed period cannot be posted")

	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 3, 1), ledgertest.Dr(cash, 10), ledgertest.Cr(sales, 10))
}

func TestBalanceAsOf_SnapshotsMatchFullAggregation(t *testing.T) {
	db := ledgertest.OpenDB(t)
	ctx := ledgertest.Context("biz-determinism")
	chart := ledgertest.SeedChart(t, ctx, db)
	_, err := models.GenerateFiscalYear(ctx, db, 2024, time.January)
	require.NoError(t, err)
	cash, sales, rent, drawings := chart.ID("1010"), chart.ID("4000"), chart.ID("6010"), chart.ID("3100")

	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 1, 3), ledgertest.Dr(cash, 900), ledgertest.Cr(sales, 900))
	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 1, 31), ledgertest.Dr(rent, 150), ledgertest.Cr(cash, 150))
	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 2, 14), ledgertest.Dr(drawings, 75), ledgertest.Cr(cash, 75))
	_, _, err = closePeriod(t, ctx, db, ledgertest.Date(2024, 1, 31))
	require.NoError(t, err)
	_, _, err = closePeriod(t, ctx, db, ledgertest.Date(2024, 2, 29))
	require.NoError(t, err)
	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 3, 2), ledgertest.Dr(cash, 40), ledgertest.Cr(sales, 40))

	dates := []time.Time{
		ledgertest.Date(2023, 12, 31),
		ledgertest.Date(2024, 1, 15),
		ledgertest.Date(2024, 1, 31),
		ledgertest.Date(2024, 2, 1),
		ledgertest.Date(2024, 2, 29),
		ledgertest.Date(2024, 3, 2),
		ledgertest.Date(2024, 12, 31),
	}
	for _, code := range []string{"1010", "4000", "6010", "3100"} {
		account := chart[code]
		for _, d := range dates {
			viaSnapshots, err := models.BalanceAsOf(ctx, db, account.ID, d)
			require.NoError(t, err)
			direct, err := models.DirectBalanceAsOf(db.WithContext(ctx), account, d)
			require.NoError(t, err)
			assert.True(t, direct.Equal(viaSnapshots), "%s on %s: snapshots %s, direct %s",
				code, d.Format(time.DateOnly), viaSnapshots, direct)
		}
	}

	final, err := models.BalanceAsOf(ctx, db, cash, ledgertest.Date(2024, 3, 31))
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 715, final, "cash")
	contra, err := models.BalanceAsOf(ctx, db, drawings, ledgertest.Date(2024, 3, 31))
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 75, contra, "drawings reduce equity")
}

func TestBalanceForPeriod(t *testing.T) {
	db := ledgertest.OpenDB(t)
	ctx := ledgertest.Context("biz-period-balance")
	chart := ledgertest.SeedChart(t, ctx, db)
	sales, bank := chart.ID("4000"), chart.ID("1020")

	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 1, 10), ledgertest.Dr(bank, 250), ledgertest.Cr(sales, 250))
	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 2, 10), ledgertest.Dr(bank, 100), ledgertest.Cr(sales, 100))
	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 2, 20), ledgertest.Dr(sales, 30), ledgertest.Cr(bank, 30))

	pb, err := models.BalanceForPeriod(ctx, db, sales, ledgertest.Date(2024, 2, 1), ledgertest.Date(2024, 2, 29))
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 250, pb.Opening, "opening")
	ledgertest.RequireDecimal(t, 30, pb.PeriodDebit, "debit")
	ledgertest.RequireDecimal(t, 100, pb.PeriodCredit, "credit")
	ledgertest.RequireDecimal(t, 70, pb.PeriodNet, "net in natural direction")
	ledgertest.RequireDecimal(t, 320, pb.Closing, "closing")

	_, err = models.BalanceForPeriod(ctx, db, sales, ledgertest.Date(2024, 3, 1), ledgertest.Date(2024, 2, 1))
	require.ErrorIs(t, err, models.ErrInvalidDateRange)
	_, err = models.BalanceAsOf(ctx, db, 99999, ledgertest.Date(2024, 3, 1))
	require.ErrorIs(t, err, models.ErrAccountNotFound)
}
