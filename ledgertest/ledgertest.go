// Package ledgertest opens throwaway ledger databases for tests.
package ledgertest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const Actor = "tester"

// OpenDB returns a migrated SQLite ledger in the test's temp dir with the same plugins
// and gorm config production uses. Writers take the database lock at BEGIN so concurrent
// postings queue instead of failing.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig())
	require.NoError(t, err)
	require.NoError(t, config.InstallPlugins(db))
	require.NoError(t, models.MigrateTable(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// Context is a ledger context for businessId acting as Actor.
func Context(businessId string) context.Context {
	return utils.NewLedgerContext(context.Background(), businessId, Actor)
}

// UseConfig installs cfg for the duration of the test.
func UseConfig(t testing.TB, cfg config.LedgerConfig) {
	t.Helper()
	prev := config.GetLedgerConfig()
	config.SetLedgerConfig(cfg)
	t.Cleanup(func() { config.SetLedgerConfig(prev) })
}

// Chart is the seeded default chart of accounts keyed by code.
type Chart map[string]*models.Account

func (c Chart) ID(code string) int {
	a, ok := c[code]
	if !ok {
		panic("ledgertest: no account with code " + code)
	}
	return a.ID
}

func SeedChart(t testing.TB, ctx context.Context, db *gorm.DB) Chart {
	t.Helper()
	_, err := models.SeedDefaultChart(ctx, db)
	require.NoError(t, err)
	accounts, err := models.ListAccounts(ctx, db, models.AccountFilter{})
	require.NoError(t, err)
	chart := Chart{}
	for _, a := range accounts {
		chart[a.Code] = a
	}
	return chart
}

func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func Amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func Dr(accountId int, amount int64) models.NewJournalEntryLine {
	return models.NewJournalEntryLine{AccountId: accountId, Debit: Amount(amount)}
}

func Cr(accountId int, amount int64) models.NewJournalEntryLine {
	return models.NewJournalEntryLine{AccountId: accountId, Credit: Amount(amount)}
}

// Draft creates a draft entry dated date and fails the test on error.
func Draft(t testing.TB, ctx context.Context, db *gorm.DB, date time.Time, lines ...models.NewJournalEntryLine) *models.JournalEntry {
	t.Helper()
	entry, err := models.CreateJournalEntry(ctx, db, &models.NewJournalEntry{
		EntryDate:   date,
		Description: "test entry",
		Lines:       lines,
	})
	require.NoError(t, err)
	return entry
}

// Post creates and posts an entry in one go.
func Post(t testing.TB, ctx context.Context, db *gorm.DB, date time.Time, lines ...models.NewJournalEntryLine) *models.JournalEntry {
	t.Helper()
	draft := Draft(t, ctx, db, date, lines...)
	var posted *models.JournalEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		posted, err = models.PostEntry(ctx, tx, draft.ID, Actor, false)
		return err
	})
	require.NoError(t, err)
	return posted
}

// RequireDecimal compares decimals by value, so 100 and 100.0000 are equal.
func RequireDecimal(t testing.TB, expected int64, actual decimal.Decimal, what string) {
	t.Helper()
	if !Amount(expected).Equal(actual) {
		require.Failf(t, "decimal mismatch", "%s: expected %d, got %s", what, expected, actual.String())
	}
}
