package config_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmdatafocus/books_ledger/appctx"
	"github.com/mmdatafocus/books_ledger/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestLoadLedgerConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadLedgerConfig()
	require.NoError(t, err)
	assert.Equal(t, *config.DefaultLedgerConfig(), *cfg)
}

func TestLoadLedgerConfig_FromEnvironment(t *testing.T) {
	t.Setenv("LEDGER_REQUIRE_APPROVAL", "true")
	t.Setenv("LEDGER_FISCAL_YEAR_START_MONTH", "4")
	t.Setenv("LEDGER_RECONCILE_DATE_WINDOW_DAYS", "5")
	t.Setenv("LEDGER_POSTING_LOCK_TTL", "1m")
	t.Setenv("PUBSUB_TOPIC", "ledger-events")

	cfg, err := config.LoadLedgerConfig()
	require.NoError(t, err)
	assert.True(t, cfg.RequireApproval)
	assert.Equal(t, 4, cfg.FiscalYearStartMonth)
	assert.Equal(t, 5, cfg.ReconcileDateWindowDays)
	assert.Equal(t, time.Minute, cfg.PostingLockTTL)
	assert.Equal(t, "ledger-events", cfg.PubSubTopic)
}

func TestLoadLedgerConfig_RejectsBadValues(t *testing.T) {
	t.Setenv("LEDGER_FISCAL_YEAR_START_MONTH", "13")
	_, err := config.LoadLedgerConfig()
	assert.ErrorContains(t, err, "1..12")

	t.Setenv("LEDGER_FISCAL_YEAR_START_MONTH", "1")
	t.Setenv("LEDGER_RECONCILE_DATE_WINDOW_DAYS", "-1")
	_, err = config.LoadLedgerConfig()
	assert.Error(t, err)

	t.Setenv("LEDGER_RECONCILE_DATE_WINDOW_DAYS", "three")
	_, err = config.LoadLedgerConfig()
	assert.Error(t, err)
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	config.LogError(logger, "ledger.go", "Post", "posting", 7, nil)
	assert.Empty(t, buf.String())

	config.LogError(logger, "ledger.go", "Post", "posting", 7, errors.New("boom"))
	out := buf.String()
	assert.Contains(t, out, `"funcName":"Post"`)
	assert.Contains(t, out, `"data":7`)
	assert.Contains(t, out, `"msg":"boom"`)
}

type scopedRow struct {
	ID         int
	BusinessId string
	Name       string
}

type globalRow struct {
	ID   int
	Name string
}

func openGuarded(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "guard.db")), config.GormConfig())
	require.NoError(t, err)
	require.NoError(t, config.InstallPlugins(db))
	require.NoError(t, db.AutoMigrate(&scopedRow{}, &globalRow{}))
	require.NoError(t, db.Create([]*scopedRow{
		{BusinessId: "a", Name: "a-1"},
		{BusinessId: "a", Name: "a-2"},
		{BusinessId: "b", Name: "b-1"},
	}).Error)
	require.NoError(t, db.Create(&globalRow{Name: "shared"}).Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestTenantGuard_ScopesByContextBusiness(t *testing.T) {
	db := openGuarded(t)
	ctxA := appctx.Set(context.Background(), appctx.ContextKeyBusinessId, "a")

	var rows []scopedRow
	require.NoError(t, db.WithContext(ctxA).Find(&rows).Error)
	assert.Len(t, rows, 2)

	var count int64
	require.NoError(t, db.WithContext(ctxA).Model(&scopedRow{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	res := db.WithContext(ctxA).Model(&scopedRow{}).Where("name LIKE ?", "%-1").Update("name", "renamed")
	require.NoError(t, res.Error)
	assert.Equal(t, int64(1), res.RowsAffected, "b-1 is out of scope")

	res = db.WithContext(ctxA).Where("1 = 1").Delete(&scopedRow{})
	require.NoError(t, res.Error)
	assert.Equal(t, int64(2), res.RowsAffected)

	var globals []globalRow
	require.NoError(t, db.WithContext(ctxA).Find(&globals).Error)
	assert.Len(t, globals, 1, "tables without business_id are not scoped")
}

func TestTenantGuard_ExplicitBusinessAndBypass(t *testing.T) {
	db := openGuarded(t)
	ctxA := appctx.Set(context.Background(), appctx.ContextKeyBusinessId, "a")

	var rows []scopedRow
	require.NoError(t, db.WithContext(ctxA).Where("business_id = ?", "b").Find(&rows).Error)
	assert.Len(t, rows, 1, "an explicit business_id condition is left alone")

	skip := appctx.Set(ctxA, appctx.ContextKeySkipTenantScope, true)
	require.NoError(t, db.WithContext(skip).Find(&rows).Error)
	assert.Len(t, rows, 3)

	admin := appctx.Set(ctxA, appctx.ContextKeyIsAdmin, true)
	require.NoError(t, db.WithContext(admin).Find(&rows).Error)
	assert.Len(t, rows, 3)

	require.NoError(t, db.WithContext(context.Background()).Find(&rows).Error)
	assert.Len(t, rows, 3, "no business in context means no scope")
}
