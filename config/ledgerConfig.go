package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// LedgerConfig holds deployment switches for the ledger core.
type LedgerConfig struct {
	// RequireApproval makes post refuse entries that were never approved.
	RequireApproval bool `envconfig:"LEDGER_REQUIRE_APPROVAL" default:"false"`
	// FiscalYearStartMonth is 1..12.
	FiscalYearStartMonth int `envconfig:"LEDGER_FISCAL_YEAR_START_MONTH" default:"1"`
	// ReconcileDateWindowDays is how far apart a bank transaction and a ledger line may be dated and still auto-match.
	ReconcileDateWindowDays int           `envconfig:"LEDGER_RECONCILE_DATE_WINDOW_DAYS" default:"3"`
	PostingLockTTL          time.Duration `envconfig:"LEDGER_POSTING_LOCK_TTL" default:"30s"`
	PostingLockRetries      int           `envconfig:"LEDGER_POSTING_LOCK_RETRIES" default:"20"`
	ReportSlowMs            int64         `envconfig:"REPORT_SLOW_MS" default:"500"`
	PubSubTopic             string        `envconfig:"PUBSUB_TOPIC"`
}

var (
	ledgerConfig   *LedgerConfig
	ledgerConfigMu sync.RWMutex
)

// LoadLedgerConfig reads the environment (after .env) into a LedgerConfig.
func LoadLedgerConfig() (*LedgerConfig, error) {
	var cfg LedgerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process ledger config: %w", err)
	}
	if cfg.FiscalYearStartMonth < 1 || cfg.FiscalYearStartMonth > 12 {
		return nil, fmt.Errorf("LEDGER_FISCAL_YEAR_START_MONTH must be 1..12, got %d", cfg.FiscalYearStartMonth)
	}
	if cfg.ReconcileDateWindowDays < 0 {
		return nil, fmt.Errorf("LEDGER_RECONCILE_DATE_WINDOW_DAYS must not be negative")
	}
	return &cfg, nil
}

// GetLedgerConfig returns the process config, loading it on first use.
// An invalid environment falls back to defaults and is logged.
func GetLedgerConfig() LedgerConfig {
	ledgerConfigMu.RLock()
	if ledgerConfig != nil {
		cfg := *ledgerConfig
		ledgerConfigMu.RUnlock()
		return cfg
	}
	ledgerConfigMu.RUnlock()

	cfg, err := LoadLedgerConfig()
	if err != nil {
		LogError(GetLogger(), "ledgerConfig.go", "GetLedgerConfig", "loading ledger config", nil, err)
		cfg = DefaultLedgerConfig()
	}
	SetLedgerConfig(*cfg)
	return *cfg
}

func SetLedgerConfig(cfg LedgerConfig) {
	ledgerConfigMu.Lock()
	defer ledgerConfigMu.Unlock()
	ledgerConfig = &cfg
}

func DefaultLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		FiscalYearStartMonth:    1,
		ReconcileDateWindowDays: 3,
		PostingLockTTL:          30 * time.Second,
		PostingLockRetries:      20,
		ReportSlowMs:            500,
	}
}

func (c LedgerConfig) FiscalYearStart() time.Month {
	return time.Month(c.FiscalYearStartMonth)
}
