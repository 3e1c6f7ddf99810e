package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	businessId string
	actor      string
	debug      bool

	db *gorm.DB
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operate the general ledger",
	Long: `ledgerctl manages the chart of accounts, journal entries, fiscal periods,
financial statements and bank reconciliations of one business.

Example:
  ledgerctl migrate
  ledgerctl --business biz-1 --actor alice seed-chart
  ledgerctl --business biz-1 statements balance-sheet --as-of 2024-12-31`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			config.GetLogger().SetLevel(logrus.DebugLevel)
		}
		cfg, err := config.LoadLedgerConfig()
		if err != nil {
			return err
		}
		config.SetLedgerConfig(*cfg)
		config.ConnectDatabaseWithRetry()
		db = config.GetDB()
		if db == nil {
			return errors.New("database not initialized; set DB_* env vars")
		}
		config.ConnectRedisWithRetry(cmd.Context())
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return config.CloseRedis()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&businessId, "business", os.Getenv("LEDGER_BUSINESS_ID"), "business id to operate on")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", os.Getenv("LEDGER_ACTOR"), "user recorded on writes")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(migrateCmd, seedChartCmd, accountsCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(periodsCmd)
	rootCmd.AddCommand(statementsCmd)
	rootCmd.AddCommand(bankCmd, reconcileCmd)
	rootCmd.AddCommand(outboxCmd)
}

// ledgerContext scopes a command to --business and --actor.
func ledgerContext(cmd *cobra.Command) (context.Context, error) {
	if businessId == "" {
		return nil, errors.New("--business is required")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return utils.NewLedgerContext(ctx, businessId, actor), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// report prints a ledger error with its kind so scripts can branch on it.
func report(err error) error {
	if kind := models.ErrorKindOf(err); kind != "" {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return err
}

func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return time.Time{}, err
	}
	if v == "" {
		return time.Time{}, fmt.Errorf("--%s is required", name)
	}
	return utils.ParseDate(v)
}

func parseIds(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
