package main

import (
	"time"

	"github.com/mmdatafocus/books_ledger/models/reports"
	"github.com/spf13/cobra"
)

var statementsCmd = &cobra.Command{
	Use:   "statements",
	Short: "Produce financial statements",
}

func dateRange(cmd *cobra.Command) (time.Time, time.Time, error) {
	start, err := dateFlag(cmd, "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := dateFlag(cmd, "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

var balanceSheetCmd = &cobra.Command{
	Use:   "balance-sheet",
	Short: "Assets, liabilities and equity at a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		asOf, err := dateFlag(cmd, "as-of")
		if err != nil {
			return err
		}
		comparative, _ := cmd.Flags().GetBool("comparative")
		bs, err := reports.GetBalanceSheet(ctx, db, asOf, comparative)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, bs)
	},
}

var incomeStatementCmd = &cobra.Command{
	Use:   "income",
	Short: "Revenue and expenses over a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		start, end, err := dateRange(cmd)
		if err != nil {
			return err
		}
		comparative, _ := cmd.Flags().GetBool("comparative")
		ytd, _ := cmd.Flags().GetBool("ytd")
		is, err := reports.GetIncomeStatement(ctx, db, start, end, comparative, ytd)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, is)
	},
}

var cashFlowCmd = &cobra.Command{
	Use:   "cash-flow",
	Short: "Cash movements by activity over a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		start, end, err := dateRange(cmd)
		if err != nil {
			return err
		}
		comparative, _ := cmd.Flags().GetBool("comparative")
		cf, err := reports.GetCashFlowStatement(ctx, db, start, end, comparative)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, cf)
	},
}

var trialBalanceCmd = &cobra.Command{
	Use:   "trial-balance",
	Short: "Debit and credit balances of every account at a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		asOf, err := dateFlag(cmd, "as-of")
		if err != nil {
			return err
		}
		tb, err := reports.GetTrialBalance(ctx, db, asOf)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, tb)
	},
}

var accountLedgerCmd = &cobra.Command{
	Use:   "ledger <account-id>",
	Short: "Lines of one account with a running balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		ids, err := parseIds(args)
		if err != nil {
			return err
		}
		start, end, err := dateRange(cmd)
		if err != nil {
			return err
		}
		ledger, err := reports.GetAccountLedger(ctx, db, ids[0], start, end)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, ledger)
	},
}

func init() {
	balanceSheetCmd.Flags().String("as-of", "", "statement date (YYYY-MM-DD)")
	balanceSheetCmd.Flags().Bool("comparative", false, "include the same date a year earlier")
	trialBalanceCmd.Flags().String("as-of", "", "statement date (YYYY-MM-DD)")
	for _, c := range []*cobra.Command{incomeStatementCmd, cashFlowCmd, accountLedgerCmd} {
		c.Flags().String("start", "", "first date (YYYY-MM-DD)")
		c.Flags().String("end", "", "last date (YYYY-MM-DD)")
	}
	incomeStatementCmd.Flags().Bool("comparative", false, "include the preceding range of equal length")
	incomeStatementCmd.Flags().Bool("ytd", false, "include fiscal year to date")
	cashFlowCmd.Flags().Bool("comparative", false, "include the preceding range of equal length")
	statementsCmd.AddCommand(balanceSheetCmd, incomeStatementCmd, cashFlowCmd, trialBalanceCmd, accountLedgerCmd)
}
