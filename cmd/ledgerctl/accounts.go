package main

import (
	"fmt"

	"github.com/mmdatafocus/books_ledger/models"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := models.MigrateTable(db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ledger tables migrated")
		return nil
	},
}

var seedChartCmd = &cobra.Command{
	Use:   "seed-chart",
	Short: "Create the default chart of accounts; existing codes are kept",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		created, err := models.SeedDefaultChart(ctx, db)
		if err != nil {
			return report(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d accounts\n", len(created))
		return nil
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect the chart of accounts",
}

var accountsTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the account hierarchy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		tree, err := models.GetAccountTree(ctx, db)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, tree)
	},
}

var accountBalanceCmd = &cobra.Command{
	Use:   "balance <account-id>",
	Short: "Print an account's balance at a date, optionally rolled up over its descendants",
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
		asOf, err := dateFlag(cmd, "as-of")
		if err != nil {
			return err
		}
		rollup, _ := cmd.Flags().GetBool("rollup")
		balance := models.BalanceAsOf
		if rollup {
			balance = models.RollupBalanceAsOf
		}
		amount, err := balance(ctx, db, ids[0], asOf)
		if err != nil {
			return report(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), amount.StringFixed(2))
		return nil
	},
}

func init() {
	accountBalanceCmd.Flags().String("as-of", "", "balance date (YYYY-MM-DD)")
	accountBalanceCmd.Flags().Bool("rollup", false, "include descendant accounts")
	accountsCmd.AddCommand(accountsTreeCmd, accountBalanceCmd)
}
