package main

import (
	"fmt"

	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/mmdatafocus/books_ledger/workflow"
	"github.com/spf13/cobra"
)

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Import bank statement lines",
}

var bankImportCmd = &cobra.Command{
	Use:   "import <account-id> <file.json>",
	Short: "Import a JSON array of bank transactions; known external refs are skipped",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		ids, err := parseIds(args[:1])
		if err != nil {
			return err
		}
		var input []models.NewBankTransaction
		if err := readJSONFile(args[1], &input); err != nil {
			return err
		}
		stored, err := models.ImportBankTransactions(ctx, db, ids[0], input)
		if err != nil {
			return report(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d transactions\n", len(stored), len(input))
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile an account against its bank statement",
}

var reconcileCreateCmd = &cobra.Command{
	Use:   "create <account-id>",
	Short: "Start a reconciliation for a statement period",
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
		raw, _ := cmd.Flags().GetString("statement-balance")
		balance, err := utils.ParseDecimal(raw)
		if err != nil {
			return fmt.Errorf("invalid --statement-balance: %w", err)
		}
		rec, err := models.CreateReconciliation(ctx, db, &models.NewReconciliation{
			AccountId:        ids[0],
			PeriodStart:      start,
			PeriodEnd:        end,
			StatementBalance: balance,
		})
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, rec)
	},
}

var reconcileAutoMatchCmd = &cobra.Command{
	Use:   "auto-match <reconciliation-id>",
	Short: "Match ledger lines to bank transactions by amount and date",
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
		rec, err := workflow.AutoMatchReconciliation(ctx, db, ids[0], actor)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, rec)
	},
}

var reconcileMatchCmd = &cobra.Command{
	Use:   "match <reconciliation-id> <bank-item-id> <ledger-item-id>",
	Short: "Pair a bank item with a ledger item by hand",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		ids, err := parseIds(args)
		if err != nil {
			return err
		}
		rec, err := models.MatchItems(ctx, db, ids[0], ids[1], ids[2])
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, rec)
	},
}

var reconcileCompleteCmd = &cobra.Command{
	Use:   "complete <reconciliation-id>",
	Short: "Finalize a fully matched reconciliation",
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
		rec, err := workflow.CompleteReconciliation(ctx, db, ids[0], actor)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, rec)
	},
}

func init() {
	reconcileCreateCmd.Flags().String("start", "", "statement period start (YYYY-MM-DD)")
	reconcileCreateCmd.Flags().String("end", "", "statement period end (YYYY-MM-DD)")
	reconcileCreateCmd.Flags().String("statement-balance", "0", "closing balance on the bank statement")
	bankCmd.AddCommand(bankImportCmd)
	reconcileCmd.AddCommand(reconcileCreateCmd, reconcileAutoMatchCmd, reconcileMatchCmd, reconcileCompleteCmd)
}
