package main

import (
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/workflow"
	"github.com/spf13/cobra"
)

var entryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Create, approve, post and void journal entries",
}

var entryCreateCmd = &cobra.Command{
	Use:   "create <file.json>",
	Short: "Create a draft entry from a JSON file (dates in RFC 3339)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		var input models.NewJournalEntry
		if err := readJSONFile(args[0], &input); err != nil {
			return err
		}
		entry, err := models.CreateJournalEntry(ctx, db, &input)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, entry)
	},
}

var entryApproveCmd = &cobra.Command{
	Use:   "approve <entry-id>",
	Short: "Approve a draft entry",
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
		entry, err := models.ApproveJournalEntry(ctx, db, ids[0], actor)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, entry)
	},
}

var entryPostCmd = &cobra.Command{
	Use:   "post <entry-id>",
	Short: "Post a draft entry",
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
		entry, err := workflow.PostJournalEntry(ctx, db, ids[0], actor)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, entry)
	},
}

var entryVoidCmd = &cobra.Command{
	Use:   "void <entry-id>",
	Short: "Void a posted entry by posting its reversal",
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
		reason, _ := cmd.Flags().GetString("reason")
		voided, reversal, err := workflow.VoidJournalEntry(ctx, db, ids[0], reason, actor)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, map[string]*models.JournalEntry{"voided": voided, "reversal": reversal})
	},
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		var filter models.JournalEntryFilter
		if s, _ := cmd.Flags().GetString("status"); s != "" {
			status := models.JournalEntryStatus(s)
			filter.Status = &status
		}
		limit, _ := cmd.Flags().GetInt("limit")
		var after *string
		if a, _ := cmd.Flags().GetString("after"); a != "" {
			after = &a
		}
		conn, err := models.ListJournalEntries(ctx, db, filter, &limit, after)
		if err != nil {
			return report(err)
		}
		return printJSON(cmd, conn)
	},
}

func init() {
	entryVoidCmd.Flags().String("reason", "", "why the entry is voided (required)")
	entryListCmd.Flags().String("status", "", "DRAFT, POSTED, VOID or REJECTED")
	entryListCmd.Flags().Int("limit", 50, "page size")
	entryListCmd.Flags().String("after", "", "cursor from the previous page")
	entryCmd.AddCommand(entryCreateCmd, entryApproveCmd, entryPostCmd, entryVoidCmd, entryListCmd)
}
