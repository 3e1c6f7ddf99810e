package main

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/workflow"
	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Publish and repair ledger events",
}

var outboxDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Publish pending ledger events to Pub/Sub",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		dispatcher := workflow.NewOutboxDispatcher(db, config.GetLogger(), config.NewPubSubPublisher())
		if once, _ := cmd.Flags().GetBool("once"); once {
			sent := dispatcher.DispatchOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "published %d events\n", sent)
			return nil
		}
		dispatcher.Run(ctx)
		return nil
	},
}

var outboxReviveCmd = &cobra.Command{
	Use:   "revive-dead",
	Short: "Return DEAD events of the business to PENDING",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		n, err := models.ReviveDeadLedgerEvents(ctx, db)
		if err != nil {
			return report(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revived %d events\n", n)
		return nil
	},
}

func init() {
	outboxDispatchCmd.Flags().Bool("once", false, "publish one batch and exit")
	outboxCmd.AddCommand(outboxDispatchCmd, outboxReviveCmd)
}
