package main

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/workflow"
	"github.com/spf13/cobra"
)

var periodsCmd = &cobra.Command{
	Use:   "periods",
	Short: "Manage fiscal periods",
}

var generateYearCmd = &cobra.Command{
	Use:   "generate-year <year>",
	Short: "Create twelve monthly periods for a fiscal year",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		years, err := parseIds(args)
		if err != nil {
			return err
		}
		periods, err := models.GenerateFiscalYear(ctx, db, years[0], config.GetLedgerConfig().FiscalYearStart())
		if err != nil {
			return report(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d periods\n", len(periods))
		return nil
	},
}

var closePeriodCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the period ending on --end and snapshot every account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		end, err := dateFlag(cmd, "end")
		if err != nil {
			return err
		}
		period, snapshots, err := workflow.ClosePeriod(ctx, db, end, actor)
		if err != nil {
			return report(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "closed %s (%s to %s), %d snapshots\n",
			period.Name, period.StartDate.Format(time.DateOnly), period.EndDate.Format(time.DateOnly), len(snapshots))
		return nil
	},
}

var listPeriodsCmd = &cobra.Command{
	Use:   "list",
	Short: "List fiscal periods",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := ledgerContext(cmd)
		if err != nil {
			return err
		}
		var year *int
		if y, _ := cmd.Flags().GetInt("year"); y > 0 {
			year = &y
		}
		periods, err := models.ListFiscalPeriods(ctx, db, year)
		if err != nil {
			return report(err)
		}
		if on, _ := cmd.Flags().GetString("on"); on != "" {
			date, err := dateFlag(cmd, "on")
			if err != nil {
				return err
			}
			var containing []*models.FiscalPeriod
			for _, p := range periods {
				if p.Contains(date) {
					containing = append(containing, p)
				}
			}
			periods = containing
		}
		return printJSON(cmd, periods)
	},
}

func init() {
	closePeriodCmd.Flags().String("end", "", "period end date (YYYY-MM-DD)")
	listPeriodsCmd.Flags().Int("year", 0, "only this fiscal year")
	listPeriodsCmd.Flags().String("on", "", "only the period containing this date (YYYY-MM-DD)")
	periodsCmd.AddCommand(generateYearCmd, closePeriodCmd, listPeriodsCmd)
}
