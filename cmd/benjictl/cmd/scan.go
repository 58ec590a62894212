package cmd

import (
	"context"
	"fmt"
	"sort"

	"benji/internal/app"
	"benji/internal/bot"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan cycle now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			report, err := a.Scanner.RunCycle(ctx)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cycle %s: %d tickers, %d opened, %d resolved\n",
				report.ID, len(report.Tickers), len(report.Opened), len(report.Resolved))
			for _, s := range report.Opened {
				fmt.Fprintln(out, "  opened:", bot.FormatAlert(s))
			}
			skipped := make([]string, 0, len(report.Skipped))
			for ticker := range report.Skipped {
				skipped = append(skipped, ticker)
			}
			sort.Strings(skipped)
			for _, ticker := range skipped {
				fmt.Fprintf(out, "  skipped %s: %s\n", ticker, report.Skipped[ticker])
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
