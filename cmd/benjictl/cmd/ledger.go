package cmd

import (
	"context"
	"fmt"

	"benji/internal/app"

	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger <username>",
	Short: "Print a user's AI and You totals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			l, err := a.Accounts.Ledger(ctx, args[0])
			if err != nil {
				return fmt.Errorf("ledger: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tai=%+.2f\tyou=%+.2f\n", l.Username, l.AITotal, l.YouTotal)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
}
