package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"benji/internal/app"

	"github.com/spf13/cobra"
)

var confirmUser string

var confirmCmd = &cobra.Command{
	Use:   "confirm <signal-id>",
	Short: "Confirm a resolved signal for a user",
	Long: `Marks a resolved signal as taken and credits its pnl to the user's You total.
A signal can be confirmed once; later confirmations change nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid signal id %q", args[0])
		}
		if strings.TrimSpace(confirmUser) == "" {
			return fmt.Errorf("--user is required")
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			h, ok, err := a.Lifecycle.Confirm(ctx, id, confirmUser)
			if err != nil {
				return fmt.Errorf("confirm: %w", err)
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "signal #%d was already confirmed\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "confirmed #%d %s for %s: %+.2f\n", h.ID, h.Ticker, confirmUser, h.PnL)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(confirmCmd)
	confirmCmd.Flags().StringVarP(&confirmUser, "user", "u", "", "username to credit")
}
