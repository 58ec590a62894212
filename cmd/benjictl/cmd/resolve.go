package cmd

import (
	"context"
	"fmt"
	"time"

	"benji/internal/app"
	"benji/internal/domain"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve every signal whose expiry has passed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			resolved, err := a.Lifecycle.ResolveExpired(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(resolved) == 0 {
				fmt.Fprintln(out, "nothing to resolve")
				return nil
			}
			for _, h := range resolved {
				fmt.Fprintf(out, "#%d %s %s %.2f exp %s: %+.2f\n",
					h.ID, h.Ticker, h.Direction, h.Strike, h.Expiry.Format(domain.ExpiryLayout), h.PnL)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
