package cmd

import (
	"context"
	"fmt"

	"benji/internal/app"
	"benji/internal/sentiment"

	"github.com/spf13/cobra"
)

var sentimentCmd = &cobra.Command{
	Use:   "sentiment <ticker>",
	Short: "Print the blended sentiment for a ticker and any failing sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			b := a.Blender.Breakdown(ctx, args[0])
			fmt.Fprintf(out, "%s\tsocial=%+.3f\tnews=%+.3f\tmarket=%+.3f\tblend=%+.3f", b.Ticker, b.Social, b.News, b.Market, b.Blend)
			if b.Fallback {
				fmt.Fprint(out, "\tfallback")
			}
			fmt.Fprintln(out)

			for _, name := range []string{sentiment.SourceSocial, sentiment.SourceNews, sentiment.SourceMarket} {
				if err := a.Blender.SourceError(ctx, name, args[0]); err != nil {
					fmt.Fprintf(out, "%s: %v\n", name, err)
				}
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sentimentCmd)
}
