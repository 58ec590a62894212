package cmd

import (
	"context"
	"fmt"

	"benji/internal/app"
	"benji/internal/config"
	"benji/internal/logging"
	"benji/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	loadConfigFunc = config.Load
	newAppFunc     = app.New
)

var (
	sqlitePath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "benjictl",
	Short: "Operate the Benji edge scanner",
	Long: `benjictl runs one-off operations against the Benji store using the same wiring as
the server: a single scan cycle, resolving expired signals, confirming a play for a user,
printing a ledger or a ticker's sentiment, or applying the schema.

Configuration comes from the environment (and .env when present).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "SQLite path, overrides SQLITE_PATH")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
}

// withApp wires the application for one command and tears it down afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	_ = godotenv.Load()
	cfg := loadConfigFunc()
	if sqlitePath != "" {
		cfg.SQLitePath = sqlitePath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.Setup(cfg.LogLevel, "console")

	tp, tracer, err := tracing.InitTracer(ctx)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	a, err := newAppFunc(ctx, cfg, tracer)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
