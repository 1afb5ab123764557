// Package cli implements the memctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Harshitk-cp/memlayer/internal/config"
	"github.com/Harshitk-cp/memlayer/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	databaseURL string
	verbose     bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "memctl",
	Short:         "Operate a memlayer deployment",
	Long:          "memctl runs migrations, issues development tokens, manages role overrides and inspects memories, candidates and audit trails.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Load()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (default: $DATABASE_URL)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
}

// Execute runs the root command and reports any error on stderr.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	url := databaseURL
	if url == "" {
		url = config.DatabaseURL()
	}
	if url == "" {
		return nil, errors.New("no database: pass --database-url or set DATABASE_URL")
	}
	return store.Connect(ctx, url)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
