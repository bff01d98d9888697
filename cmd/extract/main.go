// Command extract runs relationship extraction over stored documents in
// batch, outside the queue worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/relgraph/backend/internal/app"
	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/logger/console"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:           "extract",
		Short:         "Build the company relationship graph from stored filings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
				Debug:  debug || util.GetEnvBool("DEBUG", false),
				Prefix: "extract",
			}))
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newRunCmd(), newIngestCmd(), newRebuildCmd(), newMigrateCmd())
	return root
}

// withApp loads the configuration, wires the services and runs fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", "err", err)
		stop()
		os.Exit(1)
	}
}
