package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/relgraph/backend/internal/app"
	"github.com/relgraph/backend/internal/db"
	"github.com/relgraph/backend/internal/queue"
	"github.com/relgraph/backend/internal/server"
	mid "github.com/relgraph/backend/internal/server/middleware"
	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize", "err", err)
	}
	defer a.Close()

	if err := a.Warm(ctx); err != nil {
		logger.Error("Starting without a snapshot", "err", err)
	}

	handlers := &mid.App{
		Tools:     a.Tools,
		Sessions:  a.Sessions,
		Snapshots: a.Snapshots,
		Graph:     a.Graph,
		MaxDepth:  cfg.ToolMaxDepth,
		MaxBudget: cfg.ToolMaxBudget,
	}
	if a.Channel != nil {
		handlers.Queue = a.Channel

		// Workers publish snapshots; follow them on a separate channel.
		events, err := a.Queue.Channel()
		if err != nil {
			logger.Fatal("Failed to open events channel", "err", err)
		}
		defer events.Close()
		go func() {
			if err := queue.SubscribeSnapshots(ctx, events, a.Refresh); err != nil {
				logger.Error("Snapshot subscription ended", "err", err)
			}
		}()
	}

	e := server.New(handlers, a.Metrics.Handler())
	if err := server.Run(ctx, e, cfg.Port); err != nil {
		logger.Fatal("Server failed", "err", err)
	}
}
