package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relgraph/backend/internal/app"
	"github.com/relgraph/backend/internal/db"
	"github.com/relgraph/backend/internal/queue"
	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		JSON:   util.GetEnvBool("LOG_JSON", true),
		Prefix: "worker",
	})
	logger.Init(consoleLogger)

	cfg, err := app.LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	if !cfg.QueueEnabled() {
		logger.Fatal("RABBITMQ_HOST is required for the worker")
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

	// A single consumer channel with prefetch=1 so only one message is in
	// flight across all queues.
	consumerCh, err := a.Queue.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()
	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	handle := func(ctx context.Context, queueName string, body []byte) error {
		start := time.Now()
		defer func() {
			m := a.AI
			if m == nil {
				return
			}
			metrics := m.GetMetrics()
			logger.Info(
				"AI Metrics",
				"input_tokens", metrics.InputTokens,
				"output_tokens", metrics.OutputTokens,
				"total_tokens", metrics.TotalTokens,
				"duration", time.Duration(metrics.DurationMs)*time.Millisecond,
				"processing", time.Since(start).Round(time.Second),
			)
			m.ResetMetrics()
		}()

		switch queueName {
		case queue.ExtractQueue:
			return queue.ProcessExtractMessage(ctx, a.Store, a.Graph, body)
		case queue.RebuildQueue:
			return queue.ProcessRebuildMessage(ctx, a.Graph, body)
		}
		return fmt.Errorf("no handler for queue %s", queueName)
	}

	if err := queue.Consume(ctx, consumerCh, a.Channel, queue.Queues, cfg.MaxMessageRetries, handle); err != nil {
		logger.Fatal("Consumer stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
