package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relgraph/backend/internal/db"
	"github.com/relgraph/backend/internal/queue"
	"github.com/relgraph/backend/internal/storage"
	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/ai"
	oai "github.com/relgraph/backend/pkg/ai/ollama"
	gai "github.com/relgraph/backend/pkg/ai/openai"
	"github.com/relgraph/backend/pkg/graph"
	"github.com/relgraph/backend/pkg/leaselock"
	"github.com/relgraph/backend/pkg/loader"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/metrics"
	"github.com/relgraph/backend/pkg/retrieval"
	"github.com/relgraph/backend/pkg/snapshot"
	"github.com/relgraph/backend/pkg/store"
	pgstore "github.com/relgraph/backend/pkg/store/pgx"
	"github.com/relgraph/backend/pkg/tools"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
)

// Startup connects are retried while the database or broker container may
// still be coming up.
const connectRetries = 4

var connectBackoff = util.Backoff{Base: time.Second, Max: 10 * time.Second}

func retryAll(error) bool { return true }

// App holds the long-lived dependencies of a process. Queue and Archive are
// nil when RabbitMQ or S3 is not configured; AI is nil for the pattern
// adapter without an embedding endpoint.
type App struct {
	Config Config

	DB        *pgxpool.Pool
	Store     *pgstore.Store
	AI        ai.GraphAIClient
	Metrics   *metrics.PromRecorder
	Snapshots *snapshot.Store
	Archive   *storage.SnapshotArchive
	Graph     *graph.GraphClient
	Retrieval *retrieval.Orchestrator
	Sessions  *retrieval.Sessions
	Tools     *tools.Dispatcher

	Queue   *amqp091.Connection
	Channel *amqp091.Channel

	closers []func()
}

// New connects to every configured backend and wires the services. The
// caller owns the returned App and must call Close.
func New(ctx context.Context, cfg Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.Metrics = metrics.NewPrometheus()
	metrics.SetRecorder(a.Metrics)

	pool, _, err := util.RetryWithBackoff(ctx, connectRetries, connectBackoff, retryAll, func(ctx context.Context) (*pgxpool.Pool, error) {
		return db.Connect(ctx, cfg.DatabaseURL)
	})
	if err != nil {
		return nil, err
	}
	a.DB = pool
	a.closers = append(a.closers, pool.Close)
	a.Store = pgstore.New(pool)

	a.AI, err = newAIClient(cfg)
	if err != nil {
		return nil, err
	}

	storeOpts := []snapshot.StoreOption{
		snapshot.WithVersionSource(a.Store.NextSnapshotVersion),
		snapshot.WithLocker(leaselock.New(pool, leaselock.Options{
			TTL:   cfg.LeaseTTL,
			Owner: cfg.InstanceID,
		})),
	}

	if cfg.ArchiveEnabled() {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		a.Archive = storage.NewSnapshotArchive(client, cfg.S3.Bucket, cfg.SnapshotKeep)
		storeOpts = append(storeOpts, snapshot.WithArchiver(a.Archive))
	}

	if cfg.QueueEnabled() {
		conn, _, err := util.RetryWithBackoff(ctx, connectRetries, connectBackoff, retryAll, func(context.Context) (*amqp091.Connection, error) {
			return queue.Dial(cfg.RabbitMQ)
		})
		if err != nil {
			return nil, err
		}
		a.Queue = conn
		a.closers = append(a.closers, func() { _ = conn.Close() })

		ch, err := conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to open channel: %w", err)
		}
		a.Channel = ch
		a.closers = append(a.closers, func() { _ = ch.Close() })

		if err := queue.SetupQueues(ch, queue.Queues, cfg.RetryTTL); err != nil {
			return nil, err
		}
		var keyFor func(uint64) string
		if a.Archive != nil {
			keyFor = storage.SnapshotKey
		}
		storeOpts = append(storeOpts, snapshot.WithPublishHook(queue.SnapshotEventHook(ch, keyFor)))
	}

	a.Snapshots = snapshot.NewStore(storeOpts...)

	step := cfg.CorroborationStep
	a.Graph = graph.NewGraphClient(graph.NewGraphClientParams{
		Extractor:         newExtractor(cfg, a.AI),
		Relationships:     a.Store,
		Runs:              a.Store,
		Snapshots:         a.Snapshots,
		Concurrency:       cfg.ExtractConcurrency,
		MaxRetries:        cfg.ExtractMaxRetries,
		RatePerSecond:     cfg.ExtractRatePerSec,
		RateBurst:         cfg.ExtractRateBurst,
		AttemptTimeout:    cfg.ExtractAttemptTimeout,
		CorroborationStep: &step,
	})

	params := retrieval.OrchestratorParams{
		Snapshots:     a.Snapshots,
		Vectors:       a.Store,
		GraphTimeout:  cfg.GraphTimeout,
		VectorTimeout: cfg.VectorTimeout,
		VectorK:       cfg.VectorK,
		Cost:          retrieval.CostFuncByName(cfg.RetrieveCost),
	}
	if a.AI != nil {
		params.Embedder = a.AI
	}
	a.Retrieval = retrieval.NewOrchestrator(params)
	a.Sessions = retrieval.NewSessions(a.Retrieval)

	a.Tools = tools.NewDispatcher(tools.DispatcherParams{
		Snapshots: a.Snapshots,
		Retriever: a.Retrieval,
		MaxDepth:  cfg.ToolMaxDepth,
		MaxTopK:   cfg.ToolMaxTopK,
		MaxBudget: cfg.ToolMaxBudget,
	})

	ok = true
	return a, nil
}

func newAIClient(cfg Config) (ai.GraphAIClient, error) {
	switch cfg.AIAdapter {
	case AdapterOllama:
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:        cfg.EmbedModel,
			ExtractionModel:       cfg.ExtractModel,
			EmbeddingDim:          cfg.EmbedDim,
			BaseURL:               cfg.ChatURL,
			ApiKey:                cfg.ChatKey,
			MaxConcurrentRequests: cfg.AIParallel,
			Timeout:               cfg.AITimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, nil
	case AdapterPattern:
		if cfg.EmbedModel == "" {
			return nil, nil
		}
	}
	return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
		EmbeddingModel:        cfg.EmbedModel,
		ExtractionModel:       cfg.ExtractModel,
		EmbeddingDim:          cfg.EmbedDim,
		EmbeddingURL:          cfg.EmbedURL,
		EmbeddingKey:          cfg.EmbedKey,
		ChatURL:               cfg.ChatURL,
		ChatKey:               cfg.ChatKey,
		MaxConcurrentRequests: cfg.AIParallel,
		Timeout:               cfg.AITimeout,
	}), nil
}

func newExtractor(cfg Config, client ai.GraphAIClient) graph.Extractor {
	if cfg.AIAdapter == AdapterPattern {
		return graph.NewPatternExtractor()
	}
	return graph.NewLLMExtractor(client, graph.WithExtractionModel(cfg.ExtractModel))
}

// Warm makes a snapshot current at startup: the newest archived snapshot if
// there is one, otherwise a rebuild from the persisted candidates. An empty
// evidence base leaves the store without a snapshot.
func (a *App) Warm(ctx context.Context) error {
	if a.Archive != nil {
		snap, err := a.Archive.Latest(ctx)
		switch {
		case err == nil:
			if a.Snapshots.Restore(ctx, snap) {
				logger.Info("Restored archived snapshot", "version", snap.Version(), "edges", snap.EdgeCount())
			}
			return nil
		case errors.Is(err, storage.ErrNoArchivedSnapshot):
		default:
			logger.Warn("Failed to load archived snapshot, rebuilding", "err", err)
		}
	}

	snap, err := a.Graph.Rebuild(ctx)
	if errors.Is(err, snapshot.ErrEmptyGraph) {
		logger.Info("No relationships persisted yet, starting without a snapshot")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to build initial snapshot: %w", err)
	}
	logger.Info("Built initial snapshot", "version", snap.Version(), "edges", snap.EdgeCount())
	return nil
}

// Refresh makes the snapshot announced by another process current. The
// archived copy is used when there is one; otherwise the same version is
// rebuilt locally from the persisted candidates.
func (a *App) Refresh(ctx context.Context, evt queue.SnapshotEvent) error {
	if cur := a.Snapshots.Current(); cur != nil && cur.Version() >= evt.Version {
		return nil
	}
	var snap *snapshot.Snapshot
	if a.Archive != nil && evt.ArchiveKey != "" {
		s, err := a.Archive.Get(ctx, evt.Version)
		if err != nil {
			return err
		}
		snap = s
	} else {
		cands, err := a.Store.LoadCandidates(ctx)
		if err != nil {
			return err
		}
		edges := graph.Consolidate(cands, graph.WithCorroborationStep(a.Config.CorroborationStep))
		snap, err = snapshot.Build(edges, evt.Version)
		if err != nil {
			return err
		}
	}
	a.Snapshots.Restore(ctx, snap)
	return nil
}

// Ingest loads filings, embeds them when an embedding model is configured
// and stores them. It returns the ids of the stored documents in input
// order. Filings that fail to load are skipped and reported in the error
// next to the ids of the ones that were stored.
func (a *App) Ingest(ctx context.Context, l *loader.Loader, filings []loader.Filing) ([]string, error) {
	start := time.Now()
	docs, loadErr := l.LoadAll(ctx, filings, a.Config.ExtractConcurrency)
	if len(docs) == 0 {
		return nil, loadErr
	}
	if a.AI != nil && a.Config.EmbedModel != "" {
		if _, err := store.EmbedDocuments(ctx, a.AI, docs, int(a.Config.AIParallel)); err != nil {
			return nil, err
		}
	}
	if err := a.Store.SaveDocuments(ctx, docs); err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	logger.Info("Ingested documents", "count", len(docs), "failed", len(filings)-len(docs), "took", time.Since(start))
	return ids, loadErr
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
