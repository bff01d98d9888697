package graph

import (
	"time"

	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/snapshot"
	"github.com/relgraph/backend/pkg/store"

	"golang.org/x/time/rate"
)

// GraphClient runs extraction jobs: it fans documents out to an Extractor,
// persists the candidates, consolidates the full evidence base and publishes
// a new snapshot.
//
// A GraphClient should be created using NewGraphClient. Concurrent calls to
// Run share the rate limiter.
type GraphClient struct {
	extractor     Extractor
	relationships store.RelationshipStore
	runs          store.RunStore
	snapshots     *snapshot.Store

	concurrency    int
	maxRetries     int
	backoff        util.Backoff
	attemptTimeout time.Duration
	limiter        *rate.Limiter
	consolidate    []ConsolidateOption
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// Extractor and Snapshots are required. Relationships and Runs may be nil, in
// which case a run consolidates only its own candidates and is not audited.
// RatePerSecond bounds extraction attempts across all workers; zero disables
// the limit.
type NewGraphClientParams struct {
	Extractor     Extractor
	Relationships store.RelationshipStore
	Runs          store.RunStore
	Snapshots     *snapshot.Store

	Concurrency       int
	MaxRetries        int
	RatePerSecond     float64
	RateBurst         int
	Backoff           util.Backoff
	AttemptTimeout    time.Duration
	CorroborationStep *float64
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client := graph.NewGraphClient(graph.NewGraphClientParams{
//		Extractor:     graph.NewLLMExtractor(aiClient),
//		Relationships: pgStore,
//		Snapshots:     snapshots,
//		Concurrency:   8,
//		MaxRetries:    3,
//		RatePerSecond: 5,
//	})
func NewGraphClient(params NewGraphClientParams) *GraphClient {
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	maxRetries := params.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}
	limit := rate.Inf
	if params.RatePerSecond > 0 {
		limit = rate.Limit(params.RatePerSecond)
	}
	burst := params.RateBurst
	if burst <= 0 {
		burst = 1
	}
	attemptTimeout := params.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = 5 * time.Minute
	}
	backoff := params.Backoff
	if backoff.Base <= 0 {
		backoff = util.DefaultBackoff
	}

	var consolidate []ConsolidateOption
	if params.CorroborationStep != nil {
		consolidate = append(consolidate, WithCorroborationStep(*params.CorroborationStep))
	}

	return &GraphClient{
		extractor:      params.Extractor,
		relationships:  params.Relationships,
		runs:           params.Runs,
		snapshots:      params.Snapshots,
		concurrency:    concurrency,
		maxRetries:     maxRetries,
		backoff:        backoff,
		attemptTimeout: attemptTimeout,
		limiter:        rate.NewLimiter(limit, burst),
		consolidate:    consolidate,
	}
}

// Snapshots returns the store the client publishes to.
func (g *GraphClient) Snapshots() *snapshot.Store {
	return g.snapshots
}
