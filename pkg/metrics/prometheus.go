package metrics

import (
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relgraph"

// PromRecorder exports the Recorder surface as Prometheus collectors.
type PromRecorder struct {
	registry *prom.Registry

	extractions      *prom.CounterVec
	dropped          *prom.CounterVec
	runSeconds       prom.Histogram
	snapshotVersion  prom.Gauge
	snapshotNodes    prom.Gauge
	snapshotEdges    prom.Gauge
	buildFailures    prom.Counter
	retrievalSeconds prom.Histogram
	degraded         *prom.CounterVec
	toolCalls        *prom.CounterVec
}

// NewPrometheus creates a recorder on its own registry, including the Go
// runtime and process collectors.
func NewPrometheus() *PromRecorder {
	registry := prom.NewRegistry()
	p := &PromRecorder{
		registry: registry,
		extractions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extraction attempts by outcome.",
		}, []string{"outcome"}),
		dropped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_candidates_total",
			Help:      "Extracted relationship entries dropped during validation.",
		}, []string{"reason"}),
		runSeconds: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_run_seconds",
			Help:      "Wall time of extraction runs.",
			Buckets:   prom.ExponentialBuckets(1, 2, 14),
		}),
		snapshotVersion: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_version",
			Help:      "Version of the published graph snapshot.",
		}),
		snapshotNodes: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_nodes",
			Help:      "Companies in the published graph snapshot.",
		}),
		snapshotEdges: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_edges",
			Help:      "Relationships in the published graph snapshot.",
		}),
		buildFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_build_failures_total",
			Help:      "Snapshot builds that kept the previous snapshot.",
		}),
		retrievalSeconds: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_seconds",
			Help:      "Hybrid retrieval latency.",
			Buckets:   prom.DefBuckets,
		}),
		degraded: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degraded_total",
			Help:      "Retrievals answered without one of their sources.",
		}, []string{"source"}),
		toolCalls: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and validity.",
		}, []string{"tool", "ok"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.extractions, p.dropped, p.runSeconds,
		p.snapshotVersion, p.snapshotNodes, p.snapshotEdges, p.buildFailures,
		p.retrievalSeconds, p.degraded, p.toolCalls,
	)
	return p
}

// Handler serves the registry in the Prometheus text format.
func (p *PromRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (p *PromRecorder) Registry() *prom.Registry {
	return p.registry
}

func (p *PromRecorder) IncExtraction(outcome string) {
	p.extractions.WithLabelValues(outcome).Inc()
}

func (p *PromRecorder) IncDroppedCandidate(reason string) {
	p.dropped.WithLabelValues(reason).Inc()
}

func (p *PromRecorder) ObserveRunSeconds(seconds float64) {
	p.runSeconds.Observe(seconds)
}

func (p *PromRecorder) SetSnapshot(version uint64, nodes, edges int) {
	p.snapshotVersion.Set(float64(version))
	p.snapshotNodes.Set(float64(nodes))
	p.snapshotEdges.Set(float64(edges))
}

func (p *PromRecorder) IncSnapshotBuildFailure() {
	p.buildFailures.Inc()
}

func (p *PromRecorder) ObserveRetrievalSeconds(seconds float64) {
	p.retrievalSeconds.Observe(seconds)
}

func (p *PromRecorder) IncRetrievalDegraded(source string) {
	p.degraded.WithLabelValues(source).Inc()
}

func (p *PromRecorder) IncToolCall(tool string, ok bool) {
	p.toolCalls.WithLabelValues(tool, strconv.FormatBool(ok)).Inc()
}
