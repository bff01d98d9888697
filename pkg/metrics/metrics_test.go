package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsNoop(t *testing.T) {
	SetRecorder(nil)
	r := Default()
	require.NotNil(t, r)
	r.IncExtraction(OutcomeSuccess)
	r.SetSnapshot(1, 2, 3)
	TimeRetrieval()()
}

func TestPrometheusRecorder(t *testing.T) {
	p := NewPrometheus()
	SetRecorder(p)
	t.Cleanup(func() { SetRecorder(nil) })

	Default().IncExtraction(OutcomeTransient)
	Default().IncExtraction(OutcomeTransient)
	Default().IncDroppedCandidate("unknown_kind")
	Default().SetSnapshot(7, 10, 12)
	Default().IncToolCall("graph_query", false)
	Default().IncRetrievalDegraded("vector")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.extractions.WithLabelValues(OutcomeTransient)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.dropped.WithLabelValues("unknown_kind")))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.snapshotVersion))
	assert.Equal(t, 12.0, testutil.ToFloat64(p.snapshotEdges))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.toolCalls.WithLabelValues("graph_query", "false")))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relgraph_retrieval_degraded_total")
	assert.Contains(t, string(body), "relgraph_snapshot_version 7")
}
