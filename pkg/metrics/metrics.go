// Package metrics is the instrumentation surface of the relationship graph.
// Callers record through Default(); the process entry points install a
// Prometheus recorder, tests and libraries get a no-op.
package metrics

import (
	"sync"
	"time"
)

// Extraction outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
)

type Recorder interface {
	IncExtraction(outcome string)
	IncDroppedCandidate(reason string)
	ObserveRunSeconds(seconds float64)
	SetSnapshot(version uint64, nodes, edges int)
	IncSnapshotBuildFailure()
	ObserveRetrievalSeconds(seconds float64)
	IncRetrievalDegraded(source string)
	IncToolCall(tool string, ok bool)
}

type noopRecorder struct{}

func (noopRecorder) IncExtraction(string)            {}
func (noopRecorder) IncDroppedCandidate(string)      {}
func (noopRecorder) ObserveRunSeconds(float64)       {}
func (noopRecorder) SetSnapshot(uint64, int, int)    {}
func (noopRecorder) IncSnapshotBuildFailure()        {}
func (noopRecorder) ObserveRetrievalSeconds(float64) {}
func (noopRecorder) IncRetrievalDegraded(string)     {}
func (noopRecorder) IncToolCall(string, bool)        {}

var (
	recMu    sync.RWMutex
	recorder Recorder = noopRecorder{}
)

// Default returns the current recorder.
func Default() Recorder {
	recMu.RLock()
	defer recMu.RUnlock()
	return recorder
}

// SetRecorder swaps the global recorder. Passing nil restores the no-op.
func SetRecorder(r Recorder) {
	recMu.Lock()
	defer recMu.Unlock()
	if r == nil {
		r = noopRecorder{}
	}
	recorder = r
}

// TimeRetrieval returns a func that records the elapsed retrieval time.
func TimeRetrieval() func() {
	start := time.Now()
	return func() {
		Default().ObserveRetrievalSeconds(time.Since(start).Seconds())
	}
}
