package retrieval

import (
	"context"
	"errors"
	"sync"
)

type inflight struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

// Sessions serializes retrievals per conversation: a new request for a
// session cancels the one still running.
type Sessions struct {
	orchestrator *Orchestrator

	mu      sync.Mutex
	seq     uint64
	running map[string]inflight
}

func NewSessions(o *Orchestrator) *Sessions {
	return &Sessions{orchestrator: o, running: make(map[string]inflight)}
}

// Retrieve cancels the previous in-flight request of sessionID, if any, and
// runs req. A request cancelled this way returns ErrSuperseded.
func (s *Sessions) Retrieve(ctx context.Context, sessionID string, req Request) (*RetrievalContext, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	s.mu.Lock()
	if prev, ok := s.running[sessionID]; ok {
		prev.cancel(ErrSuperseded)
	}
	s.seq++
	mine := s.seq
	s.running[sessionID] = inflight{seq: mine, cancel: cancel}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if cur, ok := s.running[sessionID]; ok && cur.seq == mine {
			delete(s.running, sessionID)
		}
		s.mu.Unlock()
		cancel(nil)
	}()

	rc, err := s.orchestrator.Retrieve(ctx, req)
	if err != nil && errors.Is(context.Cause(ctx), ErrSuperseded) {
		return nil, ErrSuperseded
	}
	return rc, err
}

// Running reports how many sessions have a request in flight.
func (s *Sessions) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
