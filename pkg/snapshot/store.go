package snapshot

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/metrics"
)

// Locker serializes builds across processes. fn runs while the lease is held.
type Locker interface {
	WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Archiver persists published snapshots.
type Archiver interface {
	Archive(ctx context.Context, snap *Snapshot) error
}

// VersionSource hands out versions that are unique across processes.
type VersionSource func(ctx context.Context) (uint64, error)

// PublishHook is called after a snapshot became current.
type PublishHook func(ctx context.Context, snap *Snapshot)

const buildLeaseKey = "graph_snapshot_build"

// Store publishes snapshots. Reads are lock-free; builds are serialized by a
// mutex and, when a Locker is configured, by a cross-process lease.
type Store struct {
	buildMu sync.Mutex
	current atomic.Pointer[Snapshot]

	locker   Locker
	archiver Archiver
	versions VersionSource
	hooks    []PublishHook
}

type StoreOption func(*Store)

func WithLocker(l Locker) StoreOption {
	return func(s *Store) { s.locker = l }
}

func WithArchiver(a Archiver) StoreOption {
	return func(s *Store) { s.archiver = a }
}

func WithVersionSource(v VersionSource) StoreOption {
	return func(s *Store) { s.versions = v }
}

func WithPublishHook(h PublishHook) StoreOption {
	return func(s *Store) { s.hooks = append(s.hooks, h) }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Current returns the published snapshot, or nil before the first build.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Rebuild builds a snapshot from edges and publishes it. On failure the
// current snapshot is left untouched and the error is returned.
func (s *Store) Rebuild(ctx context.Context, edges []common.RelationshipEdge) (*Snapshot, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	var snap *Snapshot
	build := func(ctx context.Context) error {
		version, err := s.nextVersion(ctx)
		if err != nil {
			return err
		}
		b, err := Build(edges, version)
		if err != nil {
			return err
		}
		snap = b
		return nil
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLease(ctx, buildLeaseKey, build)
	} else {
		err = build(ctx)
	}
	if err != nil {
		metrics.Default().IncSnapshotBuildFailure()
		prev := s.Current()
		var prevVersion uint64
		if prev != nil {
			prevVersion = prev.Version()
		}
		logger.Error("Snapshot build failed, keeping current snapshot", "err", err, "current_version", prevVersion)
		return nil, err
	}

	s.publish(ctx, snap)
	return snap, nil
}

// Restore publishes an externally built snapshot, typically one decoded from
// the archive. Snapshots not newer than the current one are ignored.
func (s *Store) Restore(ctx context.Context, snap *Snapshot) bool {
	if snap == nil {
		return false
	}
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	if cur := s.Current(); cur != nil && cur.Version() >= snap.Version() {
		return false
	}
	s.current.Store(snap)
	metrics.Default().SetSnapshot(snap.Version(), snap.NodeCount(), snap.EdgeCount())
	logger.Info("Restored graph snapshot", "version", snap.Version(), "edges", snap.EdgeCount())
	return true
}

func (s *Store) nextVersion(ctx context.Context) (uint64, error) {
	var local uint64 = 1
	if cur := s.Current(); cur != nil {
		local = cur.Version() + 1
	}
	if s.versions == nil {
		return local, nil
	}
	v, err := s.versions(ctx)
	if err != nil {
		return 0, err
	}
	return max(v, local), nil
}

func (s *Store) publish(ctx context.Context, snap *Snapshot) {
	s.current.Store(snap)
	metrics.Default().SetSnapshot(snap.Version(), snap.NodeCount(), snap.EdgeCount())
	logger.Info("Published graph snapshot", "version", snap.Version(), "nodes", snap.NodeCount(), "edges", snap.EdgeCount())

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, snap); err != nil {
			logger.Warn("Failed to archive snapshot", "version", snap.Version(), "err", err)
		}
	}
	for _, h := range s.hooks {
		h(ctx, snap)
	}
}
