package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/relgraph/backend/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLocker struct {
	keys []string
}

func (l *recordingLocker) WithLease(ctx context.Context, key string, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

type failingArchiver struct{ calls int }

func (a *failingArchiver) Archive(context.Context, *Snapshot) error {
	a.calls++
	return errors.New("bucket unavailable")
}

func TestStoreRebuildPublishes(t *testing.T) {
	locker := &recordingLocker{}
	archiver := &failingArchiver{}
	var published []uint64
	s := NewStore(
		WithLocker(locker),
		WithArchiver(archiver),
		WithPublishHook(func(_ context.Context, snap *Snapshot) { published = append(published, snap.Version()) }),
	)
	require.Nil(t, s.Current())

	first, err := s.Rebuild(context.Background(), sampleEdges())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Version())
	assert.Same(t, first, s.Current())

	second, err := s.Rebuild(context.Background(), sampleEdges()[:2])
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Version())

	assert.Equal(t, []string{buildLeaseKey, buildLeaseKey}, locker.keys)
	assert.Equal(t, 2, archiver.calls, "archive failures must not block publication")
	assert.Equal(t, []uint64{1, 2}, published)

	// readers holding the old snapshot still see it unchanged
	assert.Equal(t, 6, first.EdgeCount())
}

func TestStoreFailedBuildKeepsCurrent(t *testing.T) {
	s := NewStore()
	good, err := s.Rebuild(context.Background(), sampleEdges())
	require.NoError(t, err)

	_, err = s.Rebuild(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyGraph)
	assert.Same(t, good, s.Current())

	bad := []common.RelationshipEdge{edge("A", "A", common.KindOther, 0.5)}
	_, err = s.Rebuild(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidEdge)
	assert.Same(t, good, s.Current())
}

func TestStoreVersionSource(t *testing.T) {
	next := uint64(41)
	s := NewStore(WithVersionSource(func(context.Context) (uint64, error) {
		next++
		return next, nil
	}))
	snap, err := s.Rebuild(context.Background(), sampleEdges())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.Version())

	failing := NewStore(WithVersionSource(func(context.Context) (uint64, error) {
		return 0, errors.New("sequence unavailable")
	}))
	_, err = failing.Rebuild(context.Background(), sampleEdges())
	require.Error(t, err)
	assert.Nil(t, failing.Current())
}

func TestStoreRestoreOnlyNewer(t *testing.T) {
	s := NewStore()
	_, err := s.Rebuild(context.Background(), sampleEdges())
	require.NoError(t, err)

	older, err := Build(sampleEdges(), 1)
	require.NoError(t, err)
	assert.False(t, s.Restore(context.Background(), older))

	newer, err := Build(sampleEdges()[:1], 10)
	require.NoError(t, err)
	assert.True(t, s.Restore(context.Background(), newer))
	assert.Same(t, newer, s.Current())
	assert.False(t, s.Restore(context.Background(), nil))
}

func TestStoreConcurrentReadsDuringRebuild(t *testing.T) {
	s := NewStore()
	_, err := s.Rebuild(context.Background(), sampleEdges())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				snap := s.Current()
				// every published snapshot is complete
				if n := snap.EdgeCount(); n != 6 && n != 2 {
					t.Errorf("observed partial snapshot with %d edges", n)
					return
				}
			}
		}()
	}
	for i := range 20 {
		edges := sampleEdges()
		if i%2 == 0 {
			edges = edges[:2]
		}
		_, err := s.Rebuild(context.Background(), edges)
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, uint64(21), s.Current().Version())
}
