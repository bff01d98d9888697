package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/snapshot"
)

// SnapshotEventHook publishes a SnapshotEvent for every snapshot that
// becomes current. keyFor may be nil; otherwise it names the archive
// object of a version. Publishing failures are logged and never undo the
// publication.
func SnapshotEventHook(pub Publisher, keyFor func(version uint64) string) snapshot.PublishHook {
	return func(ctx context.Context, snap *snapshot.Snapshot) {
		evt := SnapshotEvent{
			Version: snap.Version(),
			Nodes:   snap.NodeCount(),
			Edges:   snap.EdgeCount(),
			BuiltAt: snap.BuiltAt(),
		}
		if keyFor != nil {
			evt.ArchiveKey = keyFor(snap.Version())
		}
		data, err := json.Marshal(evt)
		if err != nil {
			logger.Error("[Queue] Failed to encode snapshot event", "err", err)
			return
		}

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := PublishTopic(pubCtx, pub, SnapshotTopic, data); err != nil {
			logger.Warn("[Queue] Failed to publish snapshot event", "version", evt.Version, "err", err)
		}
	}
}
