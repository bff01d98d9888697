package queue

import "time"

// ExtractMsg asks a worker to run extraction over stored documents.
type ExtractMsg struct {
	Message     string   `json:"message"`
	DocumentIDs []string `json:"document_ids"`
	Concurrency int      `json:"concurrency,omitempty"`
	MaxRetries  *int     `json:"max_retries,omitempty"`
}

// RebuildMsg asks a worker to rebuild the snapshot from persisted
// candidates.
type RebuildMsg struct {
	Message string `json:"message"`
}

// SnapshotEvent announces a newly published snapshot on SnapshotTopic.
type SnapshotEvent struct {
	Version uint64    `json:"version"`
	Nodes   int       `json:"nodes"`
	Edges   int       `json:"edges"`
	BuiltAt time.Time `json:"built_at"`
	// ArchiveKey is set when the snapshot was archived to object storage.
	ArchiveKey string `json:"archive_key,omitempty"`
}
