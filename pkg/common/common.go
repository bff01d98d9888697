package common

import (
	"fmt"
	"strings"
	"time"
)

// Document is one ingested filing or news text. Documents are immutable once
// stored; the extraction pipeline only reads them.
type Document struct {
	ID        string           `json:"id"`
	Content   string           `json:"content"`
	Metadata  DocumentMetadata `json:"metadata"`
	Embedding []float32        `json:"embedding,omitempty"`
}

// DocumentMetadata carries the structured fields stored next to the text.
//
// SourceType is free-form but in practice one of "10-K", "10-Q", "8-K" or
// "news".
type DocumentMetadata struct {
	Ticker     string    `json:"ticker"`
	Date       time.Time `json:"date"`
	SourceType string    `json:"source_type"`
}

// RelationshipKind is the closed set of relationship types the graph stores.
type RelationshipKind string

const (
	KindSupplier   RelationshipKind = "supplier"
	KindCustomer   RelationshipKind = "customer"
	KindCompetitor RelationshipKind = "competitor"
	KindOther      RelationshipKind = "other"
)

// RelationshipKinds lists every valid kind in a fixed order.
var RelationshipKinds = []RelationshipKind{KindSupplier, KindCustomer, KindCompetitor, KindOther}

// Valid reports whether k is one of the enumerated kinds.
func (k RelationshipKind) Valid() bool {
	switch k {
	case KindSupplier, KindCustomer, KindCompetitor, KindOther:
		return true
	}
	return false
}

// ParseRelationshipKind normalizes free text coming from a model or a user
// into a RelationshipKind. Case and surrounding whitespace are ignored and a
// trailing plural "s" is accepted. Unrecognized input is an error; it is never
// coerced into KindOther.
func ParseRelationshipKind(s string) (RelationshipKind, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	k := RelationshipKind(v)
	if k.Valid() {
		return k, nil
	}
	if trimmed := RelationshipKind(strings.TrimSuffix(v, "s")); trimmed != k && trimmed.Valid() {
		return trimmed, nil
	}
	return "", fmt.Errorf("unknown relationship kind %q", s)
}

// RelationshipCandidate is one triplet proposed by an extractor for a single
// document. Candidates are consumed by consolidation and then discarded.
type RelationshipCandidate struct {
	Source      string           `json:"source"`
	Target      string           `json:"target"`
	Kind        RelationshipKind `json:"kind"`
	Confidence  float64          `json:"confidence"`
	DocumentID  string           `json:"document_id"`
	ExtractedAt time.Time        `json:"extracted_at"`
}

// Key returns the grouping key of the candidate.
func (c RelationshipCandidate) Key() EdgeKey {
	return EdgeKey{Source: c.Source, Target: c.Target, Kind: c.Kind}
}

// EdgeKey identifies a canonical edge. A graph holds at most one edge per key.
type EdgeKey struct {
	Source string
	Target string
	Kind   RelationshipKind
}

func (k EdgeKey) String() string {
	return k.Source + "|" + k.Target + "|" + string(k.Kind)
}

// RelationshipEdge is the consolidated form of all candidates sharing a key.
//
// Documents is sorted and free of duplicates. ExtractedAt is the extraction
// time of the candidate that supplied the peak confidence.
type RelationshipEdge struct {
	Source      string           `json:"source"`
	Target      string           `json:"target"`
	Kind        RelationshipKind `json:"kind"`
	Confidence  float64          `json:"confidence"`
	Documents   []string         `json:"documents"`
	ExtractedAt time.Time        `json:"extracted_at"`
}

func (e RelationshipEdge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Kind: e.Kind}
}

// Peer returns the ticker at the other end of the edge as seen from ticker.
func (e RelationshipEdge) Peer(ticker string) string {
	if e.Source == ticker {
		return e.Target
	}
	return e.Source
}

// Fact renders the edge as a short sentence suitable for answer context.
func (e RelationshipEdge) Fact() string {
	var rel string
	switch e.Kind {
	case KindSupplier:
		rel = fmt.Sprintf("%s is a supplier of %s", e.Target, e.Source)
	case KindCustomer:
		rel = fmt.Sprintf("%s is a customer of %s", e.Target, e.Source)
	case KindCompetitor:
		rel = fmt.Sprintf("%s competes with %s", e.Source, e.Target)
	default:
		rel = fmt.Sprintf("%s is related to %s", e.Source, e.Target)
	}
	docs := "document"
	if len(e.Documents) != 1 {
		docs = "documents"
	}
	return fmt.Sprintf("%s (confidence %.2f, %d %s)", rel, e.Confidence, len(e.Documents), docs)
}

// NormalizeTicker uppercases and trims a ticker and rewrites share class dots
// to dashes (BRK.B becomes BRK-B) so that filings and user input agree.
func NormalizeTicker(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	t = strings.TrimPrefix(t, "$")
	return strings.ReplaceAll(t, ".", "-")
}
