package graph

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/ai"
	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/metrics"
)

// Extractor turns one document into relationship candidates. Errors are
// *ExtractionFailure values.
type Extractor interface {
	Extract(ctx context.Context, doc common.Document) ([]common.RelationshipCandidate, error)
}

// DefaultMaxDocumentChars bounds the text sent to the model per document.
const DefaultMaxDocumentChars = 100_000

// Drop reasons reported to metrics.
const (
	dropEmptyTicker   = "empty_ticker"
	dropInvalidTicker = "invalid_ticker"
	dropSelfLoop      = "self_loop"
	dropUnknownKind   = "unknown_kind"
	dropConfidence    = "invalid_confidence"
	dropMissingDoc    = "missing_document"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-]{0,9}$`)

type extractRelationship struct {
	SourceTicker     string  `json:"source_ticker" jsonschema_description:"Ticker of the company the statement is about, usually the document ticker"`
	TargetTicker     string  `json:"target_ticker" jsonschema_description:"Ticker of the related company"`
	RelationshipType string  `json:"relationship_type" jsonschema:"enum=supplier,enum=customer,enum=competitor,enum=other" jsonschema_description:"How the target relates to the source"`
	Confidence       float64 `json:"confidence" jsonschema_description:"Confidence between 0.0 and 1.0 that the text states this relationship"`
	Evidence         string  `json:"evidence" jsonschema_description:"Shortest sentence fragment from the text supporting the relationship"`
}

type extractResponse struct {
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships stated in the text"`
}

// LLMExtractor asks a chat model for the relationships stated in a document.
// It issues exactly one request per document.
type LLMExtractor struct {
	client   ai.GraphAIClient
	maxChars int
	model    string
	now      func() time.Time
}

type LLMExtractorOption func(*LLMExtractor)

// WithMaxDocumentChars overrides DefaultMaxDocumentChars.
func WithMaxDocumentChars(n int) LLMExtractorOption {
	return func(e *LLMExtractor) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

// WithExtractionModel overrides the client's default extraction model.
func WithExtractionModel(model string) LLMExtractorOption {
	return func(e *LLMExtractor) { e.model = model }
}

func NewLLMExtractor(client ai.GraphAIClient, opts ...LLMExtractorOption) *LLMExtractor {
	e := &LLMExtractor{client: client, maxChars: DefaultMaxDocumentChars, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LLMExtractor) Extract(ctx context.Context, doc common.Document) ([]common.RelationshipCandidate, error) {
	text := strings.TrimSpace(doc.Content)
	if text == "" {
		return nil, &ExtractionFailure{DocumentID: doc.ID, Err: ErrEmptyDocument}
	}
	text = util.TruncateRunes(text, e.maxChars)

	ticker := common.NormalizeTicker(doc.Metadata.Ticker)
	date := "unknown"
	if !doc.Metadata.Date.IsZero() {
		date = doc.Metadata.Date.Format(time.DateOnly)
	}
	prompt := fmt.Sprintf(ai.RelationshipExtractPrompt, ticker, doc.Metadata.SourceType, date, text)

	opts := []ai.GenerateOption{ai.WithSystemPrompts(ai.RelationshipExtractSystemPrompt)}
	if e.model != "" {
		opts = append(opts, ai.WithModel(e.model))
	}

	logger.Debug("Extracting relationships", "document", doc.ID, "ticker", ticker, "tokens", ai.CountTokens(prompt))

	var res extractResponse
	err := e.client.GenerateCompletionWithFormat(
		ctx,
		"extract_company_relationships",
		"Extract business relationships between public companies from a financial document.",
		prompt,
		&res,
		opts...,
	)
	if err != nil {
		return nil, newExtractionFailure(doc.ID, err)
	}

	extractedAt := e.now().UTC()
	raw := make([]common.RelationshipCandidate, 0, len(res.Relationships))
	for _, r := range res.Relationships {
		kind, err := common.ParseRelationshipKind(r.RelationshipType)
		if err != nil {
			logger.Warn("Dropping relationship with unknown kind", "document", doc.ID, "kind", r.RelationshipType)
			metrics.Default().IncDroppedCandidate(dropUnknownKind)
			continue
		}
		source := r.SourceTicker
		if strings.TrimSpace(source) == "" {
			source = ticker
		}
		raw = append(raw, common.RelationshipCandidate{
			Source:      source,
			Target:      r.TargetTicker,
			Kind:        kind,
			Confidence:  r.Confidence,
			DocumentID:  doc.ID,
			ExtractedAt: extractedAt,
		})
	}

	return validateCandidates(doc.ID, raw), nil
}

// validateCandidates normalizes tickers, clamps confidence and drops entries
// that cannot become edges. Every drop is logged and counted.
func validateCandidates(docID string, in []common.RelationshipCandidate) []common.RelationshipCandidate {
	out := make([]common.RelationshipCandidate, 0, len(in))
	for _, c := range in {
		c.Source = common.NormalizeTicker(c.Source)
		c.Target = common.NormalizeTicker(c.Target)

		if reason := candidateProblem(c); reason != "" {
			logger.Warn("Dropping relationship candidate", "document", docID, "reason", reason,
				"source", c.Source, "target", c.Target, "kind", c.Kind)
			metrics.Default().IncDroppedCandidate(reason)
			continue
		}
		c.Confidence = clampConfidence(c.Confidence)
		out = append(out, c)
	}
	return out
}

// candidateProblem returns the drop reason for c, or "" when c is usable.
// Tickers must already be normalized.
func candidateProblem(c common.RelationshipCandidate) string {
	switch {
	case c.Source == "" || c.Target == "":
		return dropEmptyTicker
	case !tickerPattern.MatchString(c.Source) || !tickerPattern.MatchString(c.Target):
		return dropInvalidTicker
	case c.Source == c.Target:
		return dropSelfLoop
	case !c.Kind.Valid():
		return dropUnknownKind
	case math.IsNaN(c.Confidence):
		return dropConfidence
	}
	return ""
}

func clampConfidence(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
