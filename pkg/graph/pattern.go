package graph

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/common"
)

const (
	phraseConfidence  = 0.5
	mentionConfidence = 0.3
	maxClauseChars    = 200
)

type relationPattern struct {
	kind common.RelationshipKind
	re   *regexp.Regexp
}

// clause captures the rest of the sentence after a relationship phrase.
const clause = `([^.;\n]+)`

var relationPatterns = []relationPattern{
	{common.KindSupplier, regexp.MustCompile(`(?i)\b(?:primary |major |key |principal )?suppliers?(?:\s+include|\s+are|\s+such as)?[\s:]+` + clause)},
	{common.KindSupplier, regexp.MustCompile(`(?i)\b(?:sources?|purchases?|procures?)\s+(?:from|through)\s+` + clause)},
	{common.KindSupplier, regexp.MustCompile(`(?i)\b(?:manufactured|produced|supplied)\s+(?:by|from)\s+` + clause)},
	{common.KindCustomer, regexp.MustCompile(`(?i)\b(?:largest |major |key |principal )?customers?(?:\s+include|\s+are)?[\s:]+` + clause)},
	{common.KindCustomer, regexp.MustCompile(`(?i)\b(?:sells?|provides?)\s+(?:to|services?\s+to)\s+` + clause)},
	{common.KindCustomer, regexp.MustCompile(`(?i)\brevenues?\s+from\s+` + clause)},
	{common.KindCompetitor, regexp.MustCompile(`(?i)\b(?:primary |major |key )?competitors?(?:\s+include|\s+are)?[\s:]+` + clause)},
	{common.KindCompetitor, regexp.MustCompile(`(?i)\bcompetes?\s+(?:with|against)\s+` + clause)},
	{common.KindCompetitor, regexp.MustCompile(`(?i)\bcompetition\s+from\s+` + clause)},
	{common.KindOther, regexp.MustCompile(`(?i)\b(?:wholly[- ]owned )?subsidiar(?:y|ies)(?:\s+include)?[\s:]+` + clause)},
	{common.KindOther, regexp.MustCompile(`(?i)\b(?:owns?|acquired)\s+` + clause)},
	{common.KindOther, regexp.MustCompile(`(?i)\b(?:strategic )?partner(?:ship)?s?(?:\s+with|\s+include)?[\s:]+` + clause)},
	{common.KindOther, regexp.MustCompile(`(?i)\b(?:joint venture|collaboration|alliance)\s+(?:with|between)\s+` + clause)},
}

// PatternExtractor finds relationships with keyword phrases and a table of
// known company names. It needs no model and is deterministic, which makes it
// the extractor for offline rebuilds.
type PatternExtractor struct {
	maxChars int
	now      func() time.Time
}

func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{maxChars: DefaultMaxDocumentChars, now: time.Now}
}

func (p *PatternExtractor) Extract(ctx context.Context, doc common.Document) ([]common.RelationshipCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, newExtractionFailure(doc.ID, err)
	}
	text := strings.TrimSpace(doc.Content)
	if text == "" {
		return nil, &ExtractionFailure{DocumentID: doc.ID, Err: ErrEmptyDocument}
	}
	text = util.TruncateRunes(text, p.maxChars)

	source := common.NormalizeTicker(doc.Metadata.Ticker)
	if source == "" {
		return nil, &ExtractionFailure{DocumentID: doc.ID, Err: ErrMissingTicker}
	}
	extractedAt := p.now().UTC()

	seen := make(map[common.EdgeKey]struct{})
	related := make(map[string]struct{})
	var out []common.RelationshipCandidate
	add := func(target string, kind common.RelationshipKind, conf float64) {
		if target == source {
			return
		}
		c := common.RelationshipCandidate{
			Source:      source,
			Target:      target,
			Kind:        kind,
			Confidence:  conf,
			DocumentID:  doc.ID,
			ExtractedAt: extractedAt,
		}
		if _, ok := seen[c.Key()]; ok {
			return
		}
		seen[c.Key()] = struct{}{}
		related[target] = struct{}{}
		out = append(out, c)
	}

	for _, rp := range relationPatterns {
		for _, m := range rp.re.FindAllStringSubmatch(text, -1) {
			for _, target := range clauseCompanies(util.TruncateRunes(m[1], maxClauseChars)) {
				add(target, rp.kind, phraseConfidence)
			}
		}
	}

	for _, target := range common.FindCompanies(text, true) {
		if _, ok := related[target]; ok {
			continue
		}
		add(target, common.KindOther, mentionConfidence)
	}

	return validateCandidates(doc.ID, out), nil
}

var listSeparator = regexp.MustCompile(`(?i)[,;]|\band\b|\bor\b`)

// clauseCompanies splits a captured list ("Apple Inc., Dell and HP") and maps
// each known name to a ticker. Parts that are not names on their own are
// scanned for names.
func clauseCompanies(cl string) []string {
	var out []string
	for _, part := range listSeparator.Split(cl, -1) {
		if t, ok := common.TickerForCompany(part); ok {
			out = append(out, t)
			continue
		}
		out = append(out, common.FindCompanies(part, false)...)
	}
	return out
}
