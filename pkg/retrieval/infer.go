package retrieval

import (
	"regexp"

	"github.com/relgraph/backend/pkg/common"
)

var (
	cashtag    = regexp.MustCompile(`\$([A-Za-z][A-Za-z0-9.\-]{0,9})\b`)
	upperToken = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,5}(?:[.\-][A-Z])?\b`)
)

// InferTicker picks the company a free-text question is about. Cashtags win
// over bare upper-case tokens, which win over company names. Only tickers for
// which known returns true are considered.
func InferTicker(q string, known func(string) bool) string {
	for _, m := range cashtag.FindAllStringSubmatch(q, -1) {
		if t := common.NormalizeTicker(m[1]); known(t) {
			return t
		}
	}
	for _, m := range upperToken.FindAllString(q, -1) {
		if t := common.NormalizeTicker(m); known(t) {
			return t
		}
	}
	for _, t := range common.FindCompanies(q, true) {
		if known(t) {
			return t
		}
	}
	return ""
}
