package pgx

import (
	"fmt"
	"strings"

	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/store"
)

const documentColumns = `id, content, metadata->>'ticker', metadata->>'source_type', metadata->>'date'`

// buildDocumentQuery renders the SELECT for filter with positional
// arguments. Documents come back oldest first, then by id, so runs over the
// same filter see the same order.
func buildDocumentQuery(filter store.DocumentFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if ids := store.UniqueIDs(filter.IDs); len(ids) > 0 {
		where = append(where, "id = ANY("+arg(ids)+")")
	}
	if len(filter.Tickers) > 0 {
		tickers := make([]string, 0, len(filter.Tickers))
		for _, t := range filter.Tickers {
			tickers = append(tickers, common.NormalizeTicker(t))
		}
		where = append(where, "metadata->>'ticker' = ANY("+arg(store.UniqueIDs(tickers))+")")
	}
	if st := store.UniqueIDs(filter.SourceTypes); len(st) > 0 {
		where = append(where, "metadata->>'source_type' = ANY("+arg(st)+")")
	}
	if !filter.Since.IsZero() {
		where = append(where, "(metadata->>'date')::timestamptz >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "(metadata->>'date')::timestamptz < "+arg(filter.Until))
	}

	var b strings.Builder
	b.WriteString("SELECT " + documentColumns + " FROM documents")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY (metadata->>'date') ASC NULLS LAST, id ASC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}
	return b.String(), args
}
