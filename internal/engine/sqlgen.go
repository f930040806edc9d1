package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultColumns is the projection used by the collection store.
var DefaultColumns = []string{"id", "docid", "text", "score"}

// RenderSQL renders a Request into the engine's SQL-like dialect:
//
//	SELECT id, docid, text, score FROM vectors
//	 WHERE similar('query') AND ([f] = 'a' OR [f] <> 'b') AND id <> ''
//	 GROUP BY id, docid, text, score LIMIT n
//
// Field names are bracket-wrapped after sanitization; values are quoted
// after SanitSQL. GROUP BY over the projection deduplicates; LIMIT is the
// overfetch count. Engines with a SQL dialect submit this string; the
// embedded engine evaluates the structured request directly and logs the
// rendered form for debugging parity.
func RenderSQL(req Request, columns []string) string {
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	cols := strings.Join(columns, ", ")

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM vectors", cols)

	var wheres []string
	if req.Query != "" {
		wheres = append(wheres, fmt.Sprintf("similar('%s')", req.Query))
	}

	fields := make([]string, 0, len(req.Pre))
	for f := range req.Pre {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, field := range fields {
		safeField := SanitField(field)
		if safeField == "" {
			continue
		}
		ors := make([]string, 0, len(req.Pre[field]))
		for _, term := range req.Pre[field] {
			cmp := "="
			if term.Negate {
				cmp = "<>"
			}
			ors = append(ors, fmt.Sprintf("[%s] %s '%s'", safeField, cmp, SanitSQL(term.Value, 0)))
		}
		wheres = append(wheres, "("+strings.Join(ors, " OR ")+")")
	}

	b.WriteString(" WHERE ")
	if len(wheres) > 0 {
		b.WriteString(strings.Join(wheres, " AND "))
		b.WriteString(" AND ")
	}
	b.WriteString("id <> ''")

	fmt.Fprintf(&b, " GROUP BY %s", cols)
	if req.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", req.Limit)
	}
	return b.String()
}
