package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pgcrud/pgcrud/internal/schema"
)

// MaxInListItems caps the number of comma-separated operands accepted by
// the "in" operator.
const MaxInListItems = 100

// operators maps filter operator names to their SQL comparison tokens.
// "is" and "in" have dedicated grammar and are handled separately.
var operators = map[string]string{
	"eq":    "=",
	"neq":   "!=",
	"gt":    ">",
	"gte":   ">=",
	"lt":    "<",
	"lte":   "<=",
	"like":  "LIKE",
	"ilike": "ILIKE",
}

// parseFilter splits a raw filter value into operator and operand. When
// the prefix before the first colon is not a known operator the whole
// value is an equality operand.
func parseFilter(raw string) (op, operand string) {
	if idx := strings.Index(raw, ":"); idx >= 0 {
		prefix := raw[:idx]
		if _, ok := operators[prefix]; ok || prefix == "is" || prefix == "in" {
			return prefix, raw[idx+1:]
		}
	}
	return "eq", raw
}

// clause holds one parsed filter: its column, operator and raw operand.
// buildWhere does not use it; it renders and numbers $n placeholders
// directly.
type clause struct {
	column string
	op     string
	raw    string
}

// buildWhere renders the conjunction of filter clauses plus the optional
// search disjunction. Placeholders are numbered from firstParam. The
// same inputs always render the same text, which is what makes the list
// and count queries share their WHERE verbatim.
func buildWhere(e *schema.Entity, filters map[string]string, search string, searchColumns []string, firstParam int) (string, []interface{}, error) {
	var (
		parts  []string
		values []interface{}
	)
	next := firstParam

	// Sort filter columns so the generated text is deterministic.
	cols := make([]string, 0, len(filters))
	for col := range filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	for _, col := range cols {
		if !e.HasColumn(col) {
			return "", nil, Validationf("unknown filter column %q; known columns: %s", col, strings.Join(e.ColumnNames(), ", "))
		}
		op, operand := parseFilter(filters[col])
		quoted := schema.QuoteIdentifier(col)

		switch op {
		case "is":
			switch strings.ToLower(operand) {
			case "null":
				parts = append(parts, quoted+" IS NULL")
			case "notnull":
				parts = append(parts, quoted+" IS NOT NULL")
			default:
				return "", nil, Validationf("operator \"is\" accepts only \"null\" or \"notnull\", got %q", operand)
			}
		case "in":
			items := strings.Split(operand, ",")
			if len(items) > MaxInListItems {
				return "", nil, Validationf("\"in\" filter on %q has %d values; the maximum is %d", col, len(items), MaxInListItems)
			}
			placeholders := make([]string, len(items))
			for i, item := range items {
				placeholders[i] = fmt.Sprintf("$%d", next)
				values = append(values, item)
				next++
			}
			parts = append(parts, quoted+" IN ("+strings.Join(placeholders, ", ")+")")
		default:
			parts = append(parts, fmt.Sprintf("%s %s $%d", quoted, operators[op], next))
			values = append(values, operand)
			next++
		}
	}

	if search != "" {
		cols := resolveSearchColumns(e, searchColumns)
		if len(cols) > 0 {
			operand := "%" + escapeLikeTerm(search) + "%"
			ors := make([]string, len(cols))
			for i, col := range cols {
				ors[i] = fmt.Sprintf("%s::text ILIKE $%d", schema.QuoteIdentifier(col), next)
				values = append(values, operand)
				next++
			}
			parts = append(parts, "("+strings.Join(ors, " OR ")+")")
		}
	}

	if len(parts) == 0 {
		return "", values, nil
	}
	return " WHERE " + strings.Join(parts, " AND "), values, nil
}

// resolveSearchColumns restricts search to the requested columns,
// silently skipping names the entity doesn't declare; with no explicit
// list, every textual column participates. An empty result drops search.
func resolveSearchColumns(e *schema.Entity, requested []string) []string {
	if len(requested) == 0 {
		return e.SearchableColumns()
	}
	var cols []string
	for _, col := range requested {
		if e.HasColumn(col) {
			cols = append(cols, col)
		}
	}
	return cols
}

// escapeLikeTerm backslash-escapes the LIKE metacharacters in a search
// term so user input only ever matches literally.
func escapeLikeTerm(term string) string {
	term = strings.ReplaceAll(term, `\`, `\\`)
	term = strings.ReplaceAll(term, `%`, `\%`)
	term = strings.ReplaceAll(term, `_`, `\_`)
	return term
}
