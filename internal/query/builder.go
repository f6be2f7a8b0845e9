// Package query turns validated request intents into parameterized SQL.
// Builders are pure functions of the schema model and the intent; no
// value of untrusted origin is ever concatenated into statement text.
package query

import (
	"fmt"
	"strings"

	"github.com/pgcrud/pgcrud/internal/schema"
)

// ParameterizedSQL is a statement text with positional placeholders
// ($1, $2, …) and the values bound to them, in placeholder order.
type ParameterizedSQL struct {
	Text   string
	Values []interface{}
}

// ListParams carries the validated inputs of a list operation.
type ListParams struct {
	Filters       map[string]string
	Search        string
	SearchColumns []string
	SortBy        string
	SortOrder     string
	Page          int
	PageSize      int
	Select        []string
}

// Builder generates SQL for one schema model under the configured caps.
type Builder struct {
	MaxPageSize int
	MaxBulkRows int
}

// timestamp columns with automatic handling.
const (
	updatedAtColumn = "updated_at"
	deletedAtColumn = "deleted_at"
)

// List builds the page query for an entity.
func (b *Builder) List(e *schema.Entity, p ListParams) (ParameterizedSQL, error) {
	projection, err := buildProjection(e, p.Select)
	if err != nil {
		return ParameterizedSQL{}, err
	}

	where, values, err := buildWhere(e, p.Filters, p.Search, p.SearchColumns, 1)
	if err != nil {
		return ParameterizedSQL{}, err
	}

	sortCol, dir := resolveSort(e, p.SortBy, p.SortOrder)
	page, pageSize := clampPage(p.Page, p.PageSize, b.MaxPageSize)
	offset := (page - 1) * pageSize

	next := len(values) + 1
	text := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		projection, e.QualifiedIdentifier(), where,
		schema.QuoteIdentifier(sortCol), dir, next, next+1)
	values = append(values, pageSize, offset)

	return ParameterizedSQL{Text: text, Values: values}, nil
}

// Count builds the total-count query sharing the list query's WHERE
// clause verbatim.
func (b *Builder) Count(e *schema.Entity, p ListParams) (ParameterizedSQL, error) {
	where, values, err := buildWhere(e, p.Filters, p.Search, p.SearchColumns, 1)
	if err != nil {
		return ParameterizedSQL{}, err
	}
	text := fmt.Sprintf("SELECT COUNT(*) AS total FROM %s%s", e.QualifiedIdentifier(), where)
	return ParameterizedSQL{Text: text, Values: values}, nil
}

// ReadByKey builds the single-row lookup. keyValues must hold one value
// per primary-key column, in primary-key order; the validator enforces
// that before the builder runs.
func (b *Builder) ReadByKey(e *schema.Entity, keyValues []interface{}) (ParameterizedSQL, error) {
	where, err := pkWhere(e, len(keyValues), 1)
	if err != nil {
		return ParameterizedSQL{}, err
	}
	text := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", e.QualifiedIdentifier(), where)
	return ParameterizedSQL{Text: text, Values: keyValues}, nil
}

// Insert builds a single-row INSERT. Payload keys that are not entity
// columns are silently dropped; an updated_at column absent from the
// payload is filled with the NOW() literal.
func (b *Builder) Insert(e *schema.Entity, payload map[string]interface{}) (ParameterizedSQL, error) {
	cols := payloadColumns(e, payload)
	if len(cols) == 0 {
		return ParameterizedSQL{}, Validationf("no valid columns in payload for %s", e.QualifiedIdentifier())
	}

	autoUpdated := e.HasColumn(updatedAtColumn) && !containsString(cols, updatedAtColumn)

	quoted := make([]string, 0, len(cols)+1)
	exprs := make([]string, 0, len(cols)+1)
	values := make([]interface{}, 0, len(cols))
	next := 1
	for _, col := range cols {
		quoted = append(quoted, schema.QuoteIdentifier(col))
		exprs = append(exprs, fmt.Sprintf("$%d", next))
		values = append(values, payload[col])
		next++
	}
	if autoUpdated {
		quoted = append(quoted, schema.QuoteIdentifier(updatedAtColumn))
		exprs = append(exprs, "NOW()")
	}

	text := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		e.QualifiedIdentifier(), strings.Join(quoted, ", "), strings.Join(exprs, ", "))
	return ParameterizedSQL{Text: text, Values: values}, nil
}

// BulkInsert builds a multi-row INSERT over the union of the rows'
// columns. A row that omits a column binds SQL NULL at that position;
// updated_at auto-fill applies per row.
func (b *Builder) BulkInsert(e *schema.Entity, rows []map[string]interface{}) (ParameterizedSQL, error) {
	if len(rows) == 0 {
		return ParameterizedSQL{}, Validationf("bulk insert requires at least one row")
	}
	if len(rows) > b.MaxBulkRows {
		return ParameterizedSQL{}, Validationf("bulk insert of %d rows exceeds the maximum of %d", len(rows), b.MaxBulkRows)
	}

	seen := make(map[string]bool)
	for _, row := range rows {
		for _, col := range payloadColumns(e, row) {
			seen[col] = true
		}
	}
	if len(seen) == 0 {
		return ParameterizedSQL{}, Validationf("no valid columns in payload for %s", e.QualifiedIdentifier())
	}

	// Union columns in entity declared order; updated_at is handled per
	// row below, so it is kept out of the plain union.
	var cols []string
	for _, c := range e.Columns {
		if seen[c.Name] && c.Name != updatedAtColumn {
			cols = append(cols, c.Name)
		}
	}

	hasUpdatedAt := e.HasColumn(updatedAtColumn)

	quoted := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		quoted = append(quoted, schema.QuoteIdentifier(col))
	}
	if hasUpdatedAt {
		quoted = append(quoted, schema.QuoteIdentifier(updatedAtColumn))
	}

	var (
		tuples []string
		values []interface{}
	)
	next := 1
	for _, row := range rows {
		exprs := make([]string, 0, len(quoted))
		for _, col := range cols {
			exprs = append(exprs, fmt.Sprintf("$%d", next))
			if v, ok := row[col]; ok {
				values = append(values, v)
			} else {
				values = append(values, nil)
			}
			next++
		}
		if hasUpdatedAt {
			if v, ok := row[updatedAtColumn]; ok {
				exprs = append(exprs, fmt.Sprintf("$%d", next))
				values = append(values, v)
				next++
			} else {
				exprs = append(exprs, "NOW()")
			}
		}
		tuples = append(tuples, "("+strings.Join(exprs, ", ")+")")
	}

	text := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING *",
		e.QualifiedIdentifier(), strings.Join(quoted, ", "), strings.Join(tuples, ", "))
	return ParameterizedSQL{Text: text, Values: values}, nil
}

// Update builds the SET-by-key statement used by both PATCH and PUT.
// Primary-key columns in the payload are silently dropped; an absent
// updated_at column is stamped with the NOW() literal.
func (b *Builder) Update(e *schema.Entity, payload map[string]interface{}, keyValues []interface{}) (ParameterizedSQL, error) {
	var cols []string
	for _, col := range payloadColumns(e, payload) {
		if e.IsPrimaryKey(col) {
			continue
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return ParameterizedSQL{}, Validationf("no updatable columns in payload for %s", e.QualifiedIdentifier())
	}

	var (
		sets   []string
		values []interface{}
	)
	next := 1
	for _, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", schema.QuoteIdentifier(col), next))
		values = append(values, payload[col])
		next++
	}
	if e.HasColumn(updatedAtColumn) && !containsString(cols, updatedAtColumn) {
		sets = append(sets, schema.QuoteIdentifier(updatedAtColumn)+" = NOW()")
	}

	where, err := pkWhere(e, len(keyValues), next)
	if err != nil {
		return ParameterizedSQL{}, err
	}
	values = append(values, keyValues...)

	text := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *",
		e.QualifiedIdentifier(), strings.Join(sets, ", "), where)
	return ParameterizedSQL{Text: text, Values: values}, nil
}

// Delete builds either a soft delete (UPDATE stamping deleted_at, and
// updated_at when present) or a hard DELETE, depending on the entity.
// The returned flag reports which path was taken.
func (b *Builder) Delete(e *schema.Entity, keyValues []interface{}) (ParameterizedSQL, bool, error) {
	if e.HasColumn(deletedAtColumn) {
		sets := []string{schema.QuoteIdentifier(deletedAtColumn) + " = NOW()"}
		if e.HasColumn(updatedAtColumn) {
			sets = append(sets, schema.QuoteIdentifier(updatedAtColumn)+" = NOW()")
		}
		where, err := pkWhere(e, len(keyValues), 1)
		if err != nil {
			return ParameterizedSQL{}, false, err
		}
		text := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *",
			e.QualifiedIdentifier(), strings.Join(sets, ", "), where)
		return ParameterizedSQL{Text: text, Values: keyValues}, true, nil
	}

	where, err := pkWhere(e, len(keyValues), 1)
	if err != nil {
		return ParameterizedSQL{}, false, err
	}
	text := fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING *", e.QualifiedIdentifier(), where)
	return ParameterizedSQL{Text: text, Values: keyValues}, false, nil
}

// pkWhere renders the conjunction of primary-key equality tests with
// placeholders numbered from firstParam.
func pkWhere(e *schema.Entity, valueCount, firstParam int) (string, error) {
	if len(e.PrimaryKeys) == 0 {
		return "", Validationf("table %s has no primary key", e.QualifiedIdentifier())
	}
	if valueCount != len(e.PrimaryKeys) {
		return "", Validationf("primary key of %s expects %d values, got %d", e.QualifiedIdentifier(), len(e.PrimaryKeys), valueCount)
	}
	parts := make([]string, len(e.PrimaryKeys))
	for i, pk := range e.PrimaryKeys {
		parts[i] = fmt.Sprintf("%s = $%d", schema.QuoteIdentifier(pk), firstParam+i)
	}
	return strings.Join(parts, " AND "), nil
}

// buildProjection renders the select list. Unknown requested columns
// drop out silently unless none remain.
func buildProjection(e *schema.Entity, selected []string) (string, error) {
	if len(selected) == 0 {
		return "*", nil
	}
	var quoted []string
	for _, col := range selected {
		if e.HasColumn(col) {
			quoted = append(quoted, schema.QuoteIdentifier(col))
		}
	}
	if len(quoted) == 0 {
		return "", Validationf("none of the selected columns exist on %s; known columns: %s", e.QualifiedIdentifier(), strings.Join(e.ColumnNames(), ", "))
	}
	return strings.Join(quoted, ", "), nil
}

// resolveSort picks the ORDER BY column and direction. Unknown or
// omitted sort columns fall back to the first primary-key column, then
// to the first declared column.
func resolveSort(e *schema.Entity, sortBy, sortOrder string) (string, string) {
	col := sortBy
	if col == "" || !e.HasColumn(col) {
		if len(e.PrimaryKeys) > 0 {
			col = e.PrimaryKeys[0]
		} else {
			col = e.Columns[0].Name
		}
	}
	dir := "ASC"
	if strings.EqualFold(sortOrder, "desc") {
		dir = "DESC"
	}
	return col, dir
}

// clampPage normalizes pagination inputs into their allowed ranges.
func clampPage(page, pageSize, max int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > max {
		pageSize = max
	}
	return page, pageSize
}

// payloadColumns intersects payload keys with entity columns, in entity
// declared order so generated text is deterministic.
func payloadColumns(e *schema.Entity, payload map[string]interface{}) []string {
	var cols []string
	for _, c := range e.Columns {
		if _, ok := payload[c.Name]; ok {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
