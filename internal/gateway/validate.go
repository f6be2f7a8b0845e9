package gateway

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pgcrud/pgcrud/internal/dberr"
	"github.com/pgcrud/pgcrud/internal/query"
	"github.com/pgcrud/pgcrud/internal/schema"
)

// Request validation: shape checks that run before the query builder
// and never touch the database.

// filterParamPrefix marks query parameters carrying column filters.
const filterParamPrefix = "filter."

// ParseKeySegment splits the {id} path segment into one value per
// primary-key column, in primary-key order. Composite keys are comma
// joined; a wrong part count or an empty part is a validation failure
// naming the expected arity.
func ParseKeySegment(entity *schema.Entity, segment string) ([]interface{}, *dberr.Error) {
	if len(entity.PrimaryKeys) == 0 {
		return nil, dberr.New(dberr.KindValidationFailed, fmt.Sprintf("table %s has no primary key", entity.QualifiedIdentifier()))
	}

	parts := strings.Split(segment, ",")
	arity := len(entity.PrimaryKeys)
	if len(parts) != arity {
		if arity > 1 {
			return nil, dberr.New(dberr.KindValidationFailed, fmt.Sprintf("Composite primary key expects %d values, got %d", arity, len(parts)))
		}
		return nil, dberr.New(dberr.KindValidationFailed, fmt.Sprintf("primary key expects %d value, got %d", arity, len(parts)))
	}

	values := make([]interface{}, len(parts))
	for i, p := range parts {
		if p == "" {
			return nil, dberr.New(dberr.KindValidationFailed, fmt.Sprintf("primary key value for %q is empty", entity.PrimaryKeys[i]))
		}
		values[i] = p
	}
	return values, nil
}

// ParseListParams extracts pagination, sorting, projection, search, and
// filter.* parameters from a query string. Unknown parameters that are
// not filters are ignored.
func (e *Engine) ParseListParams(values url.Values) query.ListParams {
	params := query.ListParams{
		Page:      parseIntOr(values.Get("page"), 1),
		PageSize:  parseIntOr(values.Get("pageSize"), e.cfg.DefaultPageSize),
		SortBy:    values.Get("sortBy"),
		SortOrder: values.Get("sortOrder"),
		Search:    values.Get("search"),
		Filters:   map[string]string{},
	}
	if raw := values.Get("select"); raw != "" {
		params.Select = splitList(raw)
	}
	if raw := values.Get("searchColumns"); raw != "" {
		params.SearchColumns = splitList(raw)
	}
	for key, vals := range values {
		if !strings.HasPrefix(key, filterParamPrefix) || len(vals) == 0 {
			continue
		}
		column := strings.TrimPrefix(key, filterParamPrefix)
		if column == "" {
			continue
		}
		params.Filters[column] = vals[0]
	}
	return params
}

// WritePayload is the decoded body of a write operation: exactly one of
// Single or Bulk is set.
type WritePayload struct {
	Single map[string]interface{}
	Bulk   []map[string]interface{}
}

// ParseWritePayload decodes and shape-checks a write body. Single-row
// operations require a JSON object; bulk create also accepts a
// non-empty array of objects bounded by the bulk cap.
func (e *Engine) ParseWritePayload(body []byte, allowBulk bool) (*WritePayload, *dberr.Error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, dberr.New(dberr.KindValidationFailed, "request body is required")
	}

	if strings.HasPrefix(trimmed, "[") {
		if !allowBulk {
			return nil, dberr.New(dberr.KindValidationFailed, "request body must be a single JSON object")
		}
		var rows []map[string]interface{}
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, dberr.New(dberr.KindValidationFailed, "request body must be an array of JSON objects")
		}
		if len(rows) == 0 {
			return nil, dberr.New(dberr.KindValidationFailed, "bulk create requires at least one row")
		}
		if len(rows) > e.cfg.MaxBulkRows {
			return nil, dberr.New(dberr.KindValidationFailed, fmt.Sprintf("bulk create of %d rows exceeds the maximum of %d", len(rows), e.cfg.MaxBulkRows))
		}
		for i, row := range rows {
			if row == nil {
				return nil, dberr.New(dberr.KindValidationFailed, fmt.Sprintf("row %d is not a JSON object", i))
			}
		}
		return &WritePayload{Bulk: rows}, nil
	}

	var single map[string]interface{}
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, dberr.New(dberr.KindValidationFailed, "request body must be a JSON object")
	}
	if single == nil {
		return nil, dberr.New(dberr.KindValidationFailed, "request body must be a JSON object")
	}
	return &WritePayload{Single: single}, nil
}

func parseIntOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
