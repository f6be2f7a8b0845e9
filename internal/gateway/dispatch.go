package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pgcrud/pgcrud/internal/dberr"
	"github.com/pgcrud/pgcrud/internal/query"
	"github.com/pgcrud/pgcrud/internal/schema"
	"github.com/pgcrud/pgcrud/internal/token"
)

// The dispatch core: one method per operation, shared by the REST
// handlers and the MCP tools. Every method runs the same pipeline —
// permission check, build, execute on the right pool, classify — and
// reports failures as *dberr.Error only.

// ListResult is the shaped output of a list operation.
type ListResult struct {
	Rows       []map[string]interface{}
	Pagination Pagination
}

// DeleteResult reports a delete together with the path taken.
type DeleteResult struct {
	SoftDelete bool
	Record     map[string]interface{}
}

// ResolveEntity maps a route segment to its entity.
func (e *Engine) ResolveEntity(segment string) (*schema.Entity, *dberr.Error) {
	entity, ok := e.model.EntityByRoute(segment)
	if !ok {
		return nil, dberr.New(dberr.KindNotFound, fmt.Sprintf("unknown table %q", segment))
	}
	return entity, nil
}

// Permit checks the claims against the entity's namespace for the
// requested access mode. A nil claims value is full access; the
// distinction between "auth disabled" and "legacy token" is made by the
// middleware, which only attaches claims when a credential was
// presented.
func (e *Engine) Permit(claims *token.Claims, entity *schema.Entity, want token.Access) *dberr.Error {
	if claims.Permits(entity.Namespace, want) {
		return nil
	}
	return dberr.New(dberr.KindPermissionDenied, fmt.Sprintf("no %s access to namespace %q", accessWord(want), entity.Namespace))
}

func accessWord(a token.Access) string {
	switch a {
	case token.AccessRead:
		return "read"
	case token.AccessWrite:
		return "write"
	default:
		return string(a)
	}
}

// ListRecords runs the list pipeline: page query on the read pool, then
// the count query over the identical WHERE clause.
func (e *Engine) ListRecords(ctx context.Context, claims *token.Claims, entity *schema.Entity, params query.ListParams) (*ListResult, *dberr.Error) {
	if derr := e.Permit(claims, entity, token.AccessRead); derr != nil {
		return nil, derr
	}

	listSQL, err := e.builder.List(entity, params)
	if err != nil {
		return nil, asDomainError(err)
	}
	countSQL, err := e.builder.Count(entity, params)
	if err != nil {
		return nil, asDomainError(err)
	}

	rows, err := e.read.QueryMaps(ctx, listSQL.Text, listSQL.Values...)
	if err != nil {
		return nil, dberr.Classify(err)
	}
	countRows, err := e.read.QueryMaps(ctx, countSQL.Text, countSQL.Values...)
	if err != nil {
		return nil, dberr.Classify(err)
	}

	var total int64
	if len(countRows) > 0 {
		total = toInt64(countRows[0]["total"])
	}

	page, pageSize := clampForResponse(params.Page, params.PageSize, e.cfg.MaxPageSize)
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return &ListResult{
		Rows: rows,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages(total, pageSize),
		},
	}, nil
}

// GetRecord reads one row by primary key on the read pool.
func (e *Engine) GetRecord(ctx context.Context, claims *token.Claims, entity *schema.Entity, keyValues []interface{}) (map[string]interface{}, *dberr.Error) {
	if derr := e.Permit(claims, entity, token.AccessRead); derr != nil {
		return nil, derr
	}

	sqlText, err := e.builder.ReadByKey(entity, keyValues)
	if err != nil {
		return nil, asDomainError(err)
	}
	rows, err := e.read.QueryMaps(ctx, sqlText.Text, sqlText.Values...)
	if err != nil {
		return nil, dberr.Classify(err)
	}
	if len(rows) == 0 {
		return nil, dberr.New(dberr.KindNotFound, "no row matches the given key")
	}
	return rows[0], nil
}

// CreateRecord inserts one row on the primary pool.
func (e *Engine) CreateRecord(ctx context.Context, claims *token.Claims, entity *schema.Entity, payload map[string]interface{}) (map[string]interface{}, *dberr.Error) {
	if derr := e.Permit(claims, entity, token.AccessWrite); derr != nil {
		return nil, derr
	}

	sqlText, err := e.builder.Insert(entity, payload)
	if err != nil {
		return nil, asDomainError(err)
	}
	rows, err := e.primary.QueryMaps(ctx, sqlText.Text, sqlText.Values...)
	if err != nil {
		return nil, dberr.Classify(err)
	}
	if len(rows) == 0 {
		return nil, dberr.New(dberr.KindInternal, "insert returned no row")
	}
	return rows[0], nil
}

// CreateRecords bulk-inserts on the primary pool.
func (e *Engine) CreateRecords(ctx context.Context, claims *token.Claims, entity *schema.Entity, payloads []map[string]interface{}) ([]map[string]interface{}, *dberr.Error) {
	if derr := e.Permit(claims, entity, token.AccessWrite); derr != nil {
		return nil, derr
	}

	sqlText, err := e.builder.BulkInsert(entity, payloads)
	if err != nil {
		return nil, asDomainError(err)
	}
	rows, err := e.primary.QueryMaps(ctx, sqlText.Text, sqlText.Values...)
	if err != nil {
		return nil, dberr.Classify(err)
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return rows, nil
}

// UpdateRecord applies a partial or full update by key on the primary
// pool. Zero affected rows is NotFound.
func (e *Engine) UpdateRecord(ctx context.Context, claims *token.Claims, entity *schema.Entity, payload map[string]interface{}, keyValues []interface{}) (map[string]interface{}, *dberr.Error) {
	if derr := e.Permit(claims, entity, token.AccessWrite); derr != nil {
		return nil, derr
	}

	sqlText, err := e.builder.Update(entity, payload, keyValues)
	if err != nil {
		return nil, asDomainError(err)
	}
	rows, err := e.primary.QueryMaps(ctx, sqlText.Text, sqlText.Values...)
	if err != nil {
		return nil, dberr.Classify(err)
	}
	if len(rows) == 0 {
		return nil, dberr.New(dberr.KindNotFound, "no row matches the given key")
	}
	return rows[0], nil
}

// DeleteRecord deletes (or soft-deletes) one row by key on the primary
// pool.
func (e *Engine) DeleteRecord(ctx context.Context, claims *token.Claims, entity *schema.Entity, keyValues []interface{}) (*DeleteResult, *dberr.Error) {
	if derr := e.Permit(claims, entity, token.AccessWrite); derr != nil {
		return nil, derr
	}

	sqlText, soft, err := e.builder.Delete(entity, keyValues)
	if err != nil {
		return nil, asDomainError(err)
	}
	rows, err := e.primary.QueryMaps(ctx, sqlText.Text, sqlText.Values...)
	if err != nil {
		return nil, dberr.Classify(err)
	}
	if len(rows) == 0 {
		return nil, dberr.New(dberr.KindNotFound, "no row matches the given key")
	}
	return &DeleteResult{SoftDelete: soft, Record: rows[0]}, nil
}

// VisibleEntities filters the model down to the entities the claims can
// see at all (any access on the namespace).
func (e *Engine) VisibleEntities(claims *token.Claims) []*schema.Entity {
	var out []*schema.Entity
	for _, entity := range e.model.Entities() {
		if claims.Permits(entity.Namespace, token.AccessRead) || claims.Permits(entity.Namespace, token.AccessWrite) {
			out = append(out, entity)
		}
	}
	return out
}

// asDomainError converts builder validation failures to the domain
// error taxonomy.
func asDomainError(err error) *dberr.Error {
	var verr *query.ValidationError
	if errors.As(err, &verr) {
		return dberr.New(dberr.KindValidationFailed, verr.Error())
	}
	return dberr.New(dberr.KindInternal, err.Error())
}

func clampForResponse(page, pageSize, max int) (int, int) {
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

func totalPages(total int64, pageSize int) int64 {
	if pageSize <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(total) / float64(pageSize)))
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
