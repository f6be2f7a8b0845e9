package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgcrud/pgcrud/internal/dberr"
	"github.com/pgcrud/pgcrud/internal/gateway"
	"github.com/pgcrud/pgcrud/internal/mcp/protocol"
	"github.com/pgcrud/pgcrud/internal/query"
	"github.com/pgcrud/pgcrud/internal/schema"
	"github.com/pgcrud/pgcrud/internal/token"
	"github.com/pgcrud/pgcrud/pkg/logger"
)

// ToolHandler exposes the gateway operations as named MCP tools.
type ToolHandler struct {
	engine *gateway.Engine
	logger *logger.Logger
}

// NewToolHandler creates a new tool handler.
func NewToolHandler(engine *gateway.Engine, log *logger.Logger) *ToolHandler {
	return &ToolHandler{engine: engine, logger: log}
}

// schemaObject is shorthand for inline JSON Schema documents.
type schemaObject = map[string]interface{}

func tableProperty() schemaObject {
	return schemaObject{
		"type":        "string",
		"description": "Table route segment, e.g. \"users\" or \"reporting__metrics\".",
	}
}

func idProperty() schemaObject {
	return schemaObject{
		"type":        "string",
		"description": "Primary key value; comma-joined in key order for composite keys.",
	}
}

// toolDefinitions returns the advertised tool set. Input schemas are
// complete so agents can construct calls without prior schema reads.
func toolDefinitions() []protocol.Tool {
	return []protocol.Tool{
		{
			Name:        "list_tables",
			Description: "Enumerate the tables this session can access, with route, namespace, and primary key metadata.",
			InputSchema: schemaObject{
				"type":       "object",
				"properties": schemaObject{},
			},
		},
		{
			Name:        "describe_table",
			Description: "Describe one table: columns with portable types, primary keys, foreign keys, allowed operations, and searchable columns.",
			InputSchema: schemaObject{
				"type":       "object",
				"properties": schemaObject{"table": tableProperty()},
				"required":   []string{"table"},
			},
		},
		{
			Name:        "list_records",
			Description: "List rows of a table with filtering, search, sorting, column selection, and pagination.",
			InputSchema: schemaObject{
				"type": "object",
				"properties": schemaObject{
					"table": tableProperty(),
					"filters": schemaObject{
						"type":                 "object",
						"description":          "Column to \"operator:value\" mapping. Operators: eq, neq, gt, gte, lt, lte, like, ilike, is (null/notnull), in (comma list). A bare value means equality.",
						"additionalProperties": schemaObject{"type": "string"},
					},
					"search":         schemaObject{"type": "string", "description": "Case-insensitive substring search across textual columns."},
					"search_columns": schemaObject{"type": "array", "items": schemaObject{"type": "string"}},
					"sort_by":        schemaObject{"type": "string"},
					"sort_order":     schemaObject{"type": "string", "enum": []string{"asc", "desc"}},
					"page":           schemaObject{"type": "integer", "minimum": 1},
					"page_size":      schemaObject{"type": "integer", "minimum": 1},
					"select":         schemaObject{"type": "array", "items": schemaObject{"type": "string"}, "description": "Columns to project; omit for all."},
				},
				"required": []string{"table"},
			},
		},
		{
			Name:        "get_record",
			Description: "Fetch one row by primary key.",
			InputSchema: schemaObject{
				"type":       "object",
				"properties": schemaObject{"table": tableProperty(), "id": idProperty()},
				"required":   []string{"table", "id"},
			},
		},
		{
			Name:        "create_record",
			Description: "Insert one row (object) or many rows (array of objects).",
			InputSchema: schemaObject{
				"type": "object",
				"properties": schemaObject{
					"table": tableProperty(),
					"data": schemaObject{
						"description": "Row object, or array of row objects for bulk insert.",
						"oneOf": []schemaObject{
							{"type": "object"},
							{"type": "array", "items": schemaObject{"type": "object"}},
						},
					},
				},
				"required": []string{"table", "data"},
			},
		},
		{
			Name:        "update_record",
			Description: "Partially update one row by primary key; only the supplied columns change.",
			InputSchema: schemaObject{
				"type": "object",
				"properties": schemaObject{
					"table": tableProperty(),
					"id":    idProperty(),
					"data":  schemaObject{"type": "object", "description": "Columns to set."},
				},
				"required": []string{"table", "id", "data"},
			},
		},
		{
			Name:        "delete_record",
			Description: "Delete one row by primary key. Tables with a deleted_at column are soft-deleted.",
			InputSchema: schemaObject{
				"type":       "object",
				"properties": schemaObject{"table": tableProperty(), "id": idProperty()},
				"required":   []string{"table", "id"},
			},
		},
	}
}

// List returns the advertised tools.
func (h *ToolHandler) List(ctx context.Context, req *protocol.ListToolsRequest) (*protocol.ListToolsResult, error) {
	if _, ok := SessionFrom(ctx); !ok {
		return nil, &protocol.RPCError{Code: protocol.UnauthorizedError, Message: "No session in context"}
	}
	return &protocol.ListToolsResult{Tools: toolDefinitions()}, nil
}

// Call executes a tool. Denied calls surface as protocol-level errors,
// never as successful results.
func (h *ToolHandler) Call(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	session, ok := SessionFrom(ctx)
	if !ok {
		return nil, &protocol.RPCError{Code: protocol.UnauthorizedError, Message: "No session in context"}
	}
	claims := session.Claims()

	switch req.Name {
	case "list_tables":
		return h.listTables(claims)
	case "describe_table":
		return h.describeTable(claims, req.Arguments)
	case "list_records":
		return h.listRecords(ctx, claims, req.Arguments)
	case "get_record":
		return h.getRecord(ctx, claims, req.Arguments)
	case "create_record":
		return h.createRecord(ctx, claims, req.Arguments)
	case "update_record":
		return h.updateRecord(ctx, claims, req.Arguments)
	case "delete_record":
		return h.deleteRecord(ctx, claims, req.Arguments)
	default:
		return nil, &protocol.RPCError{Code: protocol.MethodNotFound, Message: fmt.Sprintf("Unknown tool: %s", req.Name)}
	}
}

func (h *ToolHandler) listTables(claims *token.Claims) (*protocol.CallToolResult, error) {
	type tableSummary struct {
		Name        string   `json:"name"`
		Namespace   string   `json:"namespace"`
		Path        string   `json:"path"`
		PrimaryKeys []string `json:"primary_keys"`
		Columns     int      `json:"columns"`
	}

	entities := h.engine.VisibleEntities(claims)
	summaries := make([]tableSummary, 0, len(entities))
	for _, e := range entities {
		pks := e.PrimaryKeys
		if pks == nil {
			pks = []string{}
		}
		summaries = append(summaries, tableSummary{
			Name:        e.Name,
			Namespace:   e.Namespace,
			Path:        "/api/" + e.RouteSegment(),
			PrimaryKeys: pks,
			Columns:     len(e.Columns),
		})
	}
	return jsonResult(map[string]interface{}{"tables": summaries, "count": len(summaries)})
}

func (h *ToolHandler) describeTable(claims *token.Claims, args map[string]interface{}) (*protocol.CallToolResult, error) {
	entity, rpcErr := h.resolveTable(args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if !claims.Permits(entity.Namespace, token.AccessRead) && !claims.Permits(entity.Namespace, token.AccessWrite) {
		return nil, &protocol.RPCError{Code: protocol.ForbiddenError, Message: "Permission denied for namespace " + entity.Namespace}
	}
	return jsonResult(gateway.DescribeEntity(entity))
}

func (h *ToolHandler) listRecords(ctx context.Context, claims *token.Claims, args map[string]interface{}) (*protocol.CallToolResult, error) {
	entity, rpcErr := h.resolveTable(args)
	if rpcErr != nil {
		return nil, rpcErr
	}

	params := query.ListParams{
		Page:      intArg(args, "page", 1),
		PageSize:  intArg(args, "page_size", h.engine.Config().DefaultPageSize),
		SortBy:    stringArg(args, "sort_by"),
		SortOrder: stringArg(args, "sort_order"),
		Search:    stringArg(args, "search"),
		Filters:   map[string]string{},
	}
	if raw, ok := args["filters"].(map[string]interface{}); ok {
		for col, v := range raw {
			params.Filters[col] = fmt.Sprintf("%v", v)
		}
	}
	params.Select = stringSliceArg(args, "select")
	params.SearchColumns = stringSliceArg(args, "search_columns")

	result, derr := h.engine.ListRecords(ctx, claims, entity, params)
	if derr != nil {
		return nil, rpcFromDomain(derr)
	}
	return jsonResult(map[string]interface{}{"data": result.Rows, "pagination": result.Pagination})
}

func (h *ToolHandler) getRecord(ctx context.Context, claims *token.Claims, args map[string]interface{}) (*protocol.CallToolResult, error) {
	entity, keyValues, rpcErr := h.resolveTableAndKey(args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	row, derr := h.engine.GetRecord(ctx, claims, entity, keyValues)
	if derr != nil {
		return nil, rpcFromDomain(derr)
	}
	return jsonResult(row)
}

func (h *ToolHandler) createRecord(ctx context.Context, claims *token.Claims, args map[string]interface{}) (*protocol.CallToolResult, error) {
	entity, rpcErr := h.resolveTable(args)
	if rpcErr != nil {
		return nil, rpcErr
	}

	switch data := args["data"].(type) {
	case map[string]interface{}:
		row, derr := h.engine.CreateRecord(ctx, claims, entity, data)
		if derr != nil {
			return nil, rpcFromDomain(derr)
		}
		return jsonResult(row)
	case []interface{}:
		rows := make([]map[string]interface{}, 0, len(data))
		for i, item := range data {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, &protocol.RPCError{Code: protocol.ValidationError, Message: fmt.Sprintf("data[%d] is not an object", i)}
			}
			rows = append(rows, obj)
		}
		created, derr := h.engine.CreateRecords(ctx, claims, entity, rows)
		if derr != nil {
			return nil, rpcFromDomain(derr)
		}
		return jsonResult(map[string]interface{}{"data": created, "count": len(created)})
	default:
		return nil, &protocol.RPCError{Code: protocol.ValidationError, Message: "data must be an object or an array of objects"}
	}
}

func (h *ToolHandler) updateRecord(ctx context.Context, claims *token.Claims, args map[string]interface{}) (*protocol.CallToolResult, error) {
	entity, keyValues, rpcErr := h.resolveTableAndKey(args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	data, ok := args["data"].(map[string]interface{})
	if !ok {
		return nil, &protocol.RPCError{Code: protocol.ValidationError, Message: "data must be an object"}
	}
	row, derr := h.engine.UpdateRecord(ctx, claims, entity, data, keyValues)
	if derr != nil {
		return nil, rpcFromDomain(derr)
	}
	return jsonResult(row)
}

func (h *ToolHandler) deleteRecord(ctx context.Context, claims *token.Claims, args map[string]interface{}) (*protocol.CallToolResult, error) {
	entity, keyValues, rpcErr := h.resolveTableAndKey(args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	result, derr := h.engine.DeleteRecord(ctx, claims, entity, keyValues)
	if derr != nil {
		return nil, rpcFromDomain(derr)
	}
	return jsonResult(map[string]interface{}{
		"deleted":     true,
		"soft_delete": result.SoftDelete,
		"record":      result.Record,
	})
}

func (h *ToolHandler) resolveTable(args map[string]interface{}) (*schema.Entity, *protocol.RPCError) {
	name := stringArg(args, "table")
	if name == "" {
		return nil, &protocol.RPCError{Code: protocol.ValidationError, Message: "table is required"}
	}
	e, derr := h.engine.ResolveEntity(name)
	if derr != nil {
		return nil, rpcFromDomain(derr)
	}
	return e, nil
}

func (h *ToolHandler) resolveTableAndKey(args map[string]interface{}) (*schema.Entity, []interface{}, *protocol.RPCError) {
	entity, rpcErr := h.resolveTable(args)
	if rpcErr != nil {
		return nil, nil, rpcErr
	}
	id := stringArg(args, "id")
	if id == "" {
		return nil, nil, &protocol.RPCError{Code: protocol.ValidationError, Message: "id is required"}
	}
	keyValues, derr := gateway.ParseKeySegment(entity, id)
	if derr != nil {
		return nil, nil, rpcFromDomain(derr)
	}
	return entity, keyValues, nil
}

// jsonResult wraps a value as a single JSON text content block.
func jsonResult(v interface{}) (*protocol.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &protocol.RPCError{Code: protocol.InternalError, Message: "failed to encode result"}
	}
	return &protocol.CallToolResult{
		Content: []protocol.ToolContent{{Type: "text", Text: string(raw), MimeType: "application/json"}},
	}, nil
}

// rpcFromDomain maps the domain error taxonomy onto protocol codes.
func rpcFromDomain(derr *dberr.Error) *protocol.RPCError {
	code := protocol.InternalError
	switch derr.Kind {
	case dberr.KindUnauthenticated:
		code = protocol.UnauthorizedError
	case dberr.KindPermissionDenied:
		code = protocol.ForbiddenError
	case dberr.KindNotFound:
		code = protocol.ResourceNotFoundError
	case dberr.KindValidationFailed, dberr.KindForeignKeyViolation, dberr.KindNullViolation, dberr.KindInvalidValue:
		code = protocol.ValidationError
	case dberr.KindUniqueViolation:
		code = protocol.ToolExecutionError
	}
	return &protocol.RPCError{Code: code, Message: derr.Message}
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
