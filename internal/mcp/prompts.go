package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgcrud/pgcrud/internal/gateway"
	"github.com/pgcrud/pgcrud/internal/mcp/protocol"
	"github.com/pgcrud/pgcrud/internal/schema"
	"github.com/pgcrud/pgcrud/internal/token"
	"github.com/pgcrud/pgcrud/pkg/logger"
)

// Prompt names.
const (
	promptDatabaseOverview = "database_overview"
	promptTableCRUDGuide   = "table_crud_guide"
)

// PromptHandler synthesizes guidance prompts from the schema model.
type PromptHandler struct {
	engine *gateway.Engine
	logger *logger.Logger
}

// NewPromptHandler creates a new prompt handler.
func NewPromptHandler(engine *gateway.Engine, log *logger.Logger) *PromptHandler {
	return &PromptHandler{engine: engine, logger: log}
}

// List returns the two synthesized prompts.
func (h *PromptHandler) List(ctx context.Context, req *protocol.ListPromptsRequest) (*protocol.ListPromptsResult, error) {
	if _, ok := SessionFrom(ctx); !ok {
		return nil, &protocol.RPCError{Code: protocol.UnauthorizedError, Message: "No session in context"}
	}
	return &protocol.ListPromptsResult{
		Prompts: []protocol.Prompt{
			{
				Name:        promptDatabaseOverview,
				Description: "Overview of every accessible table and how to query them.",
			},
			{
				Name:        promptTableCRUDGuide,
				Description: "CRUD walkthrough for one table, with concrete request examples.",
				Arguments: []protocol.PromptArgument{
					{Name: "table", Description: "Table route segment.", Required: true},
				},
			},
		},
	}, nil
}

// Get renders a prompt from the session's view of the model.
func (h *PromptHandler) Get(ctx context.Context, req *protocol.GetPromptRequest) (*protocol.GetPromptResult, error) {
	session, ok := SessionFrom(ctx)
	if !ok {
		return nil, &protocol.RPCError{Code: protocol.UnauthorizedError, Message: "No session in context"}
	}
	claims := session.Claims()

	switch req.Name {
	case promptDatabaseOverview:
		return h.databaseOverview(claims), nil
	case promptTableCRUDGuide:
		tableArg, _ := req.Arguments["table"].(string)
		if tableArg == "" {
			return nil, &protocol.RPCError{Code: protocol.InvalidParams, Message: "table argument is required"}
		}
		entity, derr := h.engine.ResolveEntity(tableArg)
		if derr != nil {
			return nil, &protocol.RPCError{Code: protocol.ResourceNotFoundError, Message: derr.Message}
		}
		if !claims.Permits(entity.Namespace, token.AccessRead) && !claims.Permits(entity.Namespace, token.AccessWrite) {
			return nil, &protocol.RPCError{Code: protocol.ForbiddenError, Message: "Permission denied for namespace " + entity.Namespace}
		}
		return h.tableGuide(entity), nil
	default:
		return nil, &protocol.RPCError{Code: protocol.ResourceNotFoundError, Message: "Unknown prompt: " + req.Name}
	}
}

func (h *PromptHandler) databaseOverview(claims *token.Claims) *protocol.GetPromptResult {
	var b strings.Builder
	b.WriteString("This PostgreSQL database is exposed through a uniform CRUD gateway.\n")
	b.WriteString("Accessible tables:\n\n")

	for _, e := range h.engine.VisibleEntities(claims) {
		pk := "none"
		if len(e.PrimaryKeys) > 0 {
			pk = strings.Join(e.PrimaryKeys, ", ")
		}
		fmt.Fprintf(&b, "- %s.%s (route %s, primary key: %s, %d columns)\n",
			e.Namespace, e.Name, e.RouteSegment(), pk, len(e.Columns))
	}

	b.WriteString("\nUse the list_records tool to page through rows, get_record to fetch by key, ")
	b.WriteString("and describe_table for column details. Filters take the form \"operator:value\" ")
	b.WriteString("(eq, neq, gt, gte, lt, lte, like, ilike, is, in).")

	return &protocol.GetPromptResult{
		Description: "Database overview",
		Messages: []protocol.PromptMessage{
			{Role: "user", Content: protocol.PromptContent{Type: "text", Text: b.String()}},
		},
	}
}

func (h *PromptHandler) tableGuide(e *schema.Entity) *protocol.GetPromptResult {
	seg := e.RouteSegment()
	var b strings.Builder

	fmt.Fprintf(&b, "CRUD guide for %s.%s (route segment %q).\n\nColumns:\n", e.Namespace, e.Name, seg)
	for _, c := range e.Columns {
		pt := schema.MapTypeTag(c.TypeTag)
		flags := []string{}
		if e.IsPrimaryKey(c.Name) {
			flags = append(flags, "primary key")
		}
		if !c.Nullable {
			flags = append(flags, "not null")
		}
		if c.HasDefault {
			flags = append(flags, "has default")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " (" + strings.Join(flags, ", ") + ")"
		}
		fmt.Fprintf(&b, "- %s: %s%s\n", c.Name, pt.Kind, suffix)
	}

	fmt.Fprintf(&b, "\nExamples:\n")
	fmt.Fprintf(&b, "- list_records {\"table\": %q, \"page\": 1, \"page_size\": 20}\n", seg)
	if len(e.PrimaryKeys) > 0 {
		fmt.Fprintf(&b, "- get_record {\"table\": %q, \"id\": \"<%s>\"}\n", seg, strings.Join(e.PrimaryKeys, ","))
		fmt.Fprintf(&b, "- update_record {\"table\": %q, \"id\": \"...\", \"data\": {\"column\": \"value\"}}\n", seg)
		fmt.Fprintf(&b, "- delete_record {\"table\": %q, \"id\": \"...\"}\n", seg)
	}
	fmt.Fprintf(&b, "- create_record {\"table\": %q, \"data\": {...}}\n", seg)

	if e.HasColumn("deleted_at") {
		b.WriteString("\nThis table soft-deletes: deleted rows keep existing with deleted_at set. ")
		b.WriteString("Filter live rows with {\"filters\": {\"deleted_at\": \"is:null\"}}; the gateway does not hide soft-deleted rows automatically.")
	}

	return &protocol.GetPromptResult{
		Description: "CRUD guide for " + e.Namespace + "." + e.Name,
		Messages: []protocol.PromptMessage{
			{Role: "user", Content: protocol.PromptContent{Type: "text", Text: b.String()}},
		},
	}
}
