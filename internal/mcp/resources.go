package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pgcrud/pgcrud/internal/gateway"
	"github.com/pgcrud/pgcrud/internal/mcp/protocol"
	"github.com/pgcrud/pgcrud/internal/token"
	"github.com/pgcrud/pgcrud/pkg/logger"
)

// Resource URIs: the canonical model dump plus one per-table resource
// keyed by route segment.
const (
	modelResourceURI  = "pgcrud://model"
	tableResourceBase = "pgcrud://tables/"
)

// ResourceHandler exposes the accessible schema model as MCP resources.
type ResourceHandler struct {
	engine *gateway.Engine
	logger *logger.Logger
}

// NewResourceHandler creates a new resource handler.
func NewResourceHandler(engine *gateway.Engine, log *logger.Logger) *ResourceHandler {
	return &ResourceHandler{engine: engine, logger: log}
}

// List returns the model resource and one resource per accessible
// table.
func (h *ResourceHandler) List(ctx context.Context, req *protocol.ListResourcesRequest) (*protocol.ListResourcesResult, error) {
	session, ok := SessionFrom(ctx)
	if !ok {
		return nil, &protocol.RPCError{Code: protocol.UnauthorizedError, Message: "No session in context"}
	}

	resources := []protocol.Resource{
		{
			URI:         modelResourceURI,
			Name:        "Database model",
			Description: "Canonical dump of every accessible table plus API capabilities.",
			MimeType:    "application/json",
		},
	}
	for _, e := range h.engine.VisibleEntities(session.Claims()) {
		resources = append(resources, protocol.Resource{
			URI:         tableResourceBase + e.RouteSegment(),
			Name:        e.Namespace + "." + e.Name,
			Description: "Structure and allowed operations of " + e.Namespace + "." + e.Name + ".",
			MimeType:    "application/json",
		})
	}

	return &protocol.ListResourcesResult{Resources: resources}, nil
}

// Read returns a resource's contents. Tables outside the session's
// claims are denied, matching the tool surface.
func (h *ResourceHandler) Read(ctx context.Context, req *protocol.ReadResourceRequest) (*protocol.ReadResourceResult, error) {
	session, ok := SessionFrom(ctx)
	if !ok {
		return nil, &protocol.RPCError{Code: protocol.UnauthorizedError, Message: "No session in context"}
	}
	claims := session.Claims()

	if req.URI == modelResourceURI {
		entities := h.engine.VisibleEntities(claims)
		descriptions := make([]gateway.EntityDescription, 0, len(entities))
		for _, e := range entities {
			descriptions = append(descriptions, gateway.DescribeEntity(e))
		}
		return h.jsonContents(req.URI, map[string]interface{}{
			"database_hash": h.engine.Model().Digest(),
			"namespaces":    h.engine.Model().Namespaces,
			"tables":        descriptions,
			"capabilities":  h.engine.DescribeCapabilities(),
		})
	}

	seg, ok := strings.CutPrefix(req.URI, tableResourceBase)
	if !ok {
		return nil, &protocol.RPCError{Code: protocol.ResourceNotFoundError, Message: "Unknown resource: " + req.URI}
	}
	entity, derr := h.engine.ResolveEntity(seg)
	if derr != nil {
		return nil, &protocol.RPCError{Code: protocol.ResourceNotFoundError, Message: "Unknown resource: " + req.URI}
	}
	if !claims.Permits(entity.Namespace, token.AccessRead) && !claims.Permits(entity.Namespace, token.AccessWrite) {
		return nil, &protocol.RPCError{Code: protocol.ForbiddenError, Message: "Permission denied for namespace " + entity.Namespace}
	}

	return h.jsonContents(req.URI, gateway.DescribeEntity(entity))
}

func (h *ResourceHandler) jsonContents(uri string, v interface{}) (*protocol.ReadResourceResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &protocol.RPCError{Code: protocol.InternalError, Message: "failed to encode resource"}
	}
	return &protocol.ReadResourceResult{
		Contents: []protocol.ResourceContents{
			{URI: uri, MimeType: "application/json", Text: string(raw)},
		},
	}, nil
}
