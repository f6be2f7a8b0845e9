package protocol

import (
	"context"
	"encoding/json"
	"fmt"
)

// ResourceHandler handles resource operations.
type ResourceHandler interface {
	List(ctx context.Context, req *ListResourcesRequest) (*ListResourcesResult, error)
	Read(ctx context.Context, req *ReadResourceRequest) (*ReadResourceResult, error)
}

// ToolHandler handles tool operations.
type ToolHandler interface {
	List(ctx context.Context, req *ListToolsRequest) (*ListToolsResult, error)
	Call(ctx context.Context, req *CallToolRequest) (*CallToolResult, error)
}

// PromptHandler handles prompt operations.
type PromptHandler interface {
	List(ctx context.Context, req *ListPromptsRequest) (*ListPromptsResult, error)
	Get(ctx context.Context, req *GetPromptRequest) (*GetPromptResult, error)
}

// Router dispatches MCP methods to the registered handlers. Session
// management and credential binding live in the transport; the router
// only routes.
type Router struct {
	capabilities ServerCapabilities
	serverInfo   ImplementationInfo

	resourceHandler ResourceHandler
	toolHandler     ToolHandler
	promptHandler   PromptHandler
}

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// NewRouter creates a method router advertising the given server info.
func NewRouter(serverInfo ImplementationInfo) *Router {
	return &Router{
		capabilities: ServerCapabilities{
			Resources: &ResourcesCapability{},
			Tools:     &ToolsCapability{},
			Prompts:   &PromptsCapability{},
		},
		serverInfo: serverInfo,
	}
}

// SetResourceHandler sets the resource handler.
func (rt *Router) SetResourceHandler(handler ResourceHandler) {
	rt.resourceHandler = handler
}

// SetToolHandler sets the tool handler.
func (rt *Router) SetToolHandler(handler ToolHandler) {
	rt.toolHandler = handler
}

// SetPromptHandler sets the prompt handler.
func (rt *Router) SetPromptHandler(handler PromptHandler) {
	rt.promptHandler = handler
}

// HandleMethod routes one call to its handler.
func (rt *Router) HandleMethod(ctx context.Context, method string, params interface{}) (interface{}, error) {
	switch method {
	case "initialize":
		var req InitializeRequest
		if err := unmarshalParams(params, &req); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid initialize params"}
		}
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    rt.capabilities,
			ServerInfo:      rt.serverInfo,
		}, nil
	case "notifications/initialized", "initialized":
		return nil, nil
	case "resources/list":
		if rt.resourceHandler == nil {
			return nil, &RPCError{Code: InternalError, Message: "Resource handler not configured"}
		}
		var req ListResourcesRequest
		if params != nil {
			if err := unmarshalParams(params, &req); err != nil {
				return nil, &RPCError{Code: InvalidParams, Message: "Invalid parameters"}
			}
		}
		return rt.resourceHandler.List(ctx, &req)
	case "resources/read":
		if rt.resourceHandler == nil {
			return nil, &RPCError{Code: InternalError, Message: "Resource handler not configured"}
		}
		var req ReadResourceRequest
		if err := unmarshalParams(params, &req); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid parameters"}
		}
		return rt.resourceHandler.Read(ctx, &req)
	case "tools/list":
		if rt.toolHandler == nil {
			return nil, &RPCError{Code: InternalError, Message: "Tool handler not configured"}
		}
		var req ListToolsRequest
		if params != nil {
			if err := unmarshalParams(params, &req); err != nil {
				return nil, &RPCError{Code: InvalidParams, Message: "Invalid parameters"}
			}
		}
		return rt.toolHandler.List(ctx, &req)
	case "tools/call":
		if rt.toolHandler == nil {
			return nil, &RPCError{Code: InternalError, Message: "Tool handler not configured"}
		}
		var req CallToolRequest
		if err := unmarshalParams(params, &req); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid parameters"}
		}
		return rt.toolHandler.Call(ctx, &req)
	case "prompts/list":
		if rt.promptHandler == nil {
			return nil, &RPCError{Code: InternalError, Message: "Prompt handler not configured"}
		}
		var req ListPromptsRequest
		if params != nil {
			if err := unmarshalParams(params, &req); err != nil {
				return nil, &RPCError{Code: InvalidParams, Message: "Invalid parameters"}
			}
		}
		return rt.promptHandler.List(ctx, &req)
	case "prompts/get":
		if rt.promptHandler == nil {
			return nil, &RPCError{Code: InternalError, Message: "Prompt handler not configured"}
		}
		var req GetPromptRequest
		if err := unmarshalParams(params, &req); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid parameters"}
		}
		return rt.promptHandler.Get(ctx, &req)
	default:
		return nil, &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", method)}
	}
}

// unmarshalParams converts the decoded params value into the target
// struct by re-marshalling.
func unmarshalParams(params interface{}, target interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
