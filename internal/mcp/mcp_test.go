package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgcrud/pgcrud/internal/gateway"
	"github.com/pgcrud/pgcrud/internal/mcp/protocol"
	"github.com/pgcrud/pgcrud/internal/schema"
	"github.com/pgcrud/pgcrud/internal/token"
	"github.com/pgcrud/pgcrud/pkg/config"
	"github.com/pgcrud/pgcrud/pkg/logger"
)

type stubExecutor struct {
	mu      sync.Mutex
	queries []string
	rows    []map[string]interface{}
	total   int64
}

func (s *stubExecutor) QueryMaps(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	s.mu.Lock()
	s.queries = append(s.queries, sql)
	s.mu.Unlock()
	if strings.Contains(sql, "COUNT(*)") {
		return []map[string]interface{}{{"total": s.total}}, nil
	}
	return s.rows, nil
}

func testEngine(authEnabled bool) (*gateway.Engine, *stubExecutor) {
	cfg := &config.Config{
		DatabaseURL:     "postgres://localhost/test",
		Host:            "127.0.0.1",
		Port:            3000,
		DefaultPageSize: 20,
		MaxPageSize:     100,
		MaxBulkRows:     1000,
		MaxBodyBytes:    1 << 20,
		PoolMaxConns:    10,
		AuthEnabled:     authEnabled,
		APIKeySecret:    "secret",
	}
	model := schema.NewModel([]string{"public", "reporting"}, []*schema.Entity{
		{
			Namespace: "public",
			Name:      "users",
			Columns: []schema.Column{
				{Name: "id", TypeTag: "int4", OrdinalPosition: 1},
				{Name: "name", TypeTag: "text", Nullable: true, OrdinalPosition: 2},
			},
			PrimaryKeys: []string{"id"},
		},
		{
			Namespace: "reporting",
			Name:      "metrics",
			Columns: []schema.Column{
				{Name: "day", TypeTag: "date", OrdinalPosition: 1},
			},
			PrimaryKeys: []string{"day"},
		},
	})
	engine := gateway.NewEngine(cfg, model, nil, nil, logger.NewNop())
	stub := &stubExecutor{}
	engine.SetExecutors(stub, nil)
	return engine, stub
}

func sessionContext(claims *token.Claims) (context.Context, *SessionTable) {
	table := NewSessionTable()
	session := table.Create(&gateway.RequestAuth{Authenticated: true, Claims: claims})
	return WithSession(context.Background(), session), table
}

func TestToolList(t *testing.T) {
	engine, _ := testEngine(false)
	h := NewToolHandler(engine, logger.NewNop())
	ctx, _ := sessionContext(nil)

	result, err := h.List(ctx, &protocol.ListToolsRequest{})
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
		require.NotNil(t, tool.InputSchema, "tool %s lacks an input schema", tool.Name)
	}
	assert.Equal(t, []string{
		"list_tables", "describe_table", "list_records", "get_record",
		"create_record", "update_record", "delete_record",
	}, names)

	t.Run("no session is unauthorized", func(t *testing.T) {
		_, err := h.List(context.Background(), &protocol.ListToolsRequest{})
		var rpcErr *protocol.RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, protocol.UnauthorizedError, rpcErr.Code)
	})
}

func TestToolCallListRecords(t *testing.T) {
	engine, stub := testEngine(false)
	stub.rows = []map[string]interface{}{{"id": int64(1), "name": "Alice"}}
	stub.total = 1
	h := NewToolHandler(engine, logger.NewNop())
	ctx, _ := sessionContext(nil)

	result, err := h.Call(ctx, &protocol.CallToolRequest{
		Name: "list_records",
		Arguments: map[string]interface{}{
			"table":   "users",
			"filters": map[string]interface{}{"name": "eq:Alice"},
			"page":    float64(1),
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Alice")
	assert.Contains(t, stub.queries[0], `"name" = $1`)
}

func TestToolPermissionDenied(t *testing.T) {
	engine, _ := testEngine(false)
	h := NewToolHandler(engine, logger.NewNop())
	claims := token.NewClaims(map[string]token.Access{"public": token.AccessReadWrite})
	ctx, _ := sessionContext(claims)

	t.Run("tool call on denied namespace", func(t *testing.T) {
		_, err := h.Call(ctx, &protocol.CallToolRequest{
			Name:      "list_records",
			Arguments: map[string]interface{}{"table": "reporting__metrics"},
		})
		var rpcErr *protocol.RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, protocol.ForbiddenError, rpcErr.Code)
	})

	t.Run("describe_table on denied namespace", func(t *testing.T) {
		_, err := h.Call(ctx, &protocol.CallToolRequest{
			Name:      "describe_table",
			Arguments: map[string]interface{}{"table": "reporting__metrics"},
		})
		var rpcErr *protocol.RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, protocol.ForbiddenError, rpcErr.Code)
	})

	t.Run("list_tables hides denied namespaces", func(t *testing.T) {
		result, err := h.Call(ctx, &protocol.CallToolRequest{Name: "list_tables"})
		require.NoError(t, err)
		assert.NotContains(t, result.Content[0].Text, "reporting")
		assert.Contains(t, result.Content[0].Text, "users")
	})
}

func TestResourceHandler(t *testing.T) {
	engine, _ := testEngine(false)
	h := NewResourceHandler(engine, logger.NewNop())
	ctx, _ := sessionContext(nil)

	t.Run("list includes model and per-table resources", func(t *testing.T) {
		result, err := h.List(ctx, &protocol.ListResourcesRequest{})
		require.NoError(t, err)
		require.Len(t, result.Resources, 3)
		assert.Equal(t, "pgcrud://model", result.Resources[0].URI)
	})

	t.Run("read model dump", func(t *testing.T) {
		result, err := h.Read(ctx, &protocol.ReadResourceRequest{URI: "pgcrud://model"})
		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Contains(t, result.Contents[0].Text, "database_hash")
		assert.Contains(t, result.Contents[0].Text, "capabilities")
	})

	t.Run("read per-table resource", func(t *testing.T) {
		result, err := h.Read(ctx, &protocol.ReadResourceRequest{URI: "pgcrud://tables/users"})
		require.NoError(t, err)
		assert.Contains(t, result.Contents[0].Text, `"primary_keys"`)
	})

	t.Run("denied table resource is forbidden, not missing", func(t *testing.T) {
		claims := token.NewClaims(map[string]token.Access{"public": token.AccessRead})
		deniedCtx, _ := sessionContext(claims)
		_, err := h.Read(deniedCtx, &protocol.ReadResourceRequest{URI: "pgcrud://tables/reporting__metrics"})
		var rpcErr *protocol.RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, protocol.ForbiddenError, rpcErr.Code)
	})

	t.Run("unknown resource", func(t *testing.T) {
		_, err := h.Read(ctx, &protocol.ReadResourceRequest{URI: "pgcrud://nope"})
		var rpcErr *protocol.RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, protocol.ResourceNotFoundError, rpcErr.Code)
	})
}

func TestPromptHandler(t *testing.T) {
	engine, _ := testEngine(false)
	h := NewPromptHandler(engine, logger.NewNop())
	ctx, _ := sessionContext(nil)

	t.Run("list", func(t *testing.T) {
		result, err := h.List(ctx, &protocol.ListPromptsRequest{})
		require.NoError(t, err)
		require.Len(t, result.Prompts, 2)
	})

	t.Run("database overview", func(t *testing.T) {
		result, err := h.Get(ctx, &protocol.GetPromptRequest{Name: "database_overview"})
		require.NoError(t, err)
		require.Len(t, result.Messages, 1)
		assert.Contains(t, result.Messages[0].Content.Text, "public.users")
	})

	t.Run("table guide requires the table argument", func(t *testing.T) {
		_, err := h.Get(ctx, &protocol.GetPromptRequest{Name: "table_crud_guide"})
		var rpcErr *protocol.RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, protocol.InvalidParams, rpcErr.Code)
	})

	t.Run("table guide", func(t *testing.T) {
		result, err := h.Get(ctx, &protocol.GetPromptRequest{
			Name:      "table_crud_guide",
			Arguments: map[string]interface{}{"table": "users"},
		})
		require.NoError(t, err)
		assert.Contains(t, result.Messages[0].Content.Text, "get_record")
	})
}

func TestTransportSessionLifecycle(t *testing.T) {
	engine, _ := testEngine(false)
	server := NewServer(engine, logger.NewNop())

	rpc := func(t *testing.T, sessionID, method string, params interface{}) *httptest.ResponseRecorder {
		t.Helper()
		body, err := json.Marshal(protocol.JSONRPCRequest{
			JSONRPC: "2.0",
			Method:  method,
			Params:  params,
			ID:      1,
		})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(string(body)))
		if sessionID != "" {
			req.Header.Set("Mcp-Session-Id", sessionID)
		}
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		return w
	}

	// initialize assigns a session id.
	w := rpc(t, "", "initialize", protocol.InitializeRequest{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.ImplementationInfo{Name: "test", Version: "0"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := w.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)
	assert.Equal(t, 1, server.Sessions().Len())

	// tools/list works on the session.
	w = rpc(t, sessionID, "tools/list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp protocol.JSONRPCResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)

	// calls without a session are rejected.
	w = rpc(t, "", "tools/list", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidRequest, resp.Error.Code)

	// DELETE closes the session.
	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, server.Sessions().Len())

	// DELETE with an unknown session is a bad request.
	req = httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", "nope")
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransportBindsCredentialToSession(t *testing.T) {
	engine, _ := testEngine(true)
	server := NewServer(engine, logger.NewNop())

	tok, err := engine.Tokens().Generate("agent", token.NewClaims(map[string]token.Access{"public": token.AccessRead}))
	require.NoError(t, err)

	initBody, _ := json.Marshal(protocol.JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  "initialize",
		Params: protocol.InitializeRequest{
			ProtocolVersion: protocol.ProtocolVersion,
			ClientInfo:      protocol.ImplementationInfo{Name: "test", Version: "0"},
		},
		ID: 1,
	})

	t.Run("invalid credential rejected at initialize", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(string(initBody)))
		req.Header.Set("Authorization", "Bearer pgcrud_bogus.mac")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		var resp protocol.JSONRPCResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.UnauthorizedError, resp.Error.Code)
	})

	t.Run("claims govern later calls without re-presenting the token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(string(initBody)))
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		sessionID := w.Header().Get("Mcp-Session-Id")
		require.NotEmpty(t, sessionID)

		callBody, _ := json.Marshal(protocol.JSONRPCRequest{
			JSONRPC: "2.0",
			Method:  "tools/call",
			Params: protocol.CallToolRequest{
				Name:      "describe_table",
				Arguments: map[string]interface{}{"table": "reporting__metrics"},
			},
			ID: 2,
		})
		req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(string(callBody)))
		req.Header.Set("Mcp-Session-Id", sessionID)
		w = httptest.NewRecorder()
		server.ServeHTTP(w, req)

		var resp protocol.JSONRPCResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.ForbiddenError, resp.Error.Code)
	})
}
