// Package mcp exposes the gateway's operations to language-model agents
// as MCP tools, resources, and prompts over a streamable HTTP
// transport.
package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pgcrud/pgcrud/internal/gateway"
	"github.com/pgcrud/pgcrud/internal/mcp/protocol"
	"github.com/pgcrud/pgcrud/internal/version"
	"github.com/pgcrud/pgcrud/pkg/logger"
)

// sessionHeader carries the session id assigned at initialize.
const sessionHeader = "Mcp-Session-Id"

// Server is the /mcp transport: POST for calls, GET for the event
// stream, DELETE to close the session.
type Server struct {
	engine   *gateway.Engine
	logger   *logger.Logger
	router   *protocol.Router
	sessions *SessionTable
}

// NewServer builds the MCP surface over the gateway engine.
func NewServer(engine *gateway.Engine, log *logger.Logger) *Server {
	s := &Server{
		engine:   engine,
		logger:   log,
		sessions: NewSessionTable(),
	}

	s.router = protocol.NewRouter(protocol.ImplementationInfo{
		Name:    "pgcrud",
		Version: version.Version,
	})
	s.router.SetToolHandler(NewToolHandler(engine, log))
	s.router.SetResourceHandler(NewResourceHandler(engine, log))
	s.router.SetPromptHandler(NewPromptHandler(engine, log))

	return s
}

// Sessions exposes the session table for shutdown.
func (s *Server) Sessions() *SessionTable {
	return s.sessions
}

// Shutdown closes every live session.
func (s *Server) Shutdown() {
	s.sessions.CloseAll()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleStream(w, r)
	case http.MethodDelete:
		s.handleClose(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, nil, protocol.ParseError, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var req protocol.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, protocol.ParseError, "Invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, protocol.InvalidRequest, "Invalid JSON-RPC version")
		return
	}

	ctx := r.Context()

	if req.Method == "initialize" {
		// The credential presented here is bound to the session and
		// governs every later call on it.
		auth, derr := s.engine.AuthenticateRequest(r)
		if derr != nil {
			s.writeError(w, req.ID, protocol.UnauthorizedError, derr.Message)
			return
		}
		session := s.sessions.Create(auth)
		s.logger.Infof("MCP session %s opened", session.ID)

		result, err := s.router.HandleMethod(WithSession(ctx, session), req.Method, req.Params)
		if err != nil {
			s.sessions.Remove(session.ID)
			s.writeRouterError(w, req.ID, err)
			return
		}
		w.Header().Set(sessionHeader, session.ID)
		s.writeResult(w, req.ID, result)
		return
	}

	session, ok := s.sessions.Get(r.Header.Get(sessionHeader))
	if !ok {
		s.writeError(w, req.ID, protocol.InvalidRequest, "Unknown or missing session")
		return
	}

	result, err := s.router.HandleMethod(WithSession(ctx, session), req.Method, req.Params)
	if err != nil {
		s.writeRouterError(w, req.ID, err)
		return
	}

	// Notifications carry no id and expect no body.
	if req.ID == nil && result == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.writeResult(w, req.ID, result)
}

// handleStream serves the server-to-client event stream for a session.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Get(r.Header.Get(sessionHeader))
	if !ok {
		http.Error(w, "Unknown or missing session", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-session.Done():
			return
		case msg := <-session.events:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if !s.sessions.Remove(id) {
		http.Error(w, "Unknown or missing session", http.StatusBadRequest)
		return
	}
	s.logger.Infof("MCP session %s closed", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeRouterError(w http.ResponseWriter, id interface{}, err error) {
	if rpcErr, ok := err.(*protocol.RPCError); ok {
		s.writeError(w, id, rpcErr.Code, rpcErr.Message)
		return
	}
	s.writeError(w, id, protocol.InternalError, err.Error())
}

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := protocol.JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := protocol.JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &protocol.RPCError{Code: code, Message: message},
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
