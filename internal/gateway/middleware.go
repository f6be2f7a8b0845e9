package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pgcrud/pgcrud/internal/dberr"
	"github.com/pgcrud/pgcrud/internal/token"
)

type contextKey string

const (
	requestIDContextKey contextKey = "request_id"
	authContextKey      contextKey = "auth"
)

// RequestAuth is the credential state attached to each request by the
// authentication middleware. Nil Claims with Authenticated set means
// full access (legacy token or auth disabled).
type RequestAuth struct {
	Authenticated bool
	Claims        *token.Claims
}

// Middleware bundles the gateway's HTTP middleware.
type Middleware struct {
	engine *Engine
}

// NewMiddleware creates the middleware set for an engine.
func NewMiddleware(engine *Engine) *Middleware {
	return &Middleware{engine: engine}
}

// RequestID assigns every request a v4 UUID, echoed in X-Request-Id and
// used by dispatch-boundary logging.
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom returns the request id assigned by RequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// CORS applies the configured origin policy and answers preflights.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	cfg := m.engine.cfg
	allowed := make(map[string]bool, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case cfg.CORSAllowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, Mcp-Session-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logging records each request with its id, method, path, and latency.
func (m *Middleware) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		m.engine.logger.Infof("request %s %s %s completed in %s",
			RequestIDFrom(r.Context()), r.Method, r.URL.Path, time.Since(start))
	})
}

// BodyLimit caps request body size at the configured maximum.
func (m *Middleware) BodyLimit(next http.Handler) http.Handler {
	limit := int64(m.engine.cfg.MaxBodyBytes)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// isPublicPath reports the paths that bypass the credential check
// regardless of configuration.
// The MCP transport is also skipped here: it verifies the credential at
// initialize and binds it to the session.
func isPublicPath(path string) bool {
	switch path {
	case "/api/_health", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/docs") || strings.HasPrefix(path, "/mcp")
}

// Authentication verifies the presented credential and attaches the
// resulting claims to the request. With auth disabled every request is
// treated as full access.
func (m *Middleware) Authentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		auth, derr := m.engine.AuthenticateRequest(r)
		if derr != nil {
			m.engine.CountError()
			writeDomainError(w, r, m.engine, derr)
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey, auth)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthenticateRequest resolves the credential headers into a
// RequestAuth. It is shared with the MCP transport, which binds the
// result to its session instead of the request context.
func (e *Engine) AuthenticateRequest(r *http.Request) (*RequestAuth, *dberr.Error) {
	if !e.cfg.AuthEnabled {
		return &RequestAuth{Authenticated: true}, nil
	}

	presented := extractCredential(r)
	if presented == "" {
		return nil, dberr.New(dberr.KindUnauthenticated, "missing credential: use Authorization: Bearer or X-API-Key")
	}

	claims, err := e.tokens.Verify(presented)
	if err != nil {
		return nil, dberr.New(dberr.KindUnauthenticated, "invalid credential")
	}
	return &RequestAuth{Authenticated: true, Claims: claims}, nil
}

// extractCredential reads the token from Authorization: Bearer or
// X-API-Key, first match wins.
func extractCredential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.Header.Get("X-API-Key")
}

// AuthFrom returns the request's credential state. Requests that never
// passed the authentication middleware (public paths) report an
// unauthenticated full-access state.
func AuthFrom(ctx context.Context) *RequestAuth {
	if auth, ok := ctx.Value(authContextKey).(*RequestAuth); ok {
		return auth
	}
	return &RequestAuth{}
}

// writeDomainError serializes a domain error with its fixed protocol
// status, logging it with the request id at this single boundary.
func writeDomainError(w http.ResponseWriter, r *http.Request, e *Engine, derr *dberr.Error) {
	e.logger.Errorf("request %s failed: %s (%s)", RequestIDFrom(r.Context()), derr.Message, derr.Kind)

	resp := ErrorResponse{
		Error:   string(derr.Kind),
		Message: derr.Message,
	}
	if e.cfg.ExposeDBErrors {
		resp.Detail = derr.Detail
		resp.Constraint = derr.Constraint
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(derr.HTTPStatus())
	json.NewEncoder(w).Encode(resp)
}

// writeJSON serializes a success payload.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
