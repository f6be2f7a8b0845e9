package gateway

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pgcrud/pgcrud/internal/schema"
)

// Route is one entry of the derived route table.
type Route struct {
	Method    string
	Path      string
	Operation string
	Table     string
}

// RouteTable derives the full REST route set from the schema model. It
// is a pure function and the docs shell renders it. The router does not
// register from it: setupRoutes matches the generic /api/{table} and
// /api/{table}/{id} patterns and resolves the entity per request, so
// by-key routes also match tables without a primary key, which this
// table omits.
func RouteTable(model *schema.Model) []Route {
	routes := []Route{
		{Method: http.MethodGet, Path: "/api/_health", Operation: "health"},
		{Method: http.MethodGet, Path: "/api/_meta/tables", Operation: "list_tables"},
		{Method: http.MethodGet, Path: "/api/_meta/tables/{table}", Operation: "describe_table"},
		{Method: http.MethodGet, Path: "/api/_meta/capabilities", Operation: "capabilities"},
		{Method: http.MethodGet, Path: "/api/_schema", Operation: "schema"},
		{Method: http.MethodGet, Path: "/api/_schema/{table}", Operation: "schema_table"},
	}

	for _, e := range model.Entities() {
		seg := e.RouteSegment()
		base := "/api/" + seg
		routes = append(routes,
			Route{Method: http.MethodGet, Path: base, Operation: "list", Table: seg},
			Route{Method: http.MethodPost, Path: base, Operation: "create", Table: seg},
		)
		if len(e.PrimaryKeys) > 0 {
			byKey := base + "/{id}"
			routes = append(routes,
				Route{Method: http.MethodGet, Path: byKey, Operation: "read", Table: seg},
				Route{Method: http.MethodPut, Path: byKey, Operation: "replace", Table: seg},
				Route{Method: http.MethodPatch, Path: byKey, Operation: "patch", Table: seg},
				Route{Method: http.MethodDelete, Path: byKey, Operation: "delete", Table: seg},
			)
		}
	}

	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

// Server dispatches HTTP requests into the engine.
type Server struct {
	engine        *Engine
	router        *mux.Router
	handler       http.Handler
	recordHandler *RecordHandlers
	metaHandler   *MetaHandlers
	middleware    *Middleware
}

// NewServer builds the HTTP surface over an engine. mcpHandler, when
// non-nil, is mounted under /mcp and manages its own sessions and
// credentials.
func NewServer(engine *Engine, mcpHandler http.Handler) *Server {
	s := &Server{
		engine:        engine,
		router:        mux.NewRouter(),
		recordHandler: NewRecordHandlers(engine),
		metaHandler:   NewMetaHandlers(engine),
		middleware:    NewMiddleware(engine),
	}
	s.setupRoutes(mcpHandler)

	// The chain wraps the router rather than using router.Use so that
	// CORS preflights and unmatched paths still pass through it.
	s.handler = s.middleware.RequestID(
		s.middleware.CORS(
			s.middleware.Logging(
				s.middleware.BodyLimit(
					s.middleware.Authentication(s.router)))))
	return s
}

func (s *Server) setupRoutes(mcpHandler http.Handler) {
	reg := prometheus.NewRegistry()
	s.engine.Register(reg)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Meta endpoints are literal paths and registered before the
	// generic table routes, so they always win the match.
	s.router.HandleFunc("/api/_health", s.metaHandler.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/api/_meta/tables", s.metaHandler.ListTables).Methods(http.MethodGet)
	s.router.HandleFunc("/api/_meta/tables/{table}", s.metaHandler.DescribeTable).Methods(http.MethodGet)
	s.router.HandleFunc("/api/_meta/capabilities", s.metaHandler.Capabilities).Methods(http.MethodGet)
	s.router.HandleFunc("/api/_schema", s.metaHandler.Schema).Methods(http.MethodGet)
	s.router.HandleFunc("/api/_schema/{table}", s.metaHandler.SchemaTable).Methods(http.MethodGet)

	if s.engine.cfg.DocsEnabled {
		s.router.HandleFunc("/docs", s.handleDocs).Methods(http.MethodGet)
	}

	if mcpHandler != nil {
		s.router.PathPrefix("/mcp").Handler(mcpHandler)
	}

	s.router.HandleFunc("/api/{table}", s.recordHandler.List).Methods(http.MethodGet)
	s.router.HandleFunc("/api/{table}", s.recordHandler.Create).Methods(http.MethodPost)
	s.router.HandleFunc("/api/{table}/{id}", s.recordHandler.Read).Methods(http.MethodGet)
	s.router.HandleFunc("/api/{table}/{id}", s.recordHandler.Replace).Methods(http.MethodPut)
	s.router.HandleFunc("/api/{table}/{id}", s.recordHandler.Patch).Methods(http.MethodPatch)
	s.router.HandleFunc("/api/{table}/{id}", s.recordHandler.Delete).Methods(http.MethodDelete)
}

// handleDocs serves a plain index of the derived route table.
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	routes := RouteTable(s.engine.model)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintln(w, "<html><head><title>pgcrud</title></head><body><h1>pgcrud routes</h1><pre>")
	for _, route := range routes {
		fmt.Fprintf(w, "%-6s %s\n", route.Method, route.Path)
	}
	fmt.Fprintln(w, "</pre></body></html>")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
