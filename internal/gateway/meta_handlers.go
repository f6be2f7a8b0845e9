package gateway

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pgcrud/pgcrud/internal/dberr"
	"github.com/pgcrud/pgcrud/internal/token"
	"github.com/pgcrud/pgcrud/internal/version"
)

// MetaHandlers contains the health, table-listing, and schema endpoint
// handlers.
type MetaHandlers struct {
	engine *Engine
}

// NewMetaHandlers creates a new instance of MetaHandlers.
func NewMetaHandlers(engine *Engine) *MetaHandlers {
	return &MetaHandlers{engine: engine}
}

// Health handles GET /api/_health. The baseline is public; database
// details are added for authenticated callers (or with auth off).
func (mh *MetaHandlers) Health(w http.ResponseWriter, r *http.Request) {
	mh.engine.TrackOperation()
	defer mh.engine.UntrackOperation()

	resp := HealthResponse{
		Status:         "healthy",
		Version:        version.Version,
		BuildGitHash:   version.GitCommit,
		BuildTimestamp: version.BuildTime,
	}

	if err := mh.engine.ProbeDatabase(r.Context()); err != nil {
		mh.engine.logger.Errorf("request %s health probe failed: %v", RequestIDFrom(r.Context()), err)
		resp.Status = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	// The health route is public, so the middleware never ran; check
	// the credential here to decide whether to augment.
	auth, derr := mh.engine.AuthenticateRequest(r)
	if derr == nil && auth.Authenticated {
		count := mh.engine.model.Len()
		resp.DatabaseHash = mh.engine.model.Digest()
		resp.Tables = &count
		resp.Namespaces = mh.engine.model.Namespaces
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListTables handles GET /api/_meta/tables, hiding entities the caller
// has no access to.
func (mh *MetaHandlers) ListTables(w http.ResponseWriter, r *http.Request) {
	mh.engine.TrackOperation()
	defer mh.engine.UntrackOperation()

	claims := AuthFrom(r.Context()).Claims
	entities := mh.engine.VisibleEntities(claims)

	descriptions := make([]EntityDescription, 0, len(entities))
	for _, e := range entities {
		descriptions = append(descriptions, DescribeEntity(e))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tables": descriptions,
		"count":  len(descriptions),
	})
}

// DescribeTable handles GET /api/_meta/tables/{table}.
func (mh *MetaHandlers) DescribeTable(w http.ResponseWriter, r *http.Request) {
	mh.engine.TrackOperation()
	defer mh.engine.UntrackOperation()

	entity, derr := mh.engine.ResolveEntity(mux.Vars(r)["table"])
	if derr != nil {
		mh.fail(w, r, derr)
		return
	}

	claims := AuthFrom(r.Context()).Claims
	if !claims.Permits(entity.Namespace, token.AccessRead) && !claims.Permits(entity.Namespace, token.AccessWrite) {
		mh.fail(w, r, dberr.New(dberr.KindPermissionDenied, "no access to namespace "+entity.Namespace))
		return
	}

	writeJSON(w, http.StatusOK, DescribeEntity(entity))
}

// Capabilities handles GET /api/_meta/capabilities.
func (mh *MetaHandlers) Capabilities(w http.ResponseWriter, r *http.Request) {
	mh.engine.TrackOperation()
	defer mh.engine.UntrackOperation()

	writeJSON(w, http.StatusOK, mh.engine.DescribeCapabilities())
}

// Schema handles GET /api/_schema: the full model view for the caller,
// with the capabilities envelope and the model digest.
func (mh *MetaHandlers) Schema(w http.ResponseWriter, r *http.Request) {
	mh.engine.TrackOperation()
	defer mh.engine.UntrackOperation()

	claims := AuthFrom(r.Context()).Claims
	entities := mh.engine.VisibleEntities(claims)

	descriptions := make([]EntityDescription, 0, len(entities))
	for _, e := range entities {
		descriptions = append(descriptions, DescribeEntity(e))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"database_hash": mh.engine.model.Digest(),
		"namespaces":    mh.engine.model.Namespaces,
		"tables":        descriptions,
		"capabilities":  mh.engine.DescribeCapabilities(),
	})
}

// SchemaTable handles GET /api/_schema/{table}.
func (mh *MetaHandlers) SchemaTable(w http.ResponseWriter, r *http.Request) {
	mh.DescribeTable(w, r)
}

func (mh *MetaHandlers) fail(w http.ResponseWriter, r *http.Request, derr *dberr.Error) {
	mh.engine.CountError()
	writeDomainError(w, r, mh.engine, derr)
}
