package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pgcrud/pgcrud/internal/dberr"
)

// RecordHandlers contains the per-table CRUD endpoint handlers.
type RecordHandlers struct {
	engine *Engine
}

// NewRecordHandlers creates a new instance of RecordHandlers.
func NewRecordHandlers(engine *Engine) *RecordHandlers {
	return &RecordHandlers{engine: engine}
}

const requestTimeout = 30 * time.Second

// List handles GET /api/{table}.
func (rh *RecordHandlers) List(w http.ResponseWriter, r *http.Request) {
	rh.engine.TrackOperation()
	defer rh.engine.UntrackOperation()

	entity, derr := rh.engine.ResolveEntity(mux.Vars(r)["table"])
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}

	params := rh.engine.ParseListParams(r.URL.Query())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, derr := rh.engine.ListRecords(ctx, AuthFrom(r.Context()).Claims, entity, params)
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{Data: result.Rows, Pagination: result.Pagination})
}

// Read handles GET /api/{table}/{id}.
func (rh *RecordHandlers) Read(w http.ResponseWriter, r *http.Request) {
	rh.engine.TrackOperation()
	defer rh.engine.UntrackOperation()

	vars := mux.Vars(r)
	entity, derr := rh.engine.ResolveEntity(vars["table"])
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}
	keyValues, derr := ParseKeySegment(entity, vars["id"])
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	row, derr := rh.engine.GetRecord(ctx, AuthFrom(r.Context()).Claims, entity, keyValues)
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}

	writeJSON(w, http.StatusOK, row)
}

// Create handles POST /api/{table}, accepting a single object or an
// array for bulk insert.
func (rh *RecordHandlers) Create(w http.ResponseWriter, r *http.Request) {
	rh.engine.TrackOperation()
	defer rh.engine.UntrackOperation()

	entity, derr := rh.engine.ResolveEntity(mux.Vars(r)["table"])
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		rh.fail(w, r, dberr.New(dberr.KindValidationFailed, "failed to read request body"))
		return
	}
	payload, derr := rh.engine.ParseWritePayload(body, true)
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	claims := AuthFrom(r.Context()).Claims
	if payload.Bulk != nil {
		rows, derr := rh.engine.CreateRecords(ctx, claims, entity, payload.Bulk)
		if derr != nil {
			rh.fail(w, r, derr)
			return
		}
		writeJSON(w, http.StatusCreated, BulkCreateResponse{Data: rows, Count: len(rows)})
		return
	}

	row, derr := rh.engine.CreateRecord(ctx, claims, entity, payload.Single)
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// Replace handles PUT /api/{table}/{id}.
func (rh *RecordHandlers) Replace(w http.ResponseWriter, r *http.Request) {
	rh.update(w, r)
}

// Patch handles PATCH /api/{table}/{id}.
func (rh *RecordHandlers) Patch(w http.ResponseWriter, r *http.Request) {
	rh.update(w, r)
}

// update is the shared PUT/PATCH path: both restrict the SET list to
// the payload's keys, so they build the same statement.
func (rh *RecordHandlers) update(w http.ResponseWriter, r *http.Request) {
	rh.engine.TrackOperation()
	defer rh.engine.UntrackOperation()

	vars := mux.Vars(r)
	entity, derr := rh.engine.ResolveEntity(vars["table"])
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}
	keyValues, derr := ParseKeySegment(entity, vars["id"])
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		rh.fail(w, r, dberr.New(dberr.KindValidationFailed, "failed to read request body"))
		return
	}
	payload, derr := rh.engine.ParseWritePayload(body, false)
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	row, derr := rh.engine.UpdateRecord(ctx, AuthFrom(r.Context()).Claims, entity, payload.Single, keyValues)
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// Delete handles DELETE /api/{table}/{id}.
func (rh *RecordHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	rh.engine.TrackOperation()
	defer rh.engine.UntrackOperation()

	vars := mux.Vars(r)
	entity, derr := rh.engine.ResolveEntity(vars["table"])
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}
	keyValues, derr := ParseKeySegment(entity, vars["id"])
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, derr := rh.engine.DeleteRecord(ctx, AuthFrom(r.Context()).Claims, entity, keyValues)
	if derr != nil {
		rh.fail(w, r, derr)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: true, SoftDelete: result.SoftDelete, Record: result.Record})
}

func (rh *RecordHandlers) fail(w http.ResponseWriter, r *http.Request, derr *dberr.Error) {
	rh.engine.CountError()
	writeDomainError(w, r, rh.engine, derr)
}
