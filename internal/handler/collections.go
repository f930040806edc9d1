package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// ListCollections handles GET /collections/{tenant}.
func ListCollections(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		tenant := chi.URLParam(r, "tenant")
		if !requireTenant(w, r, tenant) {
			return
		}
		res, err := d.Svc.ListCollections(tenant)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// CreateCollection handles POST /collections/{tenant}/{name}.
func CreateCollection(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		start := time.Now()
		tenant := chi.URLParam(r, "tenant")
		name := chi.URLParam(r, "collection")
		if !requireTenant(w, r, tenant) {
			return
		}
		res, err := d.Svc.CreateCollection(tenant, name)
		if err != nil {
			code := writeServiceError(w, err)
			d.emitOp(r, "create_collection", tenant, name, start, code)
			return
		}
		respondJSON(w, http.StatusCreated, res)
		d.emitOp(r, "create_collection", tenant, name, start, "")
	}
}

// DeleteCollection handles DELETE /collections/{tenant}/{name}.
func DeleteCollection(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		start := time.Now()
		tenant := chi.URLParam(r, "tenant")
		name := chi.URLParam(r, "collection")
		if !requireTenant(w, r, tenant) {
			return
		}
		res, err := d.Svc.DeleteCollection(r.Context(), tenant, name)
		if err != nil {
			code := writeServiceError(w, err)
			d.emitOp(r, "delete_collection", tenant, name, start, code)
			return
		}
		respondJSON(w, http.StatusOK, res)
		d.emitOp(r, "delete_collection", tenant, name, start, "")
	}
}

// renameBody is the PUT /collections/{tenant}/{name} payload.
type renameBody struct {
	NewName string `json:"new_name"`
}

// RenameCollection handles PUT /collections/{tenant}/{name}.
func RenameCollection(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		start := time.Now()
		tenant := chi.URLParam(r, "tenant")
		name := chi.URLParam(r, "collection")
		if !requireTenant(w, r, tenant) {
			return
		}

		var body renameBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NewName == "" {
			writeError(w, "rename_invalid", "body must carry new_name")
			d.emitOp(r, "rename_collection", tenant, name, start, "rename_invalid")
			return
		}

		res, err := d.Svc.RenameCollection(tenant, name, body.NewName)
		if err != nil {
			code := writeServiceError(w, err)
			d.emitOp(r, "rename_collection", tenant, name, start, code)
			return
		}
		respondJSON(w, http.StatusOK, res)
		d.emitOp(r, "rename_collection", tenant, name, start, "")
	}
}
