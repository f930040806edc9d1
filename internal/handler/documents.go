package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rodrigopitanga/patchvec/internal/ingest"
	"github.com/rodrigopitanga/patchvec/internal/opslog"
)

// IngestDocument handles POST /collections/{tenant}/{collection}/documents:
// multipart "file" plus optional "docid" and "metadata" form fields, CSV
// options as query parameters.
func IngestDocument(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		start := time.Now()
		tenant := chi.URLParam(r, "tenant")
		collection := chi.URLParam(r, "collection")
		if !requireTenant(w, r, tenant) {
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, "ingest_failed", "missing multipart file field")
			d.emitOp(r, "ingest", tenant, collection, start, "ingest_failed")
			return
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			writeError(w, "ingest_failed", err.Error())
			d.emitOp(r, "ingest", tenant, collection, start, "ingest_failed")
			return
		}

		// Size limit applies to the buffered length; 0 means unlimited.
		if d.MaxFileSizeMB > 0 && len(content) > d.MaxFileSizeMB*1024*1024 {
			writeError(w, "file_too_large", "uploaded file exceeds the configured size limit")
			d.emitOp(r, "ingest", tenant, collection, start, "file_too_large")
			return
		}

		var metadata map[string]interface{}
		if raw := r.FormValue("metadata"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
				writeError(w, "invalid_metadata_json", "invalid metadata json: "+err.Error())
				d.emitOp(r, "ingest", tenant, collection, start, "invalid_metadata_json")
				return
			}
		}

		var csvOpts *ingest.CSVOptions
		q := r.URL.Query()
		if q.Get("csv_has_header") != "" || q.Get("csv_meta_cols") != "" || q.Get("csv_include_cols") != "" {
			hasHeader := q.Get("csv_has_header")
			if hasHeader == "" {
				hasHeader = "auto"
			}
			switch hasHeader {
			case "auto", "yes", "no":
			default:
				writeError(w, "invalid_csv_options", "csv_has_header must be auto, yes or no")
				d.emitOp(r, "ingest", tenant, collection, start, "invalid_csv_options")
				return
			}
			csvOpts = &ingest.CSVOptions{
				HasHeader:   hasHeader,
				MetaCols:    q.Get("csv_meta_cols"),
				IncludeCols: q.Get("csv_include_cols"),
			}
		}

		ac := authFrom(r)
		release, err := d.Gate.AcquireIngest(tenant, ac.IsAdmin)
		if err != nil {
			code := writeAdmissionError(w, err)
			d.emitOp(r, "ingest", tenant, collection, start, code)
			return
		}
		defer release()

		res, err := d.Svc.IngestDocument(r.Context(), tenant, collection,
			header.Filename, content, r.FormValue("docid"), metadata, csvOpts)
		if err != nil {
			code := writeServiceError(w, err)
			d.emitOp(r, "ingest", tenant, collection, start, code)
			return
		}
		respondJSON(w, http.StatusCreated, res)
		d.emitOp(r, "ingest", tenant, collection, start, "", func(ev *opslog.Event) {
			ev.Docid = res.Docid
			chunks := res.Chunks
			ev.Chunks = &chunks
		})
	}
}

// DeleteDocument handles
// DELETE /collections/{tenant}/{collection}/documents/{docid}. Idempotent:
// an absent document is success with zero chunks deleted.
func DeleteDocument(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		start := time.Now()
		tenant := chi.URLParam(r, "tenant")
		collection := chi.URLParam(r, "collection")
		docid := chi.URLParam(r, "docid")
		if !requireTenant(w, r, tenant) {
			return
		}

		res, err := d.Svc.DeleteDocument(r.Context(), tenant, collection, docid)
		if err != nil {
			code := writeServiceError(w, err)
			d.emitOp(r, "delete_document", tenant, collection, start, code)
			return
		}
		respondJSON(w, http.StatusOK, res)
		d.emitOp(r, "delete_document", tenant, collection, start, "", func(ev *opslog.Event) {
			ev.Docid = docid
		})
	}
}
