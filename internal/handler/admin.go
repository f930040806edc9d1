package handler

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rodrigopitanga/patchvec/internal/opslog"
)

// ArchiveDump handles GET /admin/archive: streams a consistent ZIP of the
// data directory and cleans the owning temp directory afterwards.
func ArchiveDump(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		start := time.Now()
		if !requireAdmin(w, r) {
			return
		}

		archivePath, tmpDir, err := d.Svc.DumpArchive("")
		if err != nil {
			code := writeServiceError(w, err)
			d.emitOp(r, "dump_archive", "", "", start, code)
			return
		}
		if tmpDir != "" {
			defer os.RemoveAll(tmpDir)
		}

		f, err := os.Open(archivePath)
		if err != nil {
			code := writeServiceError(w, err)
			d.emitOp(r, "dump_archive", "", "", start, code)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(archivePath)+`"`)
		w.WriteHeader(http.StatusOK)
		io.Copy(w, f)
		d.emitOp(r, "dump_archive", "", "", start, "")
	}
}

// ArchiveRestore handles PUT /admin/archive with a multipart "file"
// carrying the ZIP.
func ArchiveRestore(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		start := time.Now()
		if !requireAdmin(w, r) {
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, "archive_invalid", "missing multipart file field")
			d.emitOp(r, "restore_archive", "", "", start, "archive_invalid")
			return
		}
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			writeError(w, "archive_restore_failed", err.Error())
			d.emitOp(r, "restore_archive", "", "", start, "archive_restore_failed")
			return
		}

		res, err := d.Svc.RestoreArchive(content)
		if err != nil {
			code := writeServiceError(w, err)
			d.emitOp(r, "restore_archive", "", "", start, code)
			return
		}
		respondJSON(w, http.StatusOK, res)
		d.emitOp(r, "restore_archive", "", "", start, "")
	}
}

// MetricsReset handles DELETE /admin/metrics.
func MetricsReset(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		if !requireAdmin(w, r) {
			return
		}
		respondJSON(w, http.StatusOK, d.Svc.Metrics.Reset())
	}
}

// ListTenants handles GET /admin/tenants.
func ListTenants(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		if !requireAdmin(w, r) {
			return
		}
		res, err := d.Svc.ListTenants()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// emitOp writes one ops-log record for an operation, ok or error.
func (d Deps) emitOp(r *http.Request, op, tenant, collection string, start time.Time, errorCode string, extra ...func(*opslog.Event)) {
	status := "ok"
	if errorCode != "" {
		status = "error"
	}
	ev := opslog.Event{
		Op:         op,
		Tenant:     tenant,
		Collection: collection,
		LatencyMS:  float64(time.Since(start).Microseconds()) / 1000.0,
		Status:     status,
		ErrorCode:  errorCode,
		RequestID:  r.Header.Get("X-Request-ID"),
	}
	for _, fn := range extra {
		fn(&ev)
	}
	d.Svc.Ops.Emit(ev)
}
