package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rodrigopitanga/patchvec/internal/admission"
	"github.com/rodrigopitanga/patchvec/internal/service"
)

// errorEnvelope is the uniform failure body.
type errorEnvelope struct {
	OK        bool    `json:"ok"`
	Code      string  `json:"code"`
	Error     string  `json:"error"`
	RequestID string  `json:"request_id,omitempty"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
}

// statusByCode is the fixed mapping from the error taxonomy to HTTP
// statuses. Unknown codes fall back to 500.
var statusByCode = map[string]int{
	"auth_invalid":   http.StatusUnauthorized,
	"auth_forbidden": http.StatusForbidden,
	"admin_required": http.StatusForbidden,

	"tenant_rate_limited": http.StatusTooManyRequests,

	"search_overloaded": http.StatusServiceUnavailable,
	"search_timeout":    http.StatusServiceUnavailable,
	"ingest_overloaded": http.StatusServiceUnavailable,

	"file_too_large": http.StatusRequestEntityTooLarge,

	"invalid_metadata_json":           http.StatusBadRequest,
	service.CodeInvalidCSVOptions:     http.StatusBadRequest,
	service.CodeArchiveInvalid:        http.StatusBadRequest,
	service.CodeRenameInvalid:         http.StatusBadRequest,
	service.CodeNoTextExtracted:       http.StatusBadRequest,
	service.CodeCollectionNotFound:    http.StatusNotFound,
	service.CodeCollectionConflict:    http.StatusConflict,
	service.CodeDataDirNotFound:       http.StatusNotFound,
	service.CodeDataDirNotConfigured:  http.StatusInternalServerError,
	service.CodeIngestFailed:          http.StatusInternalServerError,
	service.CodeSearchFailed:          http.StatusInternalServerError,
	service.CodeCreateCollectionFailed: http.StatusInternalServerError,
	service.CodeDeleteCollectionFailed: http.StatusInternalServerError,
	service.CodeDeleteDocumentFailed:   http.StatusInternalServerError,
	service.CodeRenameFailed:           http.StatusInternalServerError,
	service.CodeListTenantsFailed:      http.StatusInternalServerError,
	service.CodeListCollectionsFailed:  http.StatusInternalServerError,
	service.CodeArchiveDumpFailed:      http.StatusInternalServerError,
	service.CodeArchiveRestoreFailed:   http.StatusInternalServerError,
}

func statusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError emits the typed failure envelope.
func writeError(w http.ResponseWriter, code, message string) {
	respondJSON(w, statusFor(code), errorEnvelope{OK: false, Code: code, Error: message})
}

// writeServiceError maps any error from the core into the envelope.
// Non-typed errors are masked behind a generic code so raw internals never
// leak a status decision.
func writeServiceError(w http.ResponseWriter, err error) string {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		writeError(w, svcErr.Code, svcErr.Message)
		return svcErr.Code
	}
	writeError(w, "internal_error", err.Error())
	return "internal_error"
}

// writeAdmissionError maps gate rejections, adding the rate-limit headers
// on 429.
func writeAdmissionError(w http.ResponseWriter, err error) string {
	switch {
	case errors.Is(err, admission.ErrTenantRateLimited):
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("Retry-After", "1")
		writeError(w, "tenant_rate_limited", "tenant concurrency limit reached")
		return "tenant_rate_limited"
	case errors.Is(err, admission.ErrSearchOverloaded):
		writeError(w, "search_overloaded", "search pool exhausted")
		return "search_overloaded"
	case errors.Is(err, admission.ErrIngestOverloaded):
		writeError(w, "ingest_overloaded", "ingest pool exhausted")
		return "ingest_overloaded"
	}
	writeError(w, "internal_error", err.Error())
	return "internal_error"
}

// requireTenant enforces that the identity may act on the URL's tenant.
func requireTenant(w http.ResponseWriter, r *http.Request, tenant string) bool {
	ac := authFrom(r)
	if ac.AuthorizedForTenant(tenant) {
		return true
	}
	writeError(w, "auth_forbidden", "forbidden (tenant mismatch)")
	return false
}

// requireAdmin gates the admin surface.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if authFrom(r).IsAdmin {
		return true
	}
	writeError(w, "admin_required", "admin access required")
	return false
}
