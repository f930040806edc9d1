package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rodrigopitanga/patchvec/internal/opslog"
	"github.com/rodrigopitanga/patchvec/internal/service"
	"github.com/rodrigopitanga/patchvec/internal/store"
)

// searchBody is the POST search payload.
type searchBody struct {
	Q         string                 `json:"q"`
	K         int                    `json:"k"`
	Filters   map[string]interface{} `json:"filters"`
	RequestID string                 `json:"request_id"`
}

type searchOutcome struct {
	res service.SearchResult
	err error
}

// runSearch admits, dispatches and awaits one search with the configured
// timeout. On timeout the worker keeps running; its result is discarded
// and the admission slot is released when it eventually resolves.
func (d Deps) runSearch(w http.ResponseWriter, r *http.Request, op, tenant, collection, q string,
	k int, filters map[string]interface{}, includeCommon bool, reqID string) {

	start := time.Now()
	ac := authFrom(r)

	release, err := d.Gate.AcquireSearch(tenant, ac.IsAdmin)
	if err != nil {
		code := writeAdmissionError(w, err)
		d.emitSearch(r, op, tenant, collection, start, code, k, nil, reqID)
		return
	}

	outcome := make(chan searchOutcome, 1)
	go func() {
		defer release()
		res, err := d.Svc.Search(r.Context(), tenant, collection, q, k, filters, includeCommon, reqID)
		outcome <- searchOutcome{res: res, err: err}
	}()

	timeout := d.Gate.SearchTimeout()
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case out := <-outcome:
		if out.err != nil {
			code := writeServiceError(w, out.err)
			d.emitSearch(r, op, tenant, collection, start, code, k, nil, reqID)
			return
		}
		hits := len(out.res.Matches)
		respondJSON(w, http.StatusOK, out.res)
		d.emitSearch(r, op, tenant, collection, start, "", k, &hits, reqID)
	case <-timer:
		writeError(w, "search_timeout", "search timed out")
		d.emitSearch(r, op, tenant, collection, start, "search_timeout", k, nil, reqID)
		// Drain the orphaned worker so its eventual error is swallowed.
		go func() { <-outcome }()
	}
}

func (d Deps) emitSearch(r *http.Request, op, tenant, collection string, start time.Time,
	errorCode string, k int, hits *int, reqID string) {
	d.emitOp(r, op, tenant, collection, start, errorCode, func(ev *opslog.Event) {
		kv := k
		ev.K = &kv
		ev.Hits = hits
		ev.RequestID = reqID
	})
}

// SearchPost handles POST /collections/{tenant}/{name}/search.
func SearchPost(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		tenant := chi.URLParam(r, "tenant")
		collection := chi.URLParam(r, "collection")
		if !requireTenant(w, r, tenant) {
			return
		}

		var body searchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, "search_failed", "invalid request body")
			return
		}
		if body.K <= 0 {
			body.K = 5
		}
		d.runSearch(w, r, "search", tenant, collection, body.Q, body.K, body.Filters,
			d.CommonEnabled, requestID(r, body.RequestID))
	}
}

// SearchGet handles GET /collections/{tenant}/{name}/search with q and k
// query parameters and no filters.
func SearchGet(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		tenant := chi.URLParam(r, "tenant")
		collection := chi.URLParam(r, "collection")
		if !requireTenant(w, r, tenant) {
			return
		}

		q := r.URL.Query().Get("q")
		k := 5
		if raw := r.URL.Query().Get("k"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
				k = n
			}
		}
		d.runSearch(w, r, "search", tenant, collection, q, k, nil,
			d.CommonEnabled, requestID(r, ""))
	}
}

// SearchCommonPost handles POST /search against the common collection.
// Disabled deployments answer with an empty match list.
func SearchCommonPost(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)

		var body searchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, "search_failed", "invalid request body")
			return
		}
		reqID := requestID(r, body.RequestID)
		if !d.CommonEnabled {
			respondJSON(w, http.StatusOK, emptySearchResult(reqID))
			return
		}
		if body.K <= 0 {
			body.K = 5
		}
		d.runSearch(w, r, "search", d.CommonTenant, d.CommonCollection,
			body.Q, body.K, body.Filters, false, reqID)
	}
}

// SearchCommonGet handles GET /search.
func SearchCommonGet(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		reqID := requestID(r, "")
		if !d.CommonEnabled {
			respondJSON(w, http.StatusOK, emptySearchResult(reqID))
			return
		}

		q := r.URL.Query().Get("q")
		k := 5
		if raw := r.URL.Query().Get("k"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
				k = n
			}
		}
		d.runSearch(w, r, "search", d.CommonTenant, d.CommonCollection,
			q, k, nil, false, reqID)
	}
}

func emptySearchResult(reqID string) service.SearchResult {
	return service.SearchResult{
		Matches:   []store.Match{},
		LatencyMS: 0,
		RequestID: reqID,
	}
}
