package handler_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rodrigopitanga/patchvec/internal/admission"
	"github.com/rodrigopitanga/patchvec/internal/auth"
	"github.com/rodrigopitanga/patchvec/internal/config"
	"github.com/rodrigopitanga/patchvec/internal/engine"
	"github.com/rodrigopitanga/patchvec/internal/engine/patchidx"
	"github.com/rodrigopitanga/patchvec/internal/handler"
	"github.com/rodrigopitanga/patchvec/internal/metrics"
	"github.com/rodrigopitanga/patchvec/internal/middleware"
	"github.com/rodrigopitanga/patchvec/internal/opslog"
	"github.com/rodrigopitanga/patchvec/internal/router"
	"github.com/rodrigopitanga/patchvec/internal/service"
	"github.com/rodrigopitanga/patchvec/internal/store"
)

type serverOpts struct {
	authCfg       config.AuthConfig
	gateCfg       admission.Config
	maxFileSizeMB int
	engineFactory engine.Factory
	commonEnabled bool
}

func newTestServer(t *testing.T, opts serverOpts) (*httptest.Server, *service.Service) {
	t.Helper()

	factory := opts.engineFactory
	if factory == nil {
		factory = func(tenant, collection string) (engine.Engine, error) {
			return patchidx.New(64), nil
		}
	}
	st := store.New(t.TempDir(), 512, factory)
	ops, err := opslog.New("")
	if err != nil {
		t.Fatal(err)
	}
	svc := &service.Service{
		Store:           st,
		Metrics:         metrics.New(""),
		Ops:             ops,
		TxtChunkSize:    1000,
		TxtChunkOverlap: 200,
	}

	reg := prometheus.NewRegistry()
	httpMetrics := middleware.NewHTTPMetrics(reg)
	reg.MustRegister(metrics.NewCollector(svc.Metrics, nil, map[string]string{"version": "test"}))

	mux := router.New(&router.Dependencies{
		Handler: handler.Deps{
			Svc:           svc,
			Gate:          admission.New(opts.gateCfg),
			Version:       "test",
			InstanceName:  "Patchvec Test",
			InstanceDesc:  "test instance",
			MaxFileSizeMB: opts.maxFileSizeMB,
			CommonEnabled: opts.commonEnabled,
		},
		Authenticator: auth.New(opts.authCfg),
		MetricsReg:    reg,
		HTTPMetrics:   httpMetrics,
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func doJSON(t *testing.T, method, url string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		json.Unmarshal(data, &decoded)
	}
	return resp, decoded
}

func ingestFile(t *testing.T, base, tenant, collection, filename string, content []byte, fields map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	body, contentType := multipartBody(t, filename, content, fields)
	req, err := http.NewRequest("POST",
		fmt.Sprintf("%s/collections/%s/%s/documents", base, tenant, collection), body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	json.Unmarshal(data, &decoded)
	return resp, decoded
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	resp, body := doJSON(t, "GET", srv.URL+"/health", nil, nil)
	if resp.StatusCode != 200 || body["ok"] != true {
		t.Errorf("/health = %d %v", resp.StatusCode, body)
	}
	if body["instance"] != "Patchvec Test" {
		t.Errorf("/health instance = %v", body["instance"])
	}

	resp, body = doJSON(t, "GET", srv.URL+"/health/live", nil, nil)
	if resp.StatusCode != 200 || body["status"] != "live" {
		t.Errorf("/health/live = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, "GET", srv.URL+"/health/ready", nil, nil)
	if resp.StatusCode != 200 || body["writable"] != true || body["vector_backend_init"] != true {
		t.Errorf("/health/ready = %d %v", resp.StatusCode, body)
	}
	if body["instance_name"] != "Patchvec Test" || body["instance_desc"] != "test instance" {
		t.Errorf("/health/ready instance fields = %v / %v", body["instance_name"], body["instance_desc"])
	}

	resp, body = doJSON(t, "GET", srv.URL+"/health/metrics", nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("/health/metrics = %d", resp.StatusCode)
	}
	if _, ok := body["requests_total"]; !ok {
		t.Errorf("snapshot missing requests_total: %v", body)
	}
	if _, ok := body["search_latency_p50_ms"]; !ok {
		t.Errorf("snapshot missing percentiles: %v", body)
	}

	promResp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer promResp.Body.Close()
	text, _ := io.ReadAll(promResp.Body)
	if !strings.Contains(string(text), "patchvec_requests_total") {
		t.Error("prometheus exposition missing patchvec_requests_total")
	}
	if !strings.Contains(string(text), "patchvec_build_info") {
		t.Error("prometheus exposition missing build info")
	}
}

func TestBasicIngestAndSearch(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	resp, body := doJSON(t, "POST", srv.URL+"/collections/acme/invoices", nil, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("create = %d %v", resp.StatusCode, body)
	}

	resp, body = ingestFile(t, srv.URL, "acme", "invoices", "v.txt",
		[]byte("Captain Nemo submarine voyage"), map[string]string{"docid": "verne"})
	if resp.StatusCode != 201 {
		t.Fatalf("ingest = %d %v", resp.StatusCode, body)
	}
	if body["ok"] != true || body["docid"] != "verne" || body["chunks"] != 1.0 {
		t.Errorf("ingest body = %v", body)
	}

	resp, body = doJSON(t, "POST", srv.URL+"/collections/acme/invoices/search",
		map[string]interface{}{"q": "submarine", "k": 2}, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("search = %d %v", resp.StatusCode, body)
	}
	matches, _ := body["matches"].([]interface{})
	if len(matches) == 0 {
		t.Fatal("no matches")
	}
	m := matches[0].(map[string]interface{})
	if !strings.HasPrefix(m["id"].(string), "verne::") {
		t.Errorf("match id = %v", m["id"])
	}
	if m["score"].(float64) <= 0 {
		t.Errorf("score = %v", m["score"])
	}
	if !strings.Contains(m["match_reason"].(string), "semantic similarity") {
		t.Errorf("match_reason = %v", m["match_reason"])
	}
	if _, ok := body["latency_ms"]; !ok {
		t.Error("latency_ms missing from search envelope")
	}
}

func TestRenameCollisionFlow(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	for _, c := range []string{"foo", "bar"} {
		if resp, body := doJSON(t, "POST", srv.URL+"/collections/acme/"+c, nil, nil); resp.StatusCode != 201 {
			t.Fatalf("create %s = %d %v", c, resp.StatusCode, body)
		}
	}

	resp, body := doJSON(t, "PUT", srv.URL+"/collections/acme/bar",
		map[string]string{"new_name": "foo"}, nil)
	if resp.StatusCode != 409 || body["code"] != "collection_conflict" {
		t.Errorf("conflicting rename = %d %v", resp.StatusCode, body)
	}

	if resp, _ := doJSON(t, "DELETE", srv.URL+"/collections/acme/foo", nil, nil); resp.StatusCode != 200 {
		t.Fatalf("delete foo = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, "PUT", srv.URL+"/collections/acme/bar",
		map[string]string{"new_name": "foo"}, nil)
	if resp.StatusCode != 200 {
		t.Errorf("rename after delete = %d %v", resp.StatusCode, body)
	}

	if resp, _ := doJSON(t, "POST", srv.URL+"/collections/acme/bar", nil, nil); resp.StatusCode != 201 {
		t.Fatalf("recreate bar = %d", resp.StatusCode)
	}
	resp, body = doJSON(t, "PUT", srv.URL+"/collections/acme/bar",
		map[string]string{"new_name": "foo"}, nil)
	if resp.StatusCode != 409 {
		t.Errorf("second conflicting rename = %d %v", resp.StatusCode, body)
	}

	// same-name and missing-collection failures
	resp, body = doJSON(t, "PUT", srv.URL+"/collections/acme/foo",
		map[string]string{"new_name": "foo"}, nil)
	if resp.StatusCode != 400 || body["code"] != "rename_invalid" {
		t.Errorf("same-name rename = %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, "PUT", srv.URL+"/collections/acme/ghost",
		map[string]string{"new_name": "x"}, nil)
	if resp.StatusCode != 404 || body["code"] != "collection_not_found" {
		t.Errorf("missing rename = %d %v", resp.StatusCode, body)
	}
}

func TestStaticAuth(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{
		authCfg: config.AuthConfig{
			Mode:      "static",
			GlobalKey: "root-key",
			APIKeys:   map[string]string{"acme": "acme-key"},
		},
	})

	// No token
	resp, body := doJSON(t, "GET", srv.URL+"/collections/acme", nil, nil)
	if resp.StatusCode != 401 || body["code"] != "auth_invalid" {
		t.Errorf("missing token = %d %v", resp.StatusCode, body)
	}

	// Valid token, wrong tenant
	resp, body = doJSON(t, "GET", srv.URL+"/collections/globex", nil,
		map[string]string{"Authorization": "Bearer acme-key"})
	if resp.StatusCode != 403 || body["code"] != "auth_forbidden" {
		t.Errorf("tenant mismatch = %d %v", resp.StatusCode, body)
	}

	// Valid token, own tenant
	resp, _ = doJSON(t, "GET", srv.URL+"/collections/acme", nil,
		map[string]string{"Authorization": "Bearer acme-key"})
	if resp.StatusCode != 200 {
		t.Errorf("own tenant = %d", resp.StatusCode)
	}

	// Admin endpoint with tenant key
	resp, body = doJSON(t, "GET", srv.URL+"/admin/tenants", nil,
		map[string]string{"Authorization": "Bearer acme-key"})
	if resp.StatusCode != 403 || body["code"] != "admin_required" {
		t.Errorf("tenant key on admin = %d %v", resp.StatusCode, body)
	}

	// Admin endpoint with global key
	resp, _ = doJSON(t, "GET", srv.URL+"/admin/tenants", nil,
		map[string]string{"Authorization": "Bearer root-key"})
	if resp.StatusCode != 200 {
		t.Errorf("global key on admin = %d", resp.StatusCode)
	}

	// Global key may touch any tenant
	resp, _ = doJSON(t, "GET", srv.URL+"/collections/globex", nil,
		map[string]string{"Authorization": "Bearer root-key"})
	if resp.StatusCode != 200 {
		t.Errorf("admin on any tenant = %d", resp.StatusCode)
	}
}

func TestFileTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{maxFileSizeMB: 1})

	big := bytes.Repeat([]byte("a"), 1*1024*1024+512)
	resp, body := ingestFile(t, srv.URL, "acme", "docs", "big.txt", big, nil)
	if resp.StatusCode != 413 || body["code"] != "file_too_large" {
		t.Errorf("oversize = %d %v", resp.StatusCode, body)
	}

	// Limit 0 means unlimited.
	srv2, _ := newTestServer(t, serverOpts{maxFileSizeMB: 0})
	resp, body = ingestFile(t, srv2.URL, "acme", "docs", "big.txt", big, nil)
	if resp.StatusCode != 201 {
		t.Errorf("unlimited = %d %v", resp.StatusCode, body)
	}
}

func TestIngestErrors(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	// invalid metadata JSON
	resp, body := ingestFile(t, srv.URL, "acme", "docs", "a.txt", []byte("text"),
		map[string]string{"metadata": "{broken"})
	if resp.StatusCode != 400 || body["code"] != "invalid_metadata_json" {
		t.Errorf("bad metadata = %d %v", resp.StatusCode, body)
	}

	// empty file
	resp, body = ingestFile(t, srv.URL, "acme", "docs", "a.txt", nil, nil)
	if resp.StatusCode != 400 || body["code"] != "no_text_extracted" {
		t.Errorf("empty file = %d %v", resp.StatusCode, body)
	}

	// bad csv_has_header value
	body2, contentType := multipartBody(t, "r.csv", []byte("a,b\n1,2\n"), nil)
	req, _ := http.NewRequest("POST",
		srv.URL+"/collections/acme/docs/documents?csv_has_header=maybe", body2)
	req.Header.Set("Content-Type", contentType)
	rawResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer rawResp.Body.Close()
	var decoded map[string]interface{}
	data, _ := io.ReadAll(rawResp.Body)
	json.Unmarshal(data, &decoded)
	if rawResp.StatusCode != 400 || decoded["code"] != "invalid_csv_options" {
		t.Errorf("bad csv_has_header = %d %v", rawResp.StatusCode, decoded)
	}
}

func TestDeleteDocumentIdempotent(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	if resp, _ := ingestFile(t, srv.URL, "acme", "docs", "a.txt",
		[]byte("text body"), map[string]string{"docid": "D1"}); resp.StatusCode != 201 {
		t.Fatal("ingest failed")
	}

	resp, body := doJSON(t, "DELETE", srv.URL+"/collections/acme/docs/documents/D1", nil, nil)
	if resp.StatusCode != 200 || body["chunks_deleted"] != 1.0 {
		t.Errorf("first delete = %d %v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, "DELETE", srv.URL+"/collections/acme/docs/documents/D1", nil, nil)
	if resp.StatusCode != 200 || body["chunks_deleted"] != 0.0 {
		t.Errorf("second delete = %d %v", resp.StatusCode, body)
	}
}

// slowEngine delays every search to drive timeout and overload scenarios.
type slowEngine struct {
	engine.Engine
	delay time.Duration
}

func (e *slowEngine) Search(ctx context.Context, req engine.Request) ([]engine.Hit, error) {
	time.Sleep(e.delay)
	return e.Engine.Search(ctx, req)
}

func TestSearchTimeout(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{
		gateCfg: admission.Config{SearchTimeout: 50 * time.Millisecond},
		engineFactory: func(tenant, collection string) (engine.Engine, error) {
			return &slowEngine{Engine: patchidx.New(64), delay: 1 * time.Second}, nil
		},
	})

	start := time.Now()
	resp, body := doJSON(t, "POST", srv.URL+"/collections/acme/docs/search",
		map[string]interface{}{"q": "anything", "k": 2}, nil)
	elapsed := time.Since(start)

	if resp.StatusCode != 503 || body["code"] != "search_timeout" {
		t.Errorf("timeout response = %d %v", resp.StatusCode, body)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("timeout took %v, want ~50ms", elapsed)
	}
}

func TestSearchOverloaded(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{
		gateCfg: admission.Config{MaxSearches: 1},
		engineFactory: func(tenant, collection string) (engine.Engine, error) {
			return &slowEngine{Engine: patchidx.New(64), delay: 400 * time.Millisecond}, nil
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		doJSON(t, "POST", srv.URL+"/collections/acme/docs/search",
			map[string]interface{}{"q": "x"}, nil)
	}()
	time.Sleep(100 * time.Millisecond)

	resp, body := doJSON(t, "POST", srv.URL+"/collections/acme/docs/search",
		map[string]interface{}{"q": "y"}, nil)
	if resp.StatusCode != 503 || body["code"] != "search_overloaded" {
		t.Errorf("overload = %d %v", resp.StatusCode, body)
	}
	<-done
}

func TestTenantRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{
		authCfg: config.AuthConfig{
			Mode:    "static",
			APIKeys: map[string]string{"acme": "acme-key"},
		},
		gateCfg: admission.Config{TenantDefault: 1},
		engineFactory: func(tenant, collection string) (engine.Engine, error) {
			return &slowEngine{Engine: patchidx.New(64), delay: 400 * time.Millisecond}, nil
		},
	})
	headers := map[string]string{"Authorization": "Bearer acme-key"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		doJSON(t, "POST", srv.URL+"/collections/acme/docs/search",
			map[string]interface{}{"q": "x"}, headers)
	}()
	time.Sleep(100 * time.Millisecond)

	req, _ := http.NewRequest("POST", srv.URL+"/collections/acme/docs/search",
		strings.NewReader(`{"q":"y"}`))
	req.Header.Set("Authorization", "Bearer acme-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var body map[string]interface{}
	json.Unmarshal(data, &body)

	if resp.StatusCode != 429 || body["code"] != "tenant_rate_limited" {
		t.Errorf("rate limited = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", resp.Header.Get("X-RateLimit-Remaining"))
	}
	if resp.Header.Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
	<-done
}

func TestArchiveRoundTripHTTP(t *testing.T) {
	srv, svc := newTestServer(t, serverOpts{})
	dataDir := svc.Store.DataDir()

	nested := filepath.Join(dataDir, "tenant", "collection")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "doc.txt"), []byte("hello endpoint"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/admin/archive")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("dump = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content type = %q", ct)
	}
	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive))); err != nil {
		t.Fatalf("dump is not a valid zip: %v", err)
	}

	if err := os.RemoveAll(dataDir); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "backup.zip")
	fw.Write(archive)
	mw.Close()
	req, _ := http.NewRequest("PUT", srv.URL+"/admin/archive", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	restoreResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer restoreResp.Body.Close()
	if restoreResp.StatusCode != 200 {
		data, _ := io.ReadAll(restoreResp.Body)
		t.Fatalf("restore = %d %s", restoreResp.StatusCode, data)
	}

	restored, err := os.ReadFile(filepath.Join(nested, "doc.txt"))
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if string(restored) != "hello endpoint" {
		t.Errorf("restored content = %q", restored)
	}
}

func TestArchiveRestoreInvalid(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "bad.zip")
	fw.Write([]byte("not a zip"))
	mw.Close()
	req, _ := http.NewRequest("PUT", srv.URL+"/admin/archive", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	data, _ := io.ReadAll(resp.Body)
	json.Unmarshal(data, &body)
	if resp.StatusCode != 400 || body["code"] != "archive_invalid" {
		t.Errorf("invalid archive = %d %v", resp.StatusCode, body)
	}
}

func TestMetricsReset(t *testing.T) {
	srv, svc := newTestServer(t, serverOpts{})
	svc.Metrics.Inc("search_total", 7)

	resp, body := doJSON(t, "DELETE", srv.URL+"/admin/metrics", nil, nil)
	if resp.StatusCode != 200 || body["ok"] != true {
		t.Errorf("reset = %d %v", resp.StatusCode, body)
	}
	if svc.Metrics.Snapshot(nil)["search_total"] != 0.0 {
		t.Error("counters not zeroed")
	}
}

func TestRequestIDEcho(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	resp, body := doJSON(t, "POST", srv.URL+"/collections/acme/docs/search",
		map[string]interface{}{"q": "x", "request_id": "body-id"}, nil)
	if resp.StatusCode != 200 || body["request_id"] != "body-id" {
		t.Errorf("body request id = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, "POST", srv.URL+"/collections/acme/docs/search",
		map[string]interface{}{"q": "x"}, map[string]string{"X-Request-ID": "header-id"})
	if resp.StatusCode != 200 || body["request_id"] != "header-id" {
		t.Errorf("header request id = %d %v", resp.StatusCode, body)
	}
}

func TestCommonSearchDisabled(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	resp, body := doJSON(t, "POST", srv.URL+"/search",
		map[string]interface{}{"q": "anything"}, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("common search = %d", resp.StatusCode)
	}
	matches, ok := body["matches"].([]interface{})
	if !ok || len(matches) != 0 {
		t.Errorf("disabled common search should return empty matches: %v", body)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})
	resp, body := doJSON(t, "GET", srv.URL+"/nope", nil, nil)
	if resp.StatusCode != 404 || body["ok"] != false {
		t.Errorf("404 = %d %v", resp.StatusCode, body)
	}
}

func TestListEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})

	for _, c := range []string{"zeta", "alpha"} {
		if resp, _ := ingestFile(t, srv.URL, "acme", c, "x.txt",
			[]byte("text"), nil); resp.StatusCode != 201 {
			t.Fatalf("ingest into %s failed", c)
		}
	}

	resp, body := doJSON(t, "GET", srv.URL+"/collections/acme", nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("list collections = %d", resp.StatusCode)
	}
	colls, _ := body["collections"].([]interface{})
	if len(colls) != 2 || colls[0] != "alpha" || colls[1] != "zeta" {
		t.Errorf("collections = %v, want alphabetic", colls)
	}

	resp, body = doJSON(t, "GET", srv.URL+"/admin/tenants", nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("list tenants = %d", resp.StatusCode)
	}
	tenants, _ := body["tenants"].([]interface{})
	if len(tenants) != 1 || tenants[0] != "acme" {
		t.Errorf("tenants = %v", tenants)
	}
}
