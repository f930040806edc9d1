package service

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rodrigopitanga/patchvec/internal/engine"
	"github.com/rodrigopitanga/patchvec/internal/engine/patchidx"
	"github.com/rodrigopitanga/patchvec/internal/ingest"
	"github.com/rodrigopitanga/patchvec/internal/metrics"
	"github.com/rodrigopitanga/patchvec/internal/opslog"
	"github.com/rodrigopitanga/patchvec/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	st := store.New(dir, 512, func(tenant, collection string) (engine.Engine, error) {
		return patchidx.New(64), nil
	})
	ops, err := opslog.New("")
	if err != nil {
		t.Fatal(err)
	}
	return &Service{
		Store:           st,
		Metrics:         metrics.New(""),
		Ops:             ops,
		TxtChunkSize:    1000,
		TxtChunkOverlap: 200,
	}
}

func TestCreateCollection_Idempotent(t *testing.T) {
	s := newTestService(t)
	first, err := s.CreateCollection("acme", "invoices")
	if err != nil {
		t.Fatalf("CreateCollection() error: %v", err)
	}
	if !first.OK || first.Tenant != "acme" || first.Collection != "invoices" {
		t.Errorf("result = %+v", first)
	}
	if _, err := s.CreateCollection("acme", "invoices"); err != nil {
		t.Errorf("second create should succeed: %v", err)
	}
}

func TestIngestAndSearch_Basic(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	res, err := s.IngestDocument(ctx, "acme", "invoices", "v.txt",
		[]byte("Captain Nemo submarine voyage"), "verne", nil, nil)
	if err != nil {
		t.Fatalf("IngestDocument() error: %v", err)
	}
	if !res.OK || res.Docid != "verne" || res.Chunks != 1 {
		t.Errorf("ingest result = %+v", res)
	}

	out, err := s.Search(ctx, "acme", "invoices", "submarine", 2, nil, false, "req-9")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(out.Matches) == 0 {
		t.Fatal("expected at least one match")
	}
	m := out.Matches[0]
	if !strings.HasPrefix(m.ID, "verne::") {
		t.Errorf("match id = %q, want verne:: prefix", m.ID)
	}
	if m.Score <= 0 {
		t.Errorf("score = %f, want > 0", m.Score)
	}
	if !strings.Contains(m.MatchReason, "semantic similarity") {
		t.Errorf("match_reason = %q", m.MatchReason)
	}
	if out.RequestID != "req-9" {
		t.Errorf("request id not echoed: %q", out.RequestID)
	}

	snap := s.Metrics.Snapshot(nil)
	if snap["documents_indexed_total"] != 1.0 || snap["chunks_indexed_total"] != 1.0 {
		t.Errorf("ingest counters = %v", snap)
	}
	if snap["search_total"] != 1.0 {
		t.Errorf("search_total = %v", snap["search_total"])
	}
}

func TestIngest_DefaultDocidFromFilename(t *testing.T) {
	s := newTestService(t)
	res, err := s.IngestDocument(context.Background(), "acme", "docs", "Annual Report.txt",
		[]byte("yearly figures"), "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Docid != "ANNUAL_REPORT_TXT" {
		t.Errorf("derived docid = %q", res.Docid)
	}
}

func TestIngest_ReplaceSameDocid(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.IngestDocument(ctx, "acme", "reup", "a.txt",
		[]byte("alpha bravo charlie"), "R-42", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IngestDocument(ctx, "acme", "reup", "b.txt",
		[]byte("delta echo foxtrot"), "R-42", nil, nil); err != nil {
		t.Fatal(err)
	}

	out, err := s.Search(ctx, "acme", "reup", "delta", 5,
		map[string]interface{}{"docid": "R-42"}, false, "")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, m := range out.Matches {
		if m.Text != nil && strings.Contains(*m.Text, "delta") {
			found = true
		}
	}
	if !found {
		t.Error("re-ingested content not found")
	}

	out, err = s.Search(ctx, "acme", "reup", "alpha", 5, nil, false, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range out.Matches {
		if m.Text != nil && strings.Contains(*m.Text, "alpha") {
			t.Error("old content still reachable")
		}
	}
}

func TestIngest_NoTextExtracted(t *testing.T) {
	s := newTestService(t)
	_, err := s.IngestDocument(context.Background(), "acme", "docs", "empty.txt", nil, "", nil, nil)
	svcErr, ok := err.(*Error)
	if !ok || svcErr.Code != CodeNoTextExtracted {
		t.Errorf("error = %v, want %s", err, CodeNoTextExtracted)
	}
}

func TestIngest_InvalidCSVOptions(t *testing.T) {
	s := newTestService(t)
	_, err := s.IngestDocument(context.Background(), "acme", "docs", "rows.csv",
		[]byte("a,b\n1,2\n"), "", nil, &ingest.CSVOptions{HasHeader: "no", MetaCols: "name"})
	svcErr, ok := err.(*Error)
	if !ok || svcErr.Code != CodeInvalidCSVOptions {
		t.Errorf("error = %v, want %s", err, CodeInvalidCSVOptions)
	}
}

func TestIngest_CSVMetadataMerge(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	csvData := "name,city\nalice,lisbon\n"
	res, err := s.IngestDocument(ctx, "acme", "people", "people.csv", []byte(csvData),
		"PPL", map[string]interface{}{"source": "hr"},
		&ingest.CSVOptions{HasHeader: "yes", MetaCols: "city"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 1 {
		t.Fatalf("chunks = %d", res.Chunks)
	}

	out, err := s.Search(ctx, "acme", "people", "alice", 1, nil, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Matches) != 1 {
		t.Fatalf("matches = %d", len(out.Matches))
	}
	meta := out.Matches[0].Meta
	if meta["source"] != "hr" {
		t.Errorf("client metadata missing: %v", meta)
	}
	if meta["city"] != "lisbon" {
		t.Errorf("csv meta column missing: %v", meta)
	}
	if meta["docid"] != "PPL" {
		t.Errorf("docid = %v", meta["docid"])
	}
	if meta["filename"] != "people.csv" {
		t.Errorf("filename = %v", meta["filename"])
	}
	if _, ok := meta["ingested_at"]; !ok {
		t.Error("ingested_at missing")
	}
}

func TestDeleteDocument_Idempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.IngestDocument(ctx, "acme", "docs", "x.txt",
		[]byte("some text"), "D1", nil, nil); err != nil {
		t.Fatal(err)
	}
	res, err := s.DeleteDocument(ctx, "acme", "docs", "D1")
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunksDeleted != 1 {
		t.Errorf("ChunksDeleted = %d, want 1", res.ChunksDeleted)
	}

	res, err = s.DeleteDocument(ctx, "acme", "docs", "D1")
	if err != nil {
		t.Fatalf("deleting absent doc must succeed: %v", err)
	}
	if !res.OK || res.ChunksDeleted != 0 {
		t.Errorf("second delete = %+v, want ok with 0 chunks", res)
	}
}

func TestRename_ErrorMapping(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	if _, err := s.IngestDocument(ctx, "acme", "foo", "x.txt", []byte("t"), "D", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IngestDocument(ctx, "acme", "bar", "x.txt", []byte("t"), "D", nil, nil); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		old, new, wantCode string
	}{
		{"foo", "foo", CodeRenameInvalid},
		{"ghost", "x", CodeCollectionNotFound},
		{"bar", "foo", CodeCollectionConflict},
	}
	for _, tc := range cases {
		_, err := s.RenameCollection("acme", tc.old, tc.new)
		svcErr, ok := err.(*Error)
		if !ok || svcErr.Code != tc.wantCode {
			t.Errorf("rename %s->%s error = %v, want %s", tc.old, tc.new, err, tc.wantCode)
		}
	}

	if _, err := s.RenameCollection("acme", "bar", "baz"); err != nil {
		t.Errorf("valid rename failed: %v", err)
	}
}

func TestListTenantsAndCollections_Sorted(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	for _, c := range []string{"zeta", "alpha", "mid"} {
		if _, err := s.IngestDocument(ctx, "acme", c, "x.txt", []byte("t"), "D", nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.IngestDocument(ctx, "beta", "c1", "x.txt", []byte("t"), "D", nil, nil); err != nil {
		t.Fatal(err)
	}

	colls, err := s.ListCollections("acme")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, name := range want {
		if colls.Collections[i] != name {
			t.Errorf("collections[%d] = %q, want %q", i, colls.Collections[i], name)
		}
	}
	if colls.Count != 3 {
		t.Errorf("count = %d", colls.Count)
	}

	tenants, err := s.ListTenants()
	if err != nil {
		t.Fatal(err)
	}
	if tenants.Count != 2 || tenants.Tenants[0] != "acme" || tenants.Tenants[1] != "beta" {
		t.Errorf("tenants = %+v", tenants)
	}
}

func TestSearch_CommonCollectionFanout(t *testing.T) {
	s := newTestService(t)
	s.CommonEnabled = true
	s.CommonTenant = "_common"
	s.CommonCollection = "shared"
	ctx := context.Background()

	if _, err := s.IngestDocument(ctx, "acme", "docs", "a.txt",
		[]byte("private submarine document"), "PRIV", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.IngestDocument(ctx, "_common", "shared", "b.txt",
		[]byte("shared submarine knowledge"), "COMM", nil, nil); err != nil {
		t.Fatal(err)
	}

	out, err := s.Search(ctx, "acme", "docs", "submarine", 5, nil, true, "")
	if err != nil {
		t.Fatal(err)
	}
	sources := map[string]bool{}
	for _, m := range out.Matches {
		sources[m.Collection] = true
	}
	if !sources["docs"] || !sources["shared"] {
		t.Errorf("fan-out missing a side: %v", sources)
	}
	for i := 1; i < len(out.Matches); i++ {
		if out.Matches[i].Score > out.Matches[i-1].Score {
			t.Error("merged results not ordered by score")
		}
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.IngestDocument(ctx, "tenant", "collection", "doc.txt",
		[]byte("hello endpoint"), "DOC", nil, nil); err != nil {
		t.Fatal(err)
	}

	archivePath, tmpDir, err := s.DumpArchive("")
	if err != nil {
		t.Fatalf("DumpArchive() error: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	content, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatal(err)
	}

	// Wipe everything under data_dir, then restore.
	entries, err := os.ReadDir(s.Store.DataDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.Store.DataDir(), e.Name())); err != nil {
			t.Fatal(err)
		}
	}

	res, err := s.RestoreArchive(content)
	if err != nil {
		t.Fatalf("RestoreArchive() error: %v", err)
	}
	if !res.OK {
		t.Errorf("restore result = %+v", res)
	}

	sidecar := filepath.Join(s.Store.DataDir(), "t_tenant", "c_collection", "chunks", "DOC__chunk_0.txt")
	data, err := os.ReadFile(sidecar)
	if err != nil {
		t.Fatalf("restored sidecar missing: %v", err)
	}
	if string(data) != "hello endpoint" {
		t.Errorf("restored content = %q", data)
	}
}

func TestRestoreArchive_RejectsZipSlip(t *testing.T) {
	s := newTestService(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../escape.txt")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("evil"))
	zw.Close()

	_, rerr := s.RestoreArchive(buf.Bytes())
	svcErr, ok := rerr.(*Error)
	if !ok || svcErr.Code != CodeArchiveInvalid {
		t.Errorf("error = %v, want %s", rerr, CodeArchiveInvalid)
	}

	// Absolute member path
	buf.Reset()
	zw = zip.NewWriter(&buf)
	w, _ = zw.Create("/abs.txt")
	w.Write([]byte("evil"))
	zw.Close()
	_, rerr = s.RestoreArchive(buf.Bytes())
	svcErr, ok = rerr.(*Error)
	if !ok || svcErr.Code != CodeArchiveInvalid {
		t.Errorf("absolute member error = %v, want %s", rerr, CodeArchiveInvalid)
	}
}

func TestRestoreArchive_RejectsGarbage(t *testing.T) {
	s := newTestService(t)
	_, err := s.RestoreArchive([]byte("this is not a zip"))
	svcErr, ok := err.(*Error)
	if !ok || svcErr.Code != CodeArchiveInvalid {
		t.Errorf("error = %v, want %s", err, CodeArchiveInvalid)
	}
}

func TestDumpArchive_MissingDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")
	st := store.New(dir, 512, func(tenant, collection string) (engine.Engine, error) {
		return patchidx.New(64), nil
	})
	ops, _ := opslog.New("")
	s := &Service{Store: st, Metrics: metrics.New(""), Ops: ops}

	_, _, err := s.DumpArchive("")
	svcErr, ok := err.(*Error)
	if !ok || svcErr.Code != CodeDataDirNotFound {
		t.Errorf("error = %v, want %s", err, CodeDataDirNotFound)
	}
}

func TestDumpArchive_PreservesEmptyDirs(t *testing.T) {
	s := newTestService(t)
	empty := filepath.Join(s.Store.DataDir(), "t_acme", "c_blank", "chunks")
	if err := os.MkdirAll(empty, 0o755); err != nil {
		t.Fatal(err)
	}

	archivePath, tmpDir, err := s.DumpArchive("")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	found := false
	for _, f := range r.File {
		if f.Name == "t_acme/c_blank/chunks/" {
			found = true
		}
	}
	if !found {
		t.Error("empty directory entry missing from archive")
	}
}
