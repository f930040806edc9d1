package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/rodrigopitanga/patchvec/internal/ingest"
	"github.com/rodrigopitanga/patchvec/internal/metrics"
	"github.com/rodrigopitanga/patchvec/internal/opslog"
	"github.com/rodrigopitanga/patchvec/internal/store"
)

// Service wires the collection store to metrics and the ops log and
// implements the core operations behind the HTTP and CLI surfaces.
type Service struct {
	Store   *store.Store
	Metrics *metrics.Registry
	Ops     *opslog.Sink

	TxtChunkSize    int
	TxtChunkOverlap int

	CommonEnabled    bool
	CommonTenant     string
	CommonCollection string
}

// CollectionResult acknowledges create.
type CollectionResult struct {
	OK         bool   `json:"ok"`
	Tenant     string `json:"tenant"`
	Collection string `json:"collection"`
}

// DeleteCollectionResult acknowledges delete.
type DeleteCollectionResult struct {
	OK      bool   `json:"ok"`
	Tenant  string `json:"tenant"`
	Deleted string `json:"deleted"`
}

// RenameResult acknowledges rename.
type RenameResult struct {
	OK      bool   `json:"ok"`
	Tenant  string `json:"tenant"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

// DeleteDocumentResult reports how many chunks a document purge removed.
type DeleteDocumentResult struct {
	OK            bool   `json:"ok"`
	Tenant        string `json:"tenant"`
	Collection    string `json:"collection"`
	Docid         string `json:"docid"`
	ChunksDeleted int    `json:"chunks_deleted"`
}

// IngestResult reports the indexed chunk count.
type IngestResult struct {
	OK         bool   `json:"ok"`
	Tenant     string `json:"tenant"`
	Collection string `json:"collection"`
	Docid      string `json:"docid"`
	Chunks     int    `json:"chunks"`
}

// SearchResult is the search envelope body.
type SearchResult struct {
	Matches   []store.Match `json:"matches"`
	LatencyMS float64       `json:"latency_ms"`
	RequestID string        `json:"request_id,omitempty"`
}

// TenantsResult lists tenants alphabetically.
type TenantsResult struct {
	OK      bool     `json:"ok"`
	Tenants []string `json:"tenants"`
	Count   int      `json:"count"`
}

// CollectionsResult lists a tenant's collections alphabetically.
type CollectionsResult struct {
	OK          bool     `json:"ok"`
	Tenant      string   `json:"tenant"`
	Collections []string `json:"collections"`
	Count       int      `json:"count"`
}

// CreateCollection materializes a collection and persists its empty index.
// Creating an existing collection is success without state change.
func (s *Service) CreateCollection(tenant, name string) (CollectionResult, error) {
	if err := s.Store.LoadOrInit(tenant, name); err != nil {
		return CollectionResult{}, E(CodeCreateCollectionFailed, err.Error())
	}
	if err := s.Store.Save(tenant, name); err != nil {
		return CollectionResult{}, E(CodeCreateCollectionFailed, err.Error())
	}
	s.Metrics.Inc("collections_created_total", 1)
	return CollectionResult{OK: true, Tenant: tenant, Collection: name}, nil
}

// DeleteCollection removes a collection. Idempotent.
func (s *Service) DeleteCollection(ctx context.Context, tenant, name string) (DeleteCollectionResult, error) {
	if err := s.Store.DeleteCollection(ctx, tenant, name); err != nil {
		return DeleteCollectionResult{}, E(CodeDeleteCollectionFailed, err.Error())
	}
	s.Metrics.Inc("collections_deleted_total", 1)
	return DeleteCollectionResult{OK: true, Tenant: tenant, Deleted: name}, nil
}

// RenameCollection renames old to new, mapping store failures onto the
// typed taxonomy.
func (s *Service) RenameCollection(tenant, oldName, newName string) (RenameResult, error) {
	err := s.Store.RenameCollection(tenant, oldName, newName)
	switch {
	case err == nil:
		s.Metrics.Inc("collections_renamed_total", 1)
		return RenameResult{OK: true, Tenant: tenant, OldName: oldName, NewName: newName}, nil
	case errors.Is(err, store.ErrSameName):
		return RenameResult{}, E(CodeRenameInvalid, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return RenameResult{}, E(CodeCollectionNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		return RenameResult{}, E(CodeCollectionConflict, err.Error())
	default:
		return RenameResult{}, E(CodeRenameFailed, err.Error())
	}
}

// DeleteDocument purges a document. Deleting an absent document is success
// with a zero count.
func (s *Service) DeleteDocument(ctx context.Context, tenant, collection, docid string) (DeleteDocumentResult, error) {
	purged := 0
	if s.Store.HasDoc(tenant, collection, docid) {
		n, err := s.Store.PurgeDoc(ctx, tenant, collection, docid)
		if err != nil {
			return DeleteDocumentResult{}, E(CodeDeleteDocumentFailed, err.Error())
		}
		purged = n
		s.Metrics.Inc("purge_total", float64(n))
		s.Metrics.Inc("documents_deleted_total", 1)
	}
	return DeleteDocumentResult{
		OK: true, Tenant: tenant, Collection: collection,
		Docid: docid, ChunksDeleted: purged,
	}, nil
}

// IngestDocument runs the ingestion pipeline: docid resolution, purge of a
// pre-existing document, chunking by extension, record assembly, and the
// store upsert. Re-ingest is a whole-document replace.
func (s *Service) IngestDocument(ctx context.Context, tenant, collection, filename string, content []byte,
	docid string, metadata map[string]interface{}, csvOpts *ingest.CSVOptions) (IngestResult, error) {

	start := time.Now()
	defer func() {
		s.Metrics.RecordLatency("ingest", elapsedMS(start))
	}()

	baseid := docid
	if baseid == "" {
		baseid = ingest.DefaultDocid(filename)
	}

	if s.Store.HasDoc(tenant, collection, baseid) {
		purged, err := s.Store.PurgeDoc(ctx, tenant, collection, baseid)
		if err != nil {
			return IngestResult{}, E(CodeIngestFailed, err.Error())
		}
		s.Metrics.Inc("purge_total", float64(purged))
	}

	chunks, err := ingest.Preprocess(filename, content, s.TxtChunkSize, s.TxtChunkOverlap, csvOpts)
	if err != nil {
		// Chunker rejections are client errors, surfaced before any worker
		// touches the store.
		if errors.Is(err, ingest.ErrInvalidCSVOptions) || errors.Is(err, ingest.ErrUnsupportedType) {
			return IngestResult{}, E(CodeInvalidCSVOptions, err.Error())
		}
		return IngestResult{}, E(CodeIngestFailed, err.Error())
	}

	now := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	var records []store.Record
	for _, chunk := range chunks {
		if chunk.Text == "" {
			continue
		}
		meta := map[string]interface{}{
			"docid":       baseid,
			"filename":    filename,
			"ingested_at": now,
		}
		for k, v := range metadata {
			meta[k] = v
		}
		for k, v := range chunk.Extra {
			meta[k] = v
		}
		text := chunk.Text
		records = append(records, store.Record{
			ID:   baseid + "::" + chunk.LocalID,
			Text: &text,
			Meta: meta,
		})
	}
	if len(records) == 0 {
		return IngestResult{}, E(CodeNoTextExtracted, "no text extracted")
	}

	count, err := s.Store.IndexRecords(ctx, tenant, collection, baseid, records)
	if err != nil {
		return IngestResult{}, E(CodeIngestFailed, err.Error())
	}
	s.Metrics.Inc("documents_indexed_total", 1)
	s.Metrics.Inc("chunks_indexed_total", float64(count))

	slog.Info("ingest",
		"tenant", tenant, "collection", collection,
		"docid", baseid, "chunks", count, "ms", elapsedMS(start))
	return IngestResult{
		OK: true, Tenant: tenant, Collection: collection,
		Docid: baseid, Chunks: count,
	}, nil
}

// Search runs the query pipeline against one collection, optionally fanned
// out over the common collection, and assembles the envelope body.
func (s *Service) Search(ctx context.Context, tenant, collection, q string, k int,
	filters map[string]interface{}, includeCommon bool, requestID string) (SearchResult, error) {

	start := time.Now()
	s.Metrics.Inc("search_total", 1)

	var top []store.Match
	if includeCommon && s.CommonTenant != "" && s.CommonCollection != "" {
		perSide := 2 * k
		if perSide < 10 {
			perSide = 10
		}
		matches, err := s.Store.Search(ctx, tenant, collection, q, perSide, filters)
		if err != nil {
			return SearchResult{}, E(CodeSearchFailed, err.Error())
		}
		common, err := s.Store.Search(ctx, s.CommonTenant, s.CommonCollection, q, perSide, filters)
		if err != nil {
			return SearchResult{}, E(CodeSearchFailed, err.Error())
		}
		merged := append(matches, common...)
		// Raw scores, no cross-collection normalization.
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
		if len(merged) > k {
			merged = merged[:k]
		}
		top = merged
	} else {
		matches, err := s.Store.Search(ctx, tenant, collection, q, k, filters)
		if err != nil {
			return SearchResult{}, E(CodeSearchFailed, err.Error())
		}
		top = matches
	}

	latency := elapsedMS(start)
	s.Metrics.Inc("matches_total", float64(len(top)))
	s.Metrics.RecordLatency("search", latency)

	logArgs := []interface{}{
		"tenant", tenant, "collection", collection,
		"k", k, "hits", len(top), "ms", latency,
	}
	if len(top) > 0 {
		best := top[0]
		preview := ""
		if best.Text != nil {
			preview = *best.Text
			if len(preview) > 60 {
				preview = preview[:60] + "..."
			}
		}
		logArgs = append(logArgs, "top", fmt.Sprintf("[%s %.3f] %q", best.ID, best.Score, preview))
	}
	if requestID != "" {
		logArgs = append(logArgs, "req", requestID)
	}
	slog.Info("search", logArgs...)

	if top == nil {
		top = []store.Match{}
	}
	return SearchResult{Matches: top, LatencyMS: latency, RequestID: requestID}, nil
}

// ListTenants returns tenants alphabetically.
func (s *Service) ListTenants() (TenantsResult, error) {
	tenants := store.ListTenants(s.Store.DataDir())
	sort.Strings(tenants)
	return TenantsResult{OK: true, Tenants: tenants, Count: len(tenants)}, nil
}

// ListCollections returns a tenant's collections alphabetically.
func (s *Service) ListCollections(tenant string) (CollectionsResult, error) {
	colls := s.Store.ListCollections(tenant)
	if colls == nil {
		colls = []string{}
	}
	sort.Strings(colls)
	return CollectionsResult{
		OK: true, Tenant: tenant, Collections: colls, Count: len(colls),
	}, nil
}

func elapsedMS(start time.Time) float64 {
	return math.Round(float64(time.Since(start).Microseconds())/10) / 100
}
