package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rodrigopitanga/patchvec/internal/engine"
)

// Rename failure modes, mapped to HTTP statuses at the service boundary.
var (
	ErrSameName = errors.New("old and new names are the same")
	ErrNotFound = errors.New("collection does not exist")
	ErrConflict = errors.New("collection already exists")
)

// Record is one chunk handed to IndexRecords. Text must be non-nil to be
// indexed. Meta accepts a mapping, a JSON string, or nil; anything else
// coerces to an empty mapping.
type Record struct {
	ID   string
	Text *string
	Meta interface{}
}

// Match is one search result with its hydrated text and match reason.
type Match struct {
	ID          string                 `json:"id"`
	Score       float64                `json:"score"`
	Text        *string                `json:"text"`
	Tenant      string                 `json:"tenant"`
	Collection  string                 `json:"collection"`
	Meta        map[string]interface{} `json:"meta"`
	MatchReason string                 `json:"match_reason"`
}

type collKey struct{ tenant, collection string }

// Store owns per-collection persistent state: the engine index directory,
// the chunk text sidecars, and the catalog and metadata mappings. All
// mutators and Search serialize on the per-collection lock; the handle map
// has its own mutex because first touches race on it.
type Store struct {
	dataDir       string
	maxQueryChars int
	newEngine     engine.Factory

	locks *lockRegistry

	mu      sync.Mutex
	handles map[collKey]engine.Engine
}

// New creates a Store rooted at dataDir. maxQueryChars bounds the
// similarity term; <= 0 disables truncation.
func New(dataDir string, maxQueryChars int, newEngine engine.Factory) *Store {
	return &Store{
		dataDir:       dataDir,
		maxQueryChars: maxQueryChars,
		newEngine:     newEngine,
		locks:         newLockRegistry(),
		handles:       map[collKey]engine.Engine{},
	}
}

// DataDir returns the root of persistent state.
func (s *Store) DataDir() string { return s.dataDir }

func (s *Store) basePath(tenant, collection string) string {
	return filepath.Join(s.dataDir, "t_"+tenant, "c_"+collection)
}

func (s *Store) indexPath(tenant, collection string) string {
	return filepath.Join(s.basePath(tenant, collection), "index")
}

func (s *Store) catalogPath(tenant, collection string) string {
	return filepath.Join(s.basePath(tenant, collection), "catalog.json")
}

func (s *Store) metaPath(tenant, collection string) string {
	return filepath.Join(s.basePath(tenant, collection), "meta.json")
}

func (s *Store) chunksDir(tenant, collection string) string {
	return filepath.Join(s.basePath(tenant, collection), "chunks")
}

func (s *Store) loadCatalog(tenant, collection string) map[string][]string {
	return loadJSONMap[[]string](s.catalogPath(tenant, collection))
}

func (s *Store) saveCatalog(tenant, collection string, cat map[string][]string) error {
	return saveJSONMap(s.catalogPath(tenant, collection), cat)
}

func (s *Store) loadMeta(tenant, collection string) map[string]map[string]interface{} {
	return loadJSONMap[map[string]interface{}](s.metaPath(tenant, collection))
}

func (s *Store) saveMeta(tenant, collection string, meta map[string]map[string]interface{}) error {
	return saveJSONMap(s.metaPath(tenant, collection), meta)
}

// Lock returns the mutex serializing one collection.
func (s *Store) Lock(tenant, collection string) *sync.Mutex {
	return s.locks.get(lockKey(tenant, collection))
}

// LoadOrInit materializes a collection: creates the on-disk layout and
// loads the persisted index when its marker exists. Absent or corrupt
// index state initializes empty. Idempotent.
func (s *Store) LoadOrInit(tenant, collection string) error {
	key := collKey{tenant, collection}
	s.mu.Lock()
	_, ok := s.handles[key]
	s.mu.Unlock()
	if ok {
		return nil
	}

	base := s.basePath(tenant, collection)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("store.LoadOrInit: %w", err)
	}

	eng, err := s.newEngine(tenant, collection)
	if err != nil {
		return fmt.Errorf("store.LoadOrInit: %w", err)
	}
	if err := eng.Load(s.indexPath(tenant, collection)); err != nil {
		return fmt.Errorf("store.LoadOrInit: %w", err)
	}

	s.mu.Lock()
	if _, ok := s.handles[key]; ok {
		s.mu.Unlock()
		eng.Close()
		return nil
	}
	s.handles[key] = eng
	s.mu.Unlock()
	return nil
}

func (s *Store) handle(tenant, collection string) (engine.Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eng, ok := s.handles[collKey{tenant, collection}]
	return eng, ok
}

// Save persists the collection's index. No-op when the in-memory handle is
// absent.
func (s *Store) Save(tenant, collection string) error {
	eng, ok := s.handle(tenant, collection)
	if !ok {
		return nil
	}
	return eng.Save(s.indexPath(tenant, collection))
}

// DeleteCollection drops the in-memory handle and removes the on-disk
// tree. Engines that keep state outside the collection directory get
// their DropCollection invoked first; a drop failure is logged and does
// not block the local delete. Idempotent.
func (s *Store) DeleteCollection(ctx context.Context, tenant, collection string) error {
	mu := s.Lock(tenant, collection)
	mu.Lock()
	defer mu.Unlock()

	key := collKey{tenant, collection}
	s.mu.Lock()
	eng, ok := s.handles[key]
	delete(s.handles, key)
	s.mu.Unlock()

	if !ok {
		// A cold delete of an existing collection still needs a handle so
		// engines with remote state can drop it.
		if _, err := os.Stat(s.basePath(tenant, collection)); err == nil {
			if created, err := s.newEngine(tenant, collection); err == nil {
				eng, ok = created, true
			}
		}
	}
	if ok {
		if dropper, isDropper := eng.(engine.CollectionDropper); isDropper {
			if err := dropper.DropCollection(ctx); err != nil {
				slog.Warn("engine collection drop failed, continuing",
					"tenant", tenant, "collection", collection, "error", err)
			}
		}
		eng.Close()
	}

	if err := os.RemoveAll(s.basePath(tenant, collection)); err != nil {
		return fmt.Errorf("store.DeleteCollection: %w", err)
	}
	return nil
}

// RenameCollection renames old to new under the tenant. Both collection
// locks are acquired in stable order to avoid deadlock with a concurrent
// rename in the opposite direction.
func (s *Store) RenameCollection(tenant, oldName, newName string) error {
	if oldName == newName {
		return fmt.Errorf("%w: %s", ErrSameName, oldName)
	}

	oldKey := lockKey(tenant, oldName)
	newKey := lockKey(tenant, newName)
	keys := []string{oldKey, newKey}
	sort.Strings(keys)
	first, second := s.locks.get(keys[0]), s.locks.get(keys[1])
	first.Lock()
	defer first.Unlock()
	second.Lock()
	defer second.Unlock()

	oldPath := s.basePath(tenant, oldName)
	newPath := s.basePath(tenant, newName)
	if fi, err := os.Stat(oldPath); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if _, err := os.Stat(newPath); err == nil {
		return fmt.Errorf("%w: %s", ErrConflict, newName)
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("store.RenameCollection: %w", err)
	}

	s.mu.Lock()
	if eng, ok := s.handles[collKey{tenant, oldName}]; ok {
		delete(s.handles, collKey{tenant, oldName})
		s.handles[collKey{tenant, newName}] = eng
	}
	s.mu.Unlock()
	return nil
}

// ListCollections returns names of collections under the tenant that have
// materialized a catalog.json. Empty or malformed catalogs still count;
// existence of the file is the data-layer signal.
func (s *Store) ListCollections(tenant string) []string {
	tenantPath := filepath.Join(s.dataDir, "t_"+tenant)
	entries, err := os.ReadDir(tenantPath)
	if err != nil {
		return []string{}
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "c_") {
			continue
		}
		name := e.Name()[2:]
		if name == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(tenantPath, e.Name(), "catalog.json")); err == nil {
			out = append(out, name)
		}
	}
	return out
}

// ListTenants returns tenant names from t_* directories under dataDir.
func ListTenants(dataDir string) []string {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return []string{}
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "t_") {
			continue
		}
		if name := e.Name()[2:]; name != "" {
			out = append(out, name)
		}
	}
	return out
}

// CollectionLockKeys scans the on-disk tree for every known collection's
// lock key. The archive engine acquires them all for its critical section.
func (s *Store) CollectionLockKeys() []string {
	var keys []string
	for _, tenant := range ListTenants(s.dataDir) {
		tenantPath := filepath.Join(s.dataDir, "t_"+tenant)
		entries, err := os.ReadDir(tenantPath)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasPrefix(e.Name(), "c_") {
				continue
			}
			if coll := e.Name()[2:]; coll != "" {
				keys = append(keys, lockKey(tenant, coll))
			}
		}
	}
	return keys
}

// AcquireAllLocks takes every known collection lock in deterministic order
// and returns the release function (reverse order).
func (s *Store) AcquireAllLocks() func() {
	return s.locks.acquireAll(s.CollectionLockKeys())
}

// HasDoc reports whether the catalog has a non-empty entry for docid.
func (s *Store) HasDoc(tenant, collection, docid string) bool {
	cat := s.loadCatalog(tenant, collection)
	return len(cat[docid]) > 0
}

// PurgeDoc removes every chunk of docid: metadata entries, text sidecars,
// the catalog entry, and engine entries. Engine delete failures are logged
// and non-fatal; catalog and sidecars remain authoritative. Returns the
// number of chunks removed.
func (s *Store) PurgeDoc(ctx context.Context, tenant, collection, docid string) (int, error) {
	mu := s.Lock(tenant, collection)
	mu.Lock()
	defer mu.Unlock()
	return s.purgeDocLocked(ctx, tenant, collection, docid)
}

func (s *Store) purgeDocLocked(ctx context.Context, tenant, collection, docid string) (int, error) {
	cat := s.loadCatalog(tenant, collection)
	meta := s.loadMeta(tenant, collection)
	ids := cat[docid]
	if len(ids) == 0 {
		return 0, nil
	}

	chunksDir := s.chunksDir(tenant, collection)
	for _, id := range ids {
		delete(meta, id)
		_ = os.Remove(filepath.Join(chunksDir, chunkFileName(id)))
	}
	delete(cat, docid)

	if err := s.saveMeta(tenant, collection, meta); err != nil {
		return 0, err
	}
	if err := s.saveCatalog(tenant, collection, cat); err != nil {
		return 0, err
	}

	if err := s.loadOrInitLocked(tenant, collection); err != nil {
		return 0, err
	}
	if eng, ok := s.handle(tenant, collection); ok {
		if err := eng.Delete(ctx, ids); err != nil {
			// Sidecars stay authoritative; searches hydrate text from them.
			slog.Warn("engine delete failed, continuing",
				"tenant", tenant, "collection", collection, "docid", docid, "error", err)
		}
		if err := eng.Save(s.indexPath(tenant, collection)); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// loadOrInitLocked is LoadOrInit for callers already holding the
// collection lock.
func (s *Store) loadOrInitLocked(tenant, collection string) error {
	return s.LoadOrInit(tenant, collection)
}

// IndexRecords normalizes and indexes a document's chunks under the
// collection lock: per-chunk text sidecars, catalog and metadata rewrite,
// engine upsert, index persist. The caller purges first when re-ingesting.
// Returns the number of chunks indexed.
func (s *Store) IndexRecords(ctx context.Context, tenant, collection, docid string, records []Record) (int, error) {
	mu := s.Lock(tenant, collection)
	mu.Lock()
	defer mu.Unlock()

	if err := s.loadOrInitLocked(tenant, collection); err != nil {
		return 0, err
	}
	catalog := s.loadCatalog(tenant, collection)
	metaSide := s.loadMeta(tenant, collection)
	eng, ok := s.handle(tenant, collection)
	if !ok {
		return 0, fmt.Errorf("store.IndexRecords: no engine handle for %s/%s", tenant, collection)
	}

	chunksDir := s.chunksDir(tenant, collection)
	var prepared []engine.Upsert
	var recordIDs []string

	for _, rec := range records {
		if rec.ID == "" || rec.Text == nil {
			continue
		}

		md := coerceMeta(rec.Meta)
		md["docid"] = docid
		safeMeta := engine.SanitizeMeta(md)

		rid := rec.ID
		if !strings.HasPrefix(rid, docid+"::") {
			rid = docid + "::" + rid
		}

		text := *rec.Text
		if err := saveChunkText(chunksDir, rid, text); err != nil {
			return 0, err
		}
		if loaded, ok := loadChunkText(chunksDir, rid); !ok || loaded != text {
			slog.Warn("chunk text round-trip mismatch",
				"chunk_id", rid, "saved", len(text), "loaded", len(loaded))
		}

		metaSide[rid] = safeMeta
		recordIDs = append(recordIDs, rid)
		prepared = append(prepared, engine.Upsert{ID: rid, Text: text, Meta: safeMeta})
	}

	if len(prepared) == 0 {
		return 0, nil
	}

	catalog[docid] = recordIDs
	if err := s.saveCatalog(tenant, collection, catalog); err != nil {
		return 0, err
	}
	if err := s.saveMeta(tenant, collection, metaSide); err != nil {
		return 0, err
	}
	if err := eng.Upsert(ctx, prepared); err != nil {
		return 0, fmt.Errorf("store.IndexRecords: %w", err)
	}
	if err := eng.Save(s.indexPath(tenant, collection)); err != nil {
		return 0, fmt.Errorf("store.IndexRecords: %w", err)
	}
	return len(prepared), nil
}

// coerceMeta brings a record's metadata into mapping form: mappings pass
// through (copied), JSON strings are parsed, anything else becomes empty.
func coerceMeta(meta interface{}) map[string]interface{} {
	switch t := meta.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, v := range t {
			out[k] = v
		}
		return out
	case string:
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(t), &parsed); err == nil {
			return parsed
		}
		return map[string]interface{}{}
	default:
		return map[string]interface{}{}
	}
}

// DropHandles closes and forgets every in-memory engine handle so the
// next touch reloads from disk. The archive engine calls this after a
// restore swaps the on-disk tree.
func (s *Store) DropHandles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, eng := range s.handles {
		eng.Close()
		delete(s.handles, key)
	}
}

// Close shuts down every engine handle. Called once at teardown.
func (s *Store) Close() {
	s.DropHandles()
}
