package patchidx

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/coder/hnsw"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rodrigopitanga/patchvec/internal/engine"
)

// File names under a collection's index directory. graphFile doubles as the
// index marker: a collection whose index directory lacks it starts fresh.
const (
	graphFile   = "embeddings"
	recordsFile = "records.gob"

	queryCacheSize = 1024
)

func init() {
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

// payload is the stored record for one chunk id: the text returned by
// Lookup and the sanitized metadata evaluated by pre-filters.
type payload struct {
	Text string
	Meta map[string]interface{}
}

// persisted carries everything except the graph itself; the graph is
// exported separately via coder/hnsw's own format.
type persisted struct {
	IDMap    map[string]uint64
	NextKey  uint64
	Payloads map[string]payload
	Dims     int
}

// Index is the embedded engine: a coder/hnsw cosine graph over hash-based
// embeddings plus an in-memory payload table, persisted under the
// collection's index directory. Access is serialized by the collection
// store's per-collection lock.
type Index struct {
	embedder *Embedder
	graph    *hnsw.Graph[uint64]

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	payloads map[string]payload

	queryCache *lru.Cache[string, []float32]
}

var _ engine.Engine = (*Index)(nil)

// New creates an empty embedded engine with the given dimensionality.
func New(dims int) *Index {
	cache, _ := lru.New[string, []float32](queryCacheSize)
	return &Index{
		embedder:   NewEmbedder(dims),
		graph:      newGraph(),
		idMap:      map[string]uint64{},
		keyMap:     map[uint64]string{},
		payloads:   map[string]payload{},
		queryCache: cache,
	}
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 40
	g.Ml = 0.25
	return g
}

// Load restores the index from dir. A missing marker file means "start
// fresh"; corrupt state is logged and replaced with an empty index.
func (x *Index) Load(dir string) error {
	marker := filepath.Join(dir, graphFile)
	if _, err := os.Stat(marker); err != nil {
		return nil
	}
	if err := x.loadFiles(dir); err != nil {
		slog.Warn("corrupt or unreadable index, starting fresh", "dir", dir, "error", err)
		x.resetEmpty()
	}
	return nil
}

func (x *Index) loadFiles(dir string) error {
	rf, err := os.Open(filepath.Join(dir, recordsFile))
	if err != nil {
		return fmt.Errorf("patchidx.Load: %w", err)
	}
	defer rf.Close()
	var p persisted
	if err := gob.NewDecoder(rf).Decode(&p); err != nil {
		return fmt.Errorf("patchidx.Load: decode records: %w", err)
	}

	gf, err := os.Open(filepath.Join(dir, graphFile))
	if err != nil {
		return fmt.Errorf("patchidx.Load: %w", err)
	}
	defer gf.Close()
	graph := newGraph()
	// coder/hnsw Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(gf)); err != nil {
		return fmt.Errorf("patchidx.Load: import graph: %w", err)
	}

	x.graph = graph
	x.idMap = p.IDMap
	x.nextKey = p.NextKey
	x.payloads = p.Payloads
	if p.Dims > 0 {
		x.embedder = NewEmbedder(p.Dims)
	}
	x.keyMap = make(map[uint64]string, len(p.IDMap))
	for id, key := range p.IDMap {
		x.keyMap[key] = id
	}
	return nil
}

func (x *Index) resetEmpty() {
	x.graph = newGraph()
	x.idMap = map[string]uint64{}
	x.keyMap = map[uint64]string{}
	x.nextKey = 0
	x.payloads = map[string]payload{}
	x.queryCache.Purge()
}

// Save persists graph and records into dir via temp files renamed into
// place.
func (x *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("patchidx.Save: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, recordsFile), func(f *os.File) error {
		return gob.NewEncoder(f).Encode(persisted{
			IDMap:    x.idMap,
			NextKey:  x.nextKey,
			Payloads: x.payloads,
			Dims:     x.embedder.Dimensions(),
		})
	}); err != nil {
		return err
	}

	return writeAtomic(filepath.Join(dir, graphFile), func(f *os.File) error {
		return x.graph.Export(f)
	})
}

func writeAtomic(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pvidx-*.tmp")
	if err != nil {
		return fmt.Errorf("patchidx.Save: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("patchidx.Save: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("patchidx.Save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("patchidx.Save: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("patchidx.Save: %w", err)
	}
	return nil
}

// Upsert indexes records, replacing any existing entry with the same id.
// Replacement uses lazy deletion: the old graph node is orphaned rather
// than removed.
func (x *Index) Upsert(_ context.Context, recs []engine.Upsert) error {
	for _, rec := range recs {
		if rec.ID == "" {
			continue
		}
		if oldKey, ok := x.idMap[rec.ID]; ok {
			delete(x.keyMap, oldKey)
			delete(x.idMap, rec.ID)
		}
		key := x.nextKey
		x.nextKey++

		vec := x.embedder.Embed(rec.Text)
		x.graph.Add(hnsw.MakeNode(key, vec))
		x.idMap[rec.ID] = key
		x.keyMap[key] = rec.ID
		x.payloads[rec.ID] = payload{Text: rec.Text, Meta: rec.Meta}
	}
	return nil
}

// Delete removes ids from the mappings; orphaned graph nodes never surface
// in results.
func (x *Index) Delete(_ context.Context, ids []string) error {
	for _, id := range ids {
		if key, ok := x.idMap[id]; ok {
			delete(x.keyMap, key)
			delete(x.idMap, id)
		}
		delete(x.payloads, id)
	}
	return nil
}

// Lookup returns stored text for the known ids.
func (x *Index) Lookup(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if p, ok := x.payloads[id]; ok {
			out[id] = p.Text
		}
	}
	return out, nil
}

// Search runs the structured request: similarity over the graph when the
// query is non-empty, otherwise a metadata scan, with pre-filter terms
// applied either way.
func (x *Index) Search(_ context.Context, req engine.Request) ([]engine.Hit, error) {
	slog.Debug("patchidx search", "sql", engine.RenderSQL(req, nil))

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	if req.Query == "" {
		return x.scan(req, limit), nil
	}

	vec, ok := x.queryCache.Get(req.Query)
	if !ok {
		vec = x.embedder.Embed(req.Query)
		x.queryCache.Add(req.Query, vec)
	}

	if x.graph.Len() == 0 {
		return []engine.Hit{}, nil
	}

	// Ask for extra neighbors so lazily deleted orphans and pre-filter
	// rejections do not starve the limit.
	nodes := x.graph.Search(vec, limit*2)
	hits := make([]engine.Hit, 0, limit)
	for _, node := range nodes {
		id, ok := x.keyMap[node.Key]
		if !ok {
			continue
		}
		p := x.payloads[id]
		if !matchesPre(p.Meta, req.Pre) {
			continue
		}
		score := 1 - float64(x.graph.Distance(vec, node.Value))
		if score < 0 {
			score = 0
		}
		text := p.Text
		hits = append(hits, engine.Hit{ID: id, Score: score, Text: &text})
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// scan returns pre-filter matches with zero scores for filter-only
// queries.
func (x *Index) scan(req engine.Request, limit int) []engine.Hit {
	hits := make([]engine.Hit, 0, limit)
	for id, p := range x.payloads {
		if !matchesPre(p.Meta, req.Pre) {
			continue
		}
		text := p.Text
		hits = append(hits, engine.Hit{ID: id, Score: 0, Text: &text})
		if len(hits) >= limit {
			break
		}
	}
	return hits
}

// matchesPre evaluates equality/negation terms the way the SQL dialect
// would: a missing column satisfies neither form, values OR within a
// field, fields AND together. List-valued metadata matches on any element.
func matchesPre(meta map[string]interface{}, pre engine.PreFilter) bool {
	for field, terms := range pre {
		have := engine.LookupMeta(meta, field)
		if have == nil {
			return false
		}
		matched := false
		for _, term := range terms {
			if matchesTerm(have, term) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func matchesTerm(have interface{}, term engine.PreTerm) bool {
	if list, ok := have.([]interface{}); ok {
		for _, item := range list {
			if equalsString(item, term.Value) != term.Negate {
				return true
			}
		}
		return false
	}
	return equalsString(have, term.Value) != term.Negate
}

func equalsString(have interface{}, want string) bool {
	return fmt.Sprintf("%v", have) == want
}

// Close releases nothing; the index is fully in-memory between Save calls.
func (x *Index) Close() error { return nil }
