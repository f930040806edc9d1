package engine

import (
	"context"
)

// Upsert is one full record handed to the engine: the chunk id, the text to
// embed and store, and the sanitized metadata columns available to
// pre-filters.
type Upsert struct {
	ID   string
	Text string
	Meta map[string]interface{}
}

// Hit is one normalized engine result. Text is nil when the engine did not
// return stored content; the caller hydrates via Lookup or the text
// sidecars.
type Hit struct {
	ID    string
	Score float64
	Text  *string
}

// PreTerm is one pre-filter condition on a field: exact equality, or
// negation when Negate is set (compiled to <> in SQL dialects).
type PreTerm struct {
	Value  string
	Negate bool
}

// PreFilter maps sanitized field names to OR-joined terms. Fields AND
// together.
type PreFilter map[string][]PreTerm

// PostFilter maps sanitized field names to OR-joined extended conditions
// (wildcards and comparators) evaluated after retrieval.
type PostFilter map[string][]string

// Request is a similarity search against one collection index. Query is
// already sanitized and truncated by the caller; Limit is the overfetch
// count.
type Request struct {
	Query string
	Limit int
	Pre   PreFilter
}

// Factory creates the Engine handle backing one (tenant, collection).
type Factory func(tenant, collection string) (Engine, error)

// CollectionDropper is implemented by engines whose index state lives
// outside the collection directory. The store invokes it when a
// collection is deleted, before closing the handle, so remote state does
// not outlive the local tree.
type CollectionDropper interface {
	DropCollection(ctx context.Context) error
}

// Engine is the per-collection index capability: embedding-driven
// similarity search with metadata pre-filtering, full-record upserts,
// id-based delete and lookup, and save/load of the on-disk index. One
// Engine value backs one (tenant, collection).
//
// Implementations are not required to be safe for concurrent use; the
// collection store serializes access under the per-collection lock.
type Engine interface {
	// Load restores a persisted index from dir. A missing or empty index
	// directory initializes empty; corrupt state is replaced with an empty
	// index, never a failure.
	Load(dir string) error
	// Save persists the index into dir.
	Save(dir string) error
	Upsert(ctx context.Context, recs []Upsert) error
	Delete(ctx context.Context, ids []string) error
	// Lookup returns stored text by id for the ids the engine knows.
	Lookup(ctx context.Context, ids []string) (map[string]string, error)
	Search(ctx context.Context, req Request) ([]Hit, error)
	Close() error
}
