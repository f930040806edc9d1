package qdranteng

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/rodrigopitanga/patchvec/internal/engine"
	"github.com/rodrigopitanga/patchvec/internal/engine/patchidx"
)

// Qdrant only accepts UUIDs and positive integers as point ids, so chunk
// ids are mapped to deterministic UUIDv5 values with the original id kept
// in the payload.
const payloadIDField = "_original_id"
const payloadTextField = "_text"

const manifestFile = "qdrant.json"

// Index adapts one qdrant collection to the engine capability. Embeddings
// are produced locally by the shared hash embedder so the service carries
// no external model dependency; vector state lives server-side while text
// and metadata sidecars on disk stay authoritative.
type Index struct {
	client     *qdrant.Client
	collection string
	embedder   *patchidx.Embedder
}

var _ engine.Engine = (*Index)(nil)

type manifest struct {
	Collection string `json:"collection"`
	Dimensions int    `json:"dimensions"`
}

// Dial parses a DSN of the form http(s)://host:port (gRPC port, 6334 by
// default) and returns a connected client. An API key may ride along as a
// query parameter or be passed explicitly.
func Dial(dsn, apiKey string) (*qdrant.Client, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdranteng.Dial: parse DSN: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("qdranteng.Dial: invalid port: %w", err)
		}
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey == "" {
		apiKey = parsed.Query().Get("api_key")
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdranteng.Dial: %w", err)
	}
	return client, nil
}

// New binds a handle for one (tenant, collection) pair to the server-side
// collection pv_<tenant>__<collection>, creating it on first use.
func New(client *qdrant.Client, tenant, collection string, dims int) (*Index, error) {
	idx := &Index{
		client:     client,
		collection: fmt.Sprintf("pv_%s__%s", tenant, collection),
		embedder:   patchidx.NewEmbedder(dims),
	}
	if err := idx.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	return idx, nil
}

func (x *Index) ensureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("qdranteng: check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(x.embedder.Dimensions()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdranteng: create collection: %w", err)
	}
	return nil
}

// Load reads the local manifest. Vector state is server-side, so a missing
// manifest simply means the handle starts fresh.
func (x *Index) Load(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil
	}
	var m manifest
	_ = json.Unmarshal(data, &m)
	return nil
}

// Save writes the local manifest marking the collection as materialized.
func (x *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("qdranteng.Save: %w", err)
	}
	data, err := json.Marshal(manifest{Collection: x.collection, Dimensions: x.embedder.Dimensions()})
	if err != nil {
		return fmt.Errorf("qdranteng.Save: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("qdranteng.Save: %w", err)
	}
	return nil
}

func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// Upsert writes full records: vector from the local embedder, metadata and
// text in the payload.
func (x *Index) Upsert(ctx context.Context, recs []engine.Upsert) error {
	points := make([]*qdrant.PointStruct, 0, len(recs))
	for _, rec := range recs {
		if rec.ID == "" {
			continue
		}
		payload := make(map[string]interface{}, len(rec.Meta)+2)
		for k, v := range rec.Meta {
			payload[k] = v
		}
		payload[payloadIDField] = rec.ID
		payload[payloadTextField] = rec.Text

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(rec.ID)),
			Vectors: qdrant.NewVectorsDense(x.embedder.Embed(rec.Text)),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdranteng.Upsert: %w", err)
	}
	return nil
}

// Delete removes points by chunk id.
func (x *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pointID(id)))
	}
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdranteng.Delete: %w", err)
	}
	return nil
}

// Lookup retrieves stored text from point payloads.
func (x *Index) Lookup(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pointID(id)))
	}
	points, err := x.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: x.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdranteng.Lookup: %w", err)
	}
	out := make(map[string]string, len(points))
	for _, pt := range points {
		if pt.Payload == nil {
			continue
		}
		id := pt.Payload[payloadIDField].GetStringValue()
		if id == "" {
			continue
		}
		out[id] = pt.Payload[payloadTextField].GetStringValue()
	}
	return out, nil
}

// Search queries the server with pre-filter terms compiled to qdrant
// match conditions: equalities into Must (several values of one field
// become a single match-any keywords condition), negations into MustNot.
func (x *Index) Search(ctx context.Context, req engine.Request) ([]engine.Hit, error) {
	var filter *qdrant.Filter
	if len(req.Pre) > 0 {
		filter = &qdrant.Filter{}
		for field, terms := range req.Pre {
			var equals []string
			for _, term := range terms {
				if term.Negate {
					filter.MustNot = append(filter.MustNot, qdrant.NewMatch(field, term.Value))
					continue
				}
				equals = append(equals, term.Value)
			}
			if len(equals) == 1 {
				filter.Must = append(filter.Must, qdrant.NewMatch(field, equals[0]))
			} else if len(equals) > 1 {
				filter.Must = append(filter.Must, qdrant.NewMatchKeywords(field, equals...))
			}
		}
	}

	limit := uint64(req.Limit)
	if limit == 0 {
		limit = 10
	}
	results, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQueryDense(x.embedder.Embed(req.Query)),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdranteng.Search: %w", err)
	}

	hits := make([]engine.Hit, 0, len(results))
	for _, hit := range results {
		id := ""
		var text *string
		if hit.Payload != nil {
			id = hit.Payload[payloadIDField].GetStringValue()
			if tv, ok := hit.Payload[payloadTextField]; ok {
				s := tv.GetStringValue()
				text = &s
			}
		}
		if id == "" {
			id = hit.Id.GetUuid()
		}
		hits = append(hits, engine.Hit{ID: id, Score: float64(hit.Score), Text: text})
	}
	return hits, nil
}

// Close is a no-op: the gRPC client is shared across collection handles
// and owned by the factory.
func (x *Index) Close() error { return nil }

// DropCollection removes the server-side collection when the local
// collection tree is deleted. An already-absent collection is success.
func (x *Index) DropCollection(ctx context.Context) error {
	if err := x.client.DeleteCollection(ctx, x.collection); err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return nil
		}
		return fmt.Errorf("qdranteng.DropCollection: %w", err)
	}
	return nil
}

var _ engine.CollectionDropper = (*Index)(nil)
