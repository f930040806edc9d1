package factory

import (
	"fmt"

	"github.com/rodrigopitanga/patchvec/internal/config"
	"github.com/rodrigopitanga/patchvec/internal/engine"
	"github.com/rodrigopitanga/patchvec/internal/engine/patchidx"
	"github.com/rodrigopitanga/patchvec/internal/engine/qdranteng"
)

// FromConfig resolves vector_store.type to an engine factory. The returned
// closer releases shared resources (the qdrant gRPC client); for the
// embedded engine it is a no-op.
func FromConfig(cfg *config.Config) (engine.Factory, func() error, error) {
	switch cfg.VectorStore.Type {
	case "", "default":
		dims := cfg.VectorStore.Patchidx.Dimensions
		factory := func(tenant, collection string) (engine.Engine, error) {
			return patchidx.New(dims), nil
		}
		return factory, func() error { return nil }, nil

	case "qdrant":
		client, err := qdranteng.Dial(cfg.VectorStore.Qdrant.URL, cfg.VectorStore.Qdrant.APIKey)
		if err != nil {
			return nil, nil, err
		}
		dims := cfg.VectorStore.Patchidx.Dimensions
		factory := func(tenant, collection string) (engine.Engine, error) {
			return qdranteng.New(client, tenant, collection, dims)
		}
		return factory, client.Close, nil
	}
	return nil, nil, fmt.Errorf("factory.FromConfig: unknown vector_store.type %q", cfg.VectorStore.Type)
}
