package tier

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/regsearch/internal/embed"
	"github.com/Aman-CERP/regsearch/internal/store"
)

// Vector is a KNN-only tier over an HNSW index. It backs the enrichment
// pass, reusing the primary tier's stores.
type Vector struct {
	desc     Descriptor
	index    *store.PassageIndex
	vectors  *store.VectorIndex
	embedder embed.Embedder
}

// NewVector builds a vector-only tier. It does not own the stores.
func NewVector(desc Descriptor, index *store.PassageIndex, vectors *store.VectorIndex, embedder embed.Embedder) *Vector {
	desc = withNative(desc, HybridSupportedFilters)
	desc.Capabilities = Capabilities{Vector: true}
	return &Vector{desc: desc, index: index, vectors: vectors, embedder: embedder}
}

// Capabilities implements Adapter.
func (v *Vector) Capabilities() Descriptor { return v.desc }

// Search implements Adapter. Only the Semantic text is used.
func (v *Vector) Search(ctx context.Context, req Request) (*Result, error) {
	native, report, err := Translate(v.desc, req.Filters)
	if err != nil {
		return nil, err
	}
	if req.Semantic == "" {
		return &Result{Filters: report}, nil
	}

	embedding, err := v.embedder.Embed(ctx, req.Semantic)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	k := req.Limit
	if !native.IsZero() {
		k *= vectorOverfetch
	}
	results, err := v.vectors.Search(ctx, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hits, err := vectorHits(ctx, v.desc.Name, v.index, results, native, req.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Hits: hits, Filters: report}, nil
}

// Close is a no-op; the owning hybrid tier closes the stores.
func (v *Vector) Close() error { return nil }
