// Package embed turns query and passage text into vectors for the
// semantic side of hybrid tiers.
package embed

import (
	"context"
	"math"
)

// StaticDimensions is the vector size produced by StaticEmbedder.
const StaticDimensions = 256

// Embedder produces unit-length vectors. Implementations must be safe for
// concurrent use; tiers embed queries from parallel requests.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// ModelName identifies the model; vectors from different models are
	// never compared.
	ModelName() string
	Close() error
}

// normalizeVector scales v to unit length. A zero vector is returned as is.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
