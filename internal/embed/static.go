package embed

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/Aman-CERP/regsearch/internal/store"
)

// StaticEmbedder hashes words and character trigrams into a fixed-size
// vector. It is deterministic and needs no network, so it backs local
// fixtures and tests. Similarity reflects shared vocabulary only.
type StaticEmbedder struct {
	closed atomic.Bool
}

var staticStopWords = store.BuildStopWordMap(store.DefaultLegalStopWords)

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed returns the unit-length vector for text. Text with no content
// words yields the zero vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("embedder is closed")
	}
	return normalizeVector(hashVector(store.Tokenize(text))), nil
}

func hashVector(tokens []string) []float32 {
	vector := make([]float32, StaticDimensions)
	for _, token := range tokens {
		if _, stop := staticStopWords[token]; stop {
			continue
		}
		vector[bucket(token)] += tokenWeight

		// Trigrams let "insurance" and "insurable" share mass.
		runes := []rune(token)
		for i := 0; i+ngramSize <= len(runes); i++ {
			vector[bucket(string(runes[i:i+ngramSize]))] += ngramWeight
		}
	}
	return vector
}

func bucket(s string) int {
	return int(xxhash.Sum64String(s) % StaticDimensions)
}

// EmbedBatch embeds each text in turn.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

func (e *StaticEmbedder) ModelName() string { return "static" }

// Close marks the embedder closed. Later calls to Embed fail.
func (e *StaticEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}
