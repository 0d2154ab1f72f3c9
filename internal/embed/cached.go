package embed

import (
	"context"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the number of query vectors kept when the
// configured size is not positive.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder keeps recent vectors in an LRU. The engine's result cache
// only helps identical requests; this one also helps the same text sent
// with different filters, and passages re-embedded on reload.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[uint64, []float32]
	seed   uint64
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats counts lookups since creation.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// NewCachedEmbedder wraps inner with a cache of cacheSize vectors.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[uint64, []float32](cacheSize)
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
		seed:  xxhash.Sum64String(inner.ModelName()),
	}
}

// key mixes in the model name so a model switch never reuses vectors.
func (c *CachedEmbedder) key(text string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(text)
	return d.Sum64() ^ c.seed
}

func (c *CachedEmbedder) lookup(k uint64) ([]float32, bool) {
	vec, ok := c.cache.Get(k)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return vec, ok
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if vec, ok := c.lookup(k); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, vec)
	return vec, nil
}

// EmbedBatch sends only the uncached texts to the inner embedder, in a
// single call.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	keys := make([]uint64, len(texts))
	var missing []int
	var missTexts []string

	for i, text := range texts {
		keys[i] = c.key(text)
		if vec, ok := c.lookup(keys[i]); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, i)
		missTexts = append(missTexts, text)
	}
	if len(missing) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missing {
		results[i] = fresh[j]
		c.cache.Add(keys[i], fresh[j])
	}
	return results, nil
}

// Stats reports cache hits and misses.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *CachedEmbedder) Dimensions() int   { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }
func (c *CachedEmbedder) Close() error      { return c.inner.Close() }
