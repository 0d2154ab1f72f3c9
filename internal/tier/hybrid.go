package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/regsearch/internal/embed"
	"github.com/Aman-CERP/regsearch/internal/store"
)

// vectorOverfetch widens the KNN request so post-filtering by metadata still
// leaves enough candidates.
const vectorOverfetch = 4

// embedBatchSize bounds a single embedding request during Load.
const embedBatchSize = 64

// Hybrid is the primary tier: BM25 over a bleve passage index plus KNN over
// an HNSW index, run concurrently. A failing branch drops its modality.
type Hybrid struct {
	desc     Descriptor
	index    *store.PassageIndex
	vectors  *store.VectorIndex
	embedder embed.Embedder
	logger   *slog.Logger
}

// HybridSupportedFilters are applied natively by the bleve query and by
// post-filtering vector candidates.
var HybridSupportedFilters = []FilterField{
	FilterJurisdiction, FilterDocType, FilterProgram, FilterEffectiveDate,
}

// NewHybrid wires a hybrid tier over open stores. vectors and embedder may
// be nil, in which case the tier is lexical only.
func NewHybrid(desc Descriptor, index *store.PassageIndex, vectors *store.VectorIndex, embedder embed.Embedder, logger *slog.Logger) *Hybrid {
	if logger == nil {
		logger = slog.Default()
	}
	desc = withNative(desc, HybridSupportedFilters)
	desc.Capabilities.Vector = vectors != nil && embedder != nil
	return &Hybrid{
		desc:     desc,
		index:    index,
		vectors:  vectors,
		embedder: embedder,
		logger:   logger.With(slog.String("tier", desc.Name)),
	}
}

// OpenHybrid opens the bleve and HNSW stores under dir.
func OpenHybrid(desc Descriptor, dir string, embedder embed.Embedder, logger *slog.Logger) (*Hybrid, error) {
	index, err := store.OpenPassageIndex(filepath.Join(dir, "passages.bleve"))
	if err != nil {
		return nil, err
	}
	var vectors *store.VectorIndex
	if embedder != nil {
		vectors, err = store.OpenVectorIndex(filepath.Join(dir, "vectors.hnsw"),
			store.VectorConfig{Dimensions: embedder.Dimensions()})
		if err != nil {
			_ = index.Close()
			return nil, err
		}
	}
	return NewHybrid(desc, index, vectors, embedder, logger), nil
}

// Capabilities implements Adapter.
func (h *Hybrid) Capabilities() Descriptor { return h.desc }

// Search implements Adapter.
func (h *Hybrid) Search(ctx context.Context, req Request) (*Result, error) {
	native, report, err := Translate(h.desc, req.Filters)
	if err != nil {
		return nil, err
	}

	var (
		lexical, vector []Hit
		lexErr, vecErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical, lexErr = h.searchLexical(gctx, req, native)
		return nil
	})
	if h.desc.Capabilities.Vector && req.Semantic != "" {
		g.Go(func() error {
			vector, vecErr = h.searchVector(gctx, req, native)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lexErr != nil && (vecErr != nil || !h.desc.Capabilities.Vector) {
		return nil, errors.Join(lexErr, vecErr)
	}
	if lexErr != nil {
		h.logger.Warn("lexical branch failed, returning vector hits only", slog.String("error", lexErr.Error()))
	}
	if vecErr != nil {
		h.logger.Warn("vector branch failed, returning lexical hits only", slog.String("error", vecErr.Error()))
	}

	hits := make([]Hit, 0, len(lexical)+len(vector))
	hits = append(hits, lexical...)
	hits = append(hits, vector...)
	return &Result{Hits: hits, Filters: report}, nil
}

func (h *Hybrid) searchLexical(ctx context.Context, req Request, f store.PassageFilter) ([]Hit, error) {
	fuzziness := 0
	if h.desc.Capabilities.Fuzzy {
		fuzziness = 1
	}
	results, err := h.index.Search(ctx, store.TextQuery{
		Text:      req.Lexical,
		Limit:     req.Limit,
		Fuzziness: fuzziness,
		Filter:    f,
	})
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return textHits(h.desc.Name, ModalityLexical, results), nil
}

func (h *Hybrid) searchVector(ctx context.Context, req Request, f store.PassageFilter) ([]Hit, error) {
	embedding, err := h.embedder.Embed(ctx, req.Semantic)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	k := req.Limit
	if !f.IsZero() {
		k *= vectorOverfetch
	}
	results, err := h.vectors.Search(ctx, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return vectorHits(ctx, h.desc.Name, h.index, results, f, req.Limit)
}

// Load indexes passages into bleve, embeds them into HNSW and saves the
// vector index next to the bleve directory.
func (h *Hybrid) Load(ctx context.Context, passages []*store.Passage) error {
	if err := h.index.Add(ctx, passages); err != nil {
		return err
	}
	if h.vectors == nil {
		return nil
	}
	if err := embedInto(ctx, h.embedder, h.vectors, passages); err != nil {
		return err
	}
	if path := h.vectors.Path(); path != "" {
		return h.vectors.Save(path)
	}
	return nil
}

// Close implements Adapter.
func (h *Hybrid) Close() error {
	var errs []error
	if h.vectors != nil {
		errs = append(errs, h.vectors.Close())
	}
	errs = append(errs, h.index.Close())
	return errors.Join(errs...)
}

// VectorOnly returns an adapter over this tier's HNSW index alone, used as
// the enrichment pass. It shares the stores, so closing it is a no-op.
func (h *Hybrid) VectorOnly(desc Descriptor) (*Vector, error) {
	if h.vectors == nil || h.embedder == nil {
		return nil, fmt.Errorf("tier %s has no vector index", h.desc.Name)
	}
	return NewVector(desc, h.index, h.vectors, h.embedder), nil
}

func textHits(tierName string, modality Modality, results []*store.TextResult) []Hit {
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			DocumentID:  r.ID,
			Tier:        tierName,
			Modality:    modality,
			NativeScore: r.Score,
			Snippet:     r.Snippet,
			Metadata:    MetadataFrom(r.Passage),
		})
	}
	return hits
}

// vectorHits resolves metadata for KNN results, drops candidates failing
// the filter and keeps at most limit hits in similarity order.
func vectorHits(ctx context.Context, tierName string, index *store.PassageIndex, results []*store.VectorResult, f store.PassageFilter, limit int) ([]Hit, error) {
	if len(results) == 0 {
		return nil, nil
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	passages, err := index.Lookup(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("vector metadata lookup: %w", err)
	}

	hits := make([]Hit, 0, min(limit, len(results)))
	for _, r := range results {
		p := passages[r.ID]
		if !f.IsZero() && !f.Matches(p) {
			continue
		}
		var snippet string
		if p != nil {
			snippet = store.MakeSnippet(p.Text, nil)
		}
		hits = append(hits, Hit{
			DocumentID:  r.ID,
			Tier:        tierName,
			Modality:    ModalityVector,
			NativeScore: float64(r.Score),
			Snippet:     snippet,
			Metadata:    MetadataFrom(p),
		})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// embedInto embeds passages in batches and adds them to the vector index.
func embedInto(ctx context.Context, embedder embed.Embedder, vectors *store.VectorIndex, passages []*store.Passage) error {
	for start := 0; start < len(passages); start += embedBatchSize {
		end := min(start+embedBatchSize, len(passages))
		batch := passages[start:end]

		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
			texts[i] = p.Title + "\n" + p.Text
		}
		embeddings, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed passages %d-%d: %w", start, end, err)
		}
		if err := vectors.Add(ctx, ids, embeddings); err != nil {
			return err
		}
	}
	return nil
}
