package tier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/Aman-CERP/regsearch/internal/store"
)

// GraphSupportedFilters are the fields a citation graph tier can apply.
// Program and effective date are not carried on traversal results.
var GraphSupportedFilters = []FilterField{FilterJurisdiction, FilterDocType}

// Graph is a citation-expansion tier. Lexical seeds from a bleve index are
// expanded along citation edges; a neighbour scores its seed's score times
// decay per hop.
type Graph struct {
	desc  Descriptor
	index *store.PassageIndex
	graph *store.CitationGraph
	depth int
	decay float64
}

// NewGraph wires a graph tier over open stores.
func NewGraph(desc Descriptor, index *store.PassageIndex, graph *store.CitationGraph, depth int, decay float64) *Graph {
	desc = withNative(desc, GraphSupportedFilters)
	desc.Capabilities.GraphTraversal = true
	return &Graph{desc: desc, index: index, graph: graph, depth: depth, decay: decay}
}

// OpenGraph opens the seed index and graph database under dir.
func OpenGraph(desc Descriptor, dir string, depth int, decay float64) (*Graph, error) {
	index, err := store.OpenPassageIndex(filepath.Join(dir, "seeds.bleve"))
	if err != nil {
		return nil, err
	}
	graph, err := store.OpenCitationGraph(filepath.Join(dir, "citations.db"))
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	return NewGraph(desc, index, graph, depth, decay), nil
}

// Capabilities implements Adapter.
func (g *Graph) Capabilities() Descriptor { return g.desc }

// Search implements Adapter.
func (g *Graph) Search(ctx context.Context, req Request) (*Result, error) {
	native, report, err := Translate(g.desc, req.Filters)
	if err != nil {
		return nil, err
	}

	seeds, err := g.index.Search(ctx, store.TextQuery{
		Text:   req.Lexical,
		Limit:  req.Limit,
		Filter: native,
	})
	if err != nil {
		return nil, fmt.Errorf("graph seed search: %w", err)
	}
	hits := textHits(g.desc.Name, ModalityLexical, seeds)
	if len(seeds) == 0 {
		return &Result{Hits: hits, Filters: report}, nil
	}

	starts := make([]store.Seed, len(seeds))
	for i, s := range seeds {
		starts[i] = store.Seed{ID: s.ID, Score: s.Score}
	}
	reached, err := g.graph.Walk(ctx, starts, g.depth, g.decay)
	if err != nil {
		return nil, fmt.Errorf("citation walk: %w", err)
	}

	ids := make([]string, len(reached))
	for i, r := range reached {
		ids[i] = r.ID
	}
	nodes, err := g.graph.Nodes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("citation nodes: %w", err)
	}

	for _, r := range reached {
		p, ok := nodes[r.ID]
		if !ok {
			// cited but never loaded
			continue
		}
		if !native.IsZero() && !native.Matches(p) {
			continue
		}
		hits = append(hits, Hit{
			DocumentID:  r.ID,
			Tier:        g.desc.Name,
			Modality:    ModalityLexical,
			NativeScore: r.Score,
			Snippet:     store.MakeSnippet(p.Text, nil),
			Metadata:    MetadataFrom(p),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].NativeScore > hits[j].NativeScore
	})
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return &Result{Hits: hits, Filters: report}, nil
}

// Load indexes passages for seeding and records their citations.
func (g *Graph) Load(ctx context.Context, passages []*store.Passage) error {
	if err := g.index.Add(ctx, passages); err != nil {
		return err
	}
	return g.graph.Add(ctx, passages)
}

// Close implements Adapter.
func (g *Graph) Close() error {
	return errors.Join(g.graph.Close(), g.index.Close())
}
