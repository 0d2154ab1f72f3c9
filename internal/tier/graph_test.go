package tier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := OpenGraph(testDescriptor("graph", PolicyIgnore), t.TempDir(), 2, 0.5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	require.NoError(t, g.Load(context.Background(), testPassages()))
	return g
}

func TestGraph_Search_ExpandsAlongCitations(t *testing.T) {
	// Given: cpp-42 cites eia-7, which cites eir-14
	g := newTestGraph(t)

	// When: a query matches only cpp-42
	res, err := g.Search(context.Background(), Request{Lexical: "disability", Limit: 10})

	// Then: cited passages follow with decayed scores
	require.NoError(t, err)
	assert.Equal(t, []string{"cpp-42", "eia-7", "eir-14"}, hitIDs(res.Hits))
	seed := res.Hits[0].NativeScore
	assert.InDelta(t, seed*0.5, res.Hits[1].NativeScore, 1e-9)
	assert.InDelta(t, seed*0.25, res.Hits[2].NativeScore, 1e-9)
	assert.Equal(t, "EIA s. 7", res.Hits[1].Metadata.Citation)
	assert.True(t, g.Capabilities().Capabilities.GraphTraversal)
}

func TestGraph_Search_FiltersReachedNodes(t *testing.T) {
	g := newTestGraph(t)

	res, err := g.Search(context.Background(), Request{
		Lexical: "disability",
		Filters: Filters{DocType: "statute"},
		Limit:   10,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"cpp-42", "eia-7"}, hitIDs(res.Hits))
}

func TestGraph_Search_IgnoresProgramFilter(t *testing.T) {
	g := newTestGraph(t)

	res, err := g.Search(context.Background(), Request{
		Lexical: "disability",
		Filters: Filters{Program: "CPP"},
		Limit:   10,
	})

	require.NoError(t, err)
	assert.Len(t, res.Hits, 3)
	assert.Equal(t, []FilterField{FilterProgram}, res.Filters.Ignored())
}

func TestGraph_Search_RespectsLimit(t *testing.T) {
	g := newTestGraph(t)

	res, err := g.Search(context.Background(), Request{Lexical: "disability", Limit: 2})

	require.NoError(t, err)
	assert.Len(t, res.Hits, 2)
}

func TestGraph_Search_NoSeedsNoHits(t *testing.T) {
	g := newTestGraph(t)

	res, err := g.Search(context.Background(), Request{Lexical: "zoning", Limit: 10})

	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}
