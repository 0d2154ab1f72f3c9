package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/regsearch/internal/retrieval"
	"github.com/Aman-CERP/regsearch/internal/tier"
)

const fixturePassages = `{"id": "eia-7", "title": "Qualification for benefits", "citation": "EIA s. 7", "jurisdiction": "federal", "doc_type": "statute", "program": "ei", "effective_date": "2019-01-01", "text": "A claimant qualifies for benefits if they have accumulated the required hours of insurable employment."}
{"id": "eia-12", "title": "Benefit period", "citation": "EIA s. 12", "jurisdiction": "federal", "doc_type": "statute", "program": "ei", "effective_date": "2021-06-01", "text": "Seasonal workers may receive additional weeks of benefits.", "cites": ["eia-7"]}
{"id": "oas-3", "title": "Pension", "citation": "OASA s. 3", "jurisdiction": "federal", "doc_type": "statute", "program": "oas", "effective_date": "2015-01-01", "text": "The pension requires residence in Canada for ten years after age eighteen."}
`

type searchJSON struct {
	Hits []struct {
		DocID string `json:"doc_id"`
	} `json:"hits"`
	TiersUsed []string `json:"tiers_used"`
	Reason    string   `json:"reason"`
	Trace     *struct {
		Attempts []struct {
			Tier string `json:"tier"`
		} `json:"attempts"`
	} `json:"trace"`
}

func loadFixture(t *testing.T, cfgPath string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passages.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(fixturePassages), 0644))
	out, err := execute(t, "--config", cfgPath, "load", path)
	require.NoError(t, err)
	require.Contains(t, out, "Loaded 3 passages into 1 tiers")
}

func TestSearch_LoadThenQuery(t *testing.T) {
	// Given: three passages loaded into a scan-only configuration
	cfgPath := writeConfig(t)
	loadFixture(t, cfgPath)

	// When: searching with JSON output and the trace
	out, err := execute(t, "--config", cfgPath, "search", "seasonal", "benefits", "--format", "json", "--explain")

	// Then: the passage matching both terms ranks first and the pension is absent
	require.NoError(t, err)
	var resp searchJSON
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Hits, 2)
	assert.Equal(t, "eia-12", resp.Hits[0].DocID)
	assert.Equal(t, "eia-7", resp.Hits[1].DocID)
	assert.Equal(t, []string{"scan"}, resp.TiersUsed)
	require.NotNil(t, resp.Trace)
	require.Len(t, resp.Trace.Attempts, 1)
	assert.Equal(t, "scan", resp.Trace.Attempts[0].Tier)
}

func TestSearch_FiltersAndTextOutput(t *testing.T) {
	// Given: loaded passages
	cfgPath := writeConfig(t)
	loadFixture(t, cfgPath)

	// When: searching with a date range that excludes eia-7
	out, err := execute(t, "--config", cfgPath, "search", "benefits", "--from", "2020-01-01")

	// Then: only eia-12 is rendered
	require.NoError(t, err)
	assert.Contains(t, out, "1 results for \"benefits\"")
	assert.Contains(t, out, "eia-12")
	assert.NotContains(t, out, "eia-7 ")
}

func TestSearch_NoMatchIsNotAnError(t *testing.T) {
	cfgPath := writeConfig(t)
	loadFixture(t, cfgPath)

	out, err := execute(t, "--config", cfgPath, "search", "zoning", "--format", "json")

	require.NoError(t, err)
	var resp searchJSON
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Hits)
	assert.Equal(t, string(retrieval.ReasonNoResults), resp.Reason)
}

func TestSearch_ArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no query", []string{"search"}, "a query or --batch is required"},
		{"query and batch", []string{"search", "x", "--batch", "q.jsonl"}, "cannot be combined"},
		{"bad format", []string{"search", "x", "--format", "xml"}, "unknown format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"--config", writeConfig(t)}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSearchOptions_Request(t *testing.T) {
	// Given: filter and weight flags
	opts := searchOptions{limit: 5, jurisdiction: "federal", from: "2020-01-01", lexical: 0.7, vector: 0.3, explain: true}

	// When: building the request
	req := opts.request("ei eligibility")
	pq, err := req.Parsed()

	// Then: flags map onto the parsed query
	require.NoError(t, err)
	assert.Equal(t, "ei eligibility", pq.Text)
	assert.Equal(t, 5, pq.Limit)
	assert.True(t, pq.Explain)
	assert.Equal(t, "federal", pq.SuggestedFilters.Jurisdiction)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), pq.SuggestedFilters.EffectiveFrom)
	require.NotNil(t, pq.Hints)
	assert.Equal(t, retrieval.Weights{Lexical: 0.7, Vector: 0.3}, *pq.Hints)

	// And: no weight flags means no hints
	assert.Nil(t, searchOptions{}.request("x").Hints)
}

// stubRetriever answers with one hit named after the query text.
type stubRetriever struct {
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	mu      sync.Mutex
	seen    []string
}

func (s *stubRetriever) Retrieve(_ context.Context, pq retrieval.ParsedQuery) (*retrieval.RetrievalResponse, error) {
	s.calls.Add(1)
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		cur := s.maxSeen.Load()
		if n <= cur || s.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.seen = append(s.seen, pq.Text)
	s.mu.Unlock()

	if pq.Text == "fail" {
		return nil, fmt.Errorf("engine unavailable")
	}
	return &retrieval.RetrievalResponse{
		Hits:      []retrieval.RankedHit{{Hit: tier.Hit{DocumentID: "doc-" + pq.Text}}},
		TiersUsed: []string{"primary"},
	}, nil
}

func (s *stubRetriever) Health() map[string]string { return nil }

func TestReadBatch(t *testing.T) {
	// Given: a batch with a blank line and a malformed line
	in := strings.NewReader("{\"text\": \"a\"}\n\n{not json}\n{\"text\": \"b\", \"limit\": 3}\n")

	// When: reading it
	jobs, err := readBatch(in)

	// Then: line numbers are preserved and the bad line carries its error
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, 1, jobs[0].line)
	assert.Equal(t, 3, jobs[1].line)
	assert.Error(t, jobs[1].err)
	assert.Equal(t, 4, jobs[2].line)
	assert.Equal(t, 3, jobs[2].req.Limit)
}

func TestReadBatch_PlainTextLines(t *testing.T) {
	// Given: plain query lines mixed with a JSON request
	in := strings.NewReader("seasonal benefits\n{\"text\": \"pension residence\", \"limit\": 2}\n  zoning variance  \n")

	// When: reading it
	jobs, err := readBatch(in)

	// Then: plain lines become text-only requests
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.NoError(t, jobs[0].err)
	assert.Equal(t, "seasonal benefits", jobs[0].req.Text)
	assert.Equal(t, 2, jobs[1].req.Limit)
	assert.Equal(t, "zoning variance", jobs[2].req.Text)
	assert.Equal(t, 3, jobs[2].line)
}

func TestAnswerBatch_OrderAndErrors(t *testing.T) {
	// Given: eight requests, one failing in the engine and one with a bad date
	var lines []string
	for i := range 6 {
		lines = append(lines, fmt.Sprintf(`{"text": "q%d"}`, i))
	}
	lines = append(lines, `{"text": "fail"}`, `{"text": "dated", "filters": {"effective_from": "yesterday"}}`)
	jobs, err := readBatch(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	engine := &stubRetriever{}

	// When: answering on three workers
	results, err := answerBatch(context.Background(), engine, jobs, 3)

	// Then: results follow input order and failures are inline
	require.NoError(t, err)
	require.Len(t, results, 8)
	for i := range 6 {
		assert.Equal(t, i+1, results[i].Line)
		require.NotNil(t, results[i].Response)
		assert.Equal(t, fmt.Sprintf("doc-q%d", i), results[i].Response.Hits[0].DocumentID)
	}
	assert.Equal(t, "engine unavailable", results[6].Error)
	assert.Contains(t, results[7].Error, "effective_from")
	assert.Equal(t, int32(7), engine.calls.Load(), "bad input never reaches the engine")
	assert.LessOrEqual(t, engine.maxSeen.Load(), int32(3))
}

func TestAnswerBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs, err := readBatch(strings.NewReader(`{"text": "a"}`))
	require.NoError(t, err)

	_, err = answerBatch(ctx, &stubRetriever{}, jobs, 2)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch_BatchFromStdin(t *testing.T) {
	// Given: loaded passages and two requests on stdin
	cfgPath := writeConfig(t)
	loadFixture(t, cfgPath)

	cmd := NewRootCmd()
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetIn(strings.NewReader("{\"text\": \"seasonal\"}\n{\"text\": \"pension residence\"}\n"))
	cmd.SetArgs([]string{"--config", cfgPath, "search", "--batch", "-", "--workers", "2"})

	// When: running the batch
	require.NoError(t, cmd.Execute())

	// Then: one JSON line per request, in order
	var results []batchResult
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	for scanner.Scan() {
		var r batchResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		results = append(results, r)
	}
	require.Len(t, results, 2)
	require.NotNil(t, results[0].Response)
	assert.Equal(t, "eia-12", results[0].Response.Hits[0].DocumentID)
	require.NotNil(t, results[1].Response)
	assert.Equal(t, "oas-3", results[1].Response.Hits[0].DocumentID)
}
