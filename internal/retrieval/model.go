// Package retrieval is the multi-tier retrieval engine: it expands a parsed
// query, runs it down an ordered chain of tiers until one is sufficient,
// normalizes and fuses what the tiers returned with weighted reciprocal rank
// fusion, and caches the fused result.
package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/tier"
)

// FusionMethod tags every fused result set.
const FusionMethod = "weighted_rrf"

// Weights split fusion emphasis between lexical and vector lists.
type Weights struct {
	Lexical float64 `json:"lexical"`
	Vector  float64 `json:"vector"`
}

// Entities are extracted by upstream query understanding.
type Entities struct {
	Program      string `json:"program,omitempty" yaml:"program"`
	PersonType   string `json:"person_type,omitempty" yaml:"person_type"`
	Jurisdiction string `json:"jurisdiction,omitempty" yaml:"jurisdiction"`
}

// ParsedQuery is the engine's input. Intent is carried through untouched;
// the engine never re-derives it.
type ParsedQuery struct {
	Text             string       `json:"text"`
	Entities         Entities     `json:"entities"`
	Intent           string       `json:"intent,omitempty"`
	SuggestedFilters tier.Filters `json:"filters"`
	// Hints override the configured fusion weights when set.
	Hints   *Weights `json:"hints,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	NoCache bool     `json:"no_cache,omitempty"`
	Explain bool     `json:"explain,omitempty"`
}

// Query is a validated, normalized request. It is not modified after
// BuildQuery returns.
type Query struct {
	Text    string
	Filters tier.Filters
	Weights Weights
	Limit   int
	NoCache bool
	Explain bool
}

// QueryDefaults are the configured values BuildQuery falls back to.
type QueryDefaults struct {
	Weights      Weights
	DefaultLimit int
	MaxLimit     int
}

// BuildQuery normalizes a parsed query. Entities fill filter fields the
// upstream left empty. Hints with a non-positive sum are ignored.
func BuildQuery(pq ParsedQuery, d QueryDefaults) (Query, error) {
	text := strings.Join(strings.Fields(pq.Text), " ")
	if text == "" {
		return Query{}, rerrors.New(rerrors.ErrCodeQueryEmpty, "query text is empty", nil).
			WithSuggestion("Provide the passage topic to search for")
	}

	filters := pq.SuggestedFilters
	if filters.Jurisdiction == "" {
		filters.Jurisdiction = pq.Entities.Jurisdiction
	}
	if filters.Program == "" {
		filters.Program = pq.Entities.Program
	}
	if !filters.EffectiveFrom.IsZero() && !filters.EffectiveTo.IsZero() &&
		filters.EffectiveFrom.After(filters.EffectiveTo) {
		return Query{}, rerrors.New(rerrors.ErrCodeInvalidInput, "effective_from is after effective_to", nil)
	}

	weights := d.Weights
	if pq.Hints != nil {
		if w, ok := normalizeWeights(*pq.Hints); ok {
			weights = w
		}
	}

	limit := pq.Limit
	if limit <= 0 {
		limit = d.DefaultLimit
	}
	if d.MaxLimit > 0 && limit > d.MaxLimit {
		limit = d.MaxLimit
	}

	return Query{
		Text:    text,
		Filters: filters,
		Weights: weights,
		Limit:   limit,
		NoCache: pq.NoCache,
		Explain: pq.Explain,
	}, nil
}

func normalizeWeights(w Weights) (Weights, bool) {
	if w.Lexical < 0 || w.Vector < 0 || math.IsNaN(w.Lexical) || math.IsNaN(w.Vector) {
		return Weights{}, false
	}
	sum := w.Lexical + w.Vector
	if sum <= 0 {
		return Weights{}, false
	}
	return Weights{Lexical: w.Lexical / sum, Vector: w.Vector / sum}, true
}

// CacheKey hashes the lowercased text with filters, weights and limit.
func (q Query) CacheKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%.4f/%.4f\x00%d",
		strings.ToLower(q.Text), q.Filters.Key(), q.Weights.Lexical, q.Weights.Vector, q.Limit)
	return hex.EncodeToString(h.Sum(nil))
}

// ExpandedQuery carries the two query variants. Lexical tiers get the
// expanded text; embeddings get the original.
type ExpandedQuery struct {
	Query    Query
	Lexical  string
	Semantic string
	Terms    []string
	// Corrections maps a misspelled term to its replacement.
	Corrections map[string]string
	// Expansions maps a matched phrase to the synonyms added for it.
	Expansions map[string][]string
}

// Request builds the tier request.
func (eq ExpandedQuery) Request() tier.Request {
	return tier.Request{
		Lexical:  eq.Lexical,
		Semantic: eq.Semantic,
		Filters:  eq.Query.Filters,
		Limit:    eq.Query.Limit,
	}
}

// Contribution is one list's share of a fused hit.
type Contribution struct {
	Tier            string        `json:"tier"`
	Modality        tier.Modality `json:"modality"`
	Rank            int           `json:"rank"`
	NativeScore     float64       `json:"native_score"`
	NormalizedScore float64       `json:"normalized_score"`
	Weight          float64       `json:"weight"`
	Score           float64       `json:"rrf_score"`
}

// RankedHit is a fused hit. The embedded Hit is the contribution with the
// highest normalized score.
type RankedHit struct {
	tier.Hit
	FinalScore float64        `json:"final_score"`
	Provenance []Contribution `json:"provenance"`
}

// Tiers lists contributing tiers in provenance order, without repeats.
func (h RankedHit) Tiers() []string {
	var out []string
	seen := make(map[string]bool, len(h.Provenance))
	for _, c := range h.Provenance {
		if !seen[c.Tier] {
			seen[c.Tier] = true
			out = append(out, c.Tier)
		}
	}
	return out
}

// FusedResult is the ranked, deduplicated output of fusion.
type FusedResult struct {
	Hits            []RankedHit `json:"hits"`
	FusionMethod    string      `json:"fusion_method"`
	TotalCandidates int         `json:"total_candidates"`
}

// Reason explains an empty or degraded response.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNoResults       Reason = "no_results"
	ReasonServiceDegraded Reason = "service_degraded"
)

// RetrievalResponse is what callers receive. Empty results are never
// errors; Reason and Degraded tell "nothing matches" apart from "tiers
// were unavailable".
type RetrievalResponse struct {
	Hits           []RankedHit `json:"hits"`
	TotalEstimated int         `json:"total_estimated"`
	TiersUsed      []string    `json:"tiers_used"`
	LatencyMs      int64       `json:"latency_ms"`
	Degraded       bool        `json:"degraded"`
	Reason         Reason      `json:"reason,omitempty"`
	FusionMethod   string      `json:"fusion_method"`
	CacheHit       bool        `json:"cache_hit"`
	Trace          *Trace      `json:"trace,omitempty"`
}

// CachedResult is the cache value: everything in a response that does not
// depend on the individual request.
type CachedResult struct {
	Fused     *FusedResult
	TiersUsed []string
	Degraded  bool
	Reason    Reason
}
