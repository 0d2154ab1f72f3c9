package retrieval

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/tier"
)

var testDefaults = QueryDefaults{
	Weights:      Weights{Lexical: 0.5, Vector: 0.5},
	DefaultLimit: 10,
	MaxLimit:     50,
}

func TestBuildQuery_EntitiesFillFilters(t *testing.T) {
	// Given: entities without explicit filters
	pq := ParsedQuery{
		Text:     "sickness benefits",
		Entities: Entities{Program: "EI", Jurisdiction: "CA", PersonType: "temporary_resident"},
		Intent:   "eligibility",
	}

	q, err := BuildQuery(pq, testDefaults)

	require.NoError(t, err)
	assert.Equal(t, "EI", q.Filters.Program)
	assert.Equal(t, "CA", q.Filters.Jurisdiction)
	assert.Equal(t, 10, q.Limit)
}

func TestBuildQuery_ExplicitFiltersWin(t *testing.T) {
	pq := ParsedQuery{
		Text:             "income test",
		Entities:         Entities{Jurisdiction: "CA"},
		SuggestedFilters: tier.Filters{Jurisdiction: "ON"},
	}

	q, err := BuildQuery(pq, testDefaults)

	require.NoError(t, err)
	assert.Equal(t, "ON", q.Filters.Jurisdiction)
}

func TestBuildQuery_Validation(t *testing.T) {
	_, err := BuildQuery(ParsedQuery{Text: " "}, testDefaults)
	assert.Equal(t, rerrors.ErrCodeQueryEmpty, rerrors.GetCode(err))

	_, err = BuildQuery(ParsedQuery{
		Text: "ei",
		SuggestedFilters: tier.Filters{
			EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EffectiveTo:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}, testDefaults)
	assert.Equal(t, rerrors.ErrCodeInvalidInput, rerrors.GetCode(err))
}

func TestBuildQuery_HintsAndLimit(t *testing.T) {
	tests := []struct {
		name        string
		hints       *Weights
		limit       int
		wantWeights Weights
		wantLimit   int
	}{
		{"defaults", nil, 0, Weights{0.5, 0.5}, 10},
		{"hints normalized", &Weights{Lexical: 3, Vector: 1}, 5, Weights{0.75, 0.25}, 5},
		{"zero hints ignored", &Weights{}, 5, Weights{0.5, 0.5}, 5},
		{"negative hints ignored", &Weights{Lexical: -1, Vector: 2}, 5, Weights{0.5, 0.5}, 5},
		{"limit clamped", nil, 500, Weights{0.5, 0.5}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := BuildQuery(ParsedQuery{Text: "cpp", Hints: tt.hints, Limit: tt.limit}, testDefaults)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantWeights.Lexical, q.Weights.Lexical, 1e-9)
			assert.InDelta(t, tt.wantWeights.Vector, q.Weights.Vector, 1e-9)
			assert.Equal(t, tt.wantLimit, q.Limit)
		})
	}
}

func TestQuery_CacheKey(t *testing.T) {
	a, err := BuildQuery(ParsedQuery{Text: "EI  sickness"}, testDefaults)
	require.NoError(t, err)
	b, err := BuildQuery(ParsedQuery{Text: "ei sickness"}, testDefaults)
	require.NoError(t, err)
	c, err := BuildQuery(ParsedQuery{Text: "ei sickness", SuggestedFilters: tier.Filters{Program: "EI"}}, testDefaults)
	require.NoError(t, err)
	d, err := BuildQuery(ParsedQuery{Text: "ei sickness", Limit: 3}, testDefaults)
	require.NoError(t, err)

	assert.Equal(t, a.CacheKey(), b.CacheKey())
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
	assert.NotEqual(t, a.CacheKey(), d.CacheKey())
}

func TestAttempt_MarshalJSON(t *testing.T) {
	a := Attempt{
		Tier:    "primary",
		State:   StateError,
		Timeout: 300 * time.Millisecond,
		Latency: 1500 * time.Microsecond,
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "primary", got["tier"])
	assert.Equal(t, "error", got["state"])
	assert.Equal(t, 300.0, got["timeout_ms"])
	assert.Equal(t, 1.5, got["latency_ms"])
}
