package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/regsearch/internal/config"
	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/metrics"
	"github.com/Aman-CERP/regsearch/internal/retrieval"
	"github.com/Aman-CERP/regsearch/internal/tier"
	"github.com/Aman-CERP/regsearch/pkg/version"
)

type fakeEngine struct {
	got    retrieval.ParsedQuery
	resp   *retrieval.RetrievalResponse
	err    error
	health map[string]string
}

func (f *fakeEngine) Retrieve(_ context.Context, pq retrieval.ParsedQuery) (*retrieval.RetrievalResponse, error) {
	f.got = pq
	return f.resp, f.err
}

func (f *fakeEngine) Health() map[string]string { return f.health }

func newTestServer(engine *fakeEngine) http.Handler {
	return New(engine, metrics.New(prometheus.NewRegistry()), config.NewConfig().Server, nil).Handler()
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRetrieve_OK(t *testing.T) {
	// Given: an engine with one hit
	engine := &fakeEngine{resp: &retrieval.RetrievalResponse{
		Hits: []retrieval.RankedHit{{
			Hit:        tier.Hit{DocumentID: "eia-7", Tier: "primary", Modality: tier.ModalityLexical},
			FinalScore: 0.0123,
		}},
		TotalEstimated: 1,
		TiersUsed:      []string{"primary"},
		FusionMethod:   retrieval.FusionMethod,
	}}
	h := newTestServer(engine)

	// When: posting a query with entities and a date filter
	rr := post(t, h, `{
		"text": "EI sickness benefits",
		"entities": {"program": "EI", "person_type": "temporary_resident"},
		"intent": "eligibility",
		"filters": {"jurisdiction": "CA", "effective_from": "2020-01-01"},
		"limit": 10
	}`)

	// Then: the engine receives the parsed query and the response is JSON
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "EI", engine.got.Entities.Program)
	assert.Equal(t, "eligibility", engine.got.Intent)
	assert.Equal(t, "CA", engine.got.SuggestedFilters.Jurisdiction)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), engine.got.SuggestedFilters.EffectiveFrom)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "weighted_rrf", body["fusion_method"])
	assert.Equal(t, []any{"primary"}, body["tiers_used"])
	hits := body["hits"].([]any)
	require.Len(t, hits, 1)
	assert.Equal(t, "eia-7", hits[0].(map[string]any)["doc_id"])
}

func TestRetrieve_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode string
	}{
		{"malformed json", `{"text": `, nil, rerrors.ErrCodeInvalidInput},
		{"unknown field", `{"text": "ei", "query": "ei"}`, nil, rerrors.ErrCodeInvalidInput},
		{"bad date", `{"text": "ei", "filters": {"effective_to": "next year"}}`, nil, rerrors.ErrCodeInvalidInput},
		{"empty query", `{"text": ""}`, rerrors.New(rerrors.ErrCodeQueryEmpty, "query text is empty", nil), rerrors.ErrCodeQueryEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeEngine{err: tt.err})

			rr := post(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

func TestRetrieve_CancelledIsUnavailable(t *testing.T) {
	h := newTestServer(&fakeEngine{err: context.Canceled})

	rr := post(t, h, `{"text": "ei"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		tiers      map[string]string
		wantCode   int
		wantStatus string
	}{
		{"all closed", map[string]string{"primary": "closed", "graph": "closed"}, http.StatusOK, "ok"},
		{"one open", map[string]string{"primary": "open", "graph": "closed"}, http.StatusOK, "degraded"},
		{"all open", map[string]string{"primary": "open", "graph": "open"}, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeEngine{health: tt.tiers})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

			assert.Equal(t, tt.wantCode, rr.Code)
			var body healthResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.tiers, body.Tiers)
			assert.Equal(t, version.Short(), body.Version)
			assert.Equal(t, version.UserAgent(), rr.Header().Get("Server"))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakeEngine{health: map[string]string{}})

	// Given: one request already served
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	// When: scraping
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	// Then: the HTTP counter for the health route is exposed
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `regsearch_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
}
