package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/regsearch/internal/config"
	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/tier"
)

func expanded(text string) ExpandedQuery {
	return ExpandedQuery{
		Query:    Query{Text: text, Limit: 10, Weights: Weights{Lexical: 0.5, Vector: 0.5}},
		Lexical:  text,
		Semantic: text,
	}
}

func adapters(fakes ...*fakeTier) []tier.Adapter {
	out := make([]tier.Adapter, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

func attemptStates(tr *Trace) []State {
	out := make([]State, len(tr.Attempts))
	for i, a := range tr.Attempts {
		out[i] = a.State
	}
	return out
}

func TestOrchestrator_StopsAtFirstSufficientTier(t *testing.T) {
	// Given: a primary tier returning 8 hits against a threshold of 5
	primary := newFake("primary", 0, 5, lexical("primary", docIDs(8, "ei")...)...)
	graph := newFake("graph", 1, 5, lexical("graph", "g-1")...)
	o := NewOrchestrator()

	// When: retrieving
	out, err := o.Retrieve(context.Background(), expanded("ei sickness"), adapters(primary, graph), nil)

	// Then: only the primary tier is called
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, []string{"primary"}, out.UsedTiers)
	assert.False(t, out.Degraded)
	assert.Equal(t, int32(0), graph.calls.Load())
	assert.Equal(t, []State{StateSufficient}, attemptStates(out.Trace))
	assert.Equal(t, StateSuccess, out.Trace.Final)
}

func TestOrchestrator_FallbackIsMonotonic(t *testing.T) {
	// Given: tiers supplied out of order; the first two are insufficient
	scan := newFake("scan", 3, 1, lexical("scan", "s-1")...)
	primary := newFake("primary", 0, 5, lexical("primary", "p-1", "p-2")...)
	relational := newFake("relational", 2, 2, lexical("relational", "r-1", "r-2")...)
	graph := newFake("graph", 1, 5, lexical("graph", "g-1")...)
	o := NewOrchestrator()

	// When: retrieving
	out, err := o.Retrieve(context.Background(), expanded("odsp income"), adapters(scan, primary, relational, graph), nil)

	// Then: tiers run in priority order until relational is sufficient
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "graph", "relational"}, out.UsedTiers)
	assert.Equal(t, []State{StateInsufficient, StateInsufficient, StateSufficient}, attemptStates(out.Trace))
	assert.Equal(t, int32(0), scan.calls.Load())
	assert.True(t, out.Degraded)

	// And: partial hits from insufficient tiers are kept
	require.Len(t, out.Tiers, 3)
	assert.Equal(t, 2, out.Tiers[0].DistinctHits())
	assert.Equal(t, 1, out.Tiers[1].DistinctHits())
}

func TestOrchestrator_ExhaustedKeepsPartialHits(t *testing.T) {
	// Given: every tier insufficient
	primary := newFake("primary", 0, 5, lexical("primary", "p-1")...)
	graph := newFake("graph", 1, 5)
	o := NewOrchestrator()

	out, err := o.Retrieve(context.Background(), expanded("cpp disability"), adapters(primary, graph), nil)

	require.NoError(t, err)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, []string{"primary", "graph"}, out.UsedTiers)
	assert.False(t, out.Failed)
	assert.Equal(t, 1, out.Tiers[0].DistinctHits())
}

func TestOrchestrator_TransportErrorRetriedOnce(t *testing.T) {
	// Given: a tier whose first call fails with a connection error
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	primary := newFake("primary", 0, 1, lexical("primary", "p-1")...)
	primary.errs = []error{refused}
	o := NewOrchestrator()

	// When: retrieving
	out, err := o.Retrieve(context.Background(), expanded("ei"), adapters(primary), nil)

	// Then: the retry succeeds and is recorded
	require.NoError(t, err)
	assert.Equal(t, int32(2), primary.calls.Load())
	assert.Equal(t, StateSuccess, out.State)
	require.Len(t, out.Trace.Attempts, 1)
	assert.True(t, out.Trace.Attempts[0].Retried)
}

func TestOrchestrator_QueryErrorSkipsWithoutRetry(t *testing.T) {
	// Given: a primary tier that rejects the translated query
	primary := newFake("primary", 0, 1)
	primary.err = rerrors.TierQueryError("", errors.New("program filter unsupported"))
	graph := newFake("graph", 1, 1, lexical("graph", "g-1")...)
	o := NewOrchestrator()

	out, err := o.Retrieve(context.Background(), expanded("ow"), adapters(primary, graph), nil)

	// Then: primary is tried once, recorded as a query error, and graph answers
	require.NoError(t, err)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, []string{"primary", "graph"}, out.UsedTiers)
	assert.Equal(t, "query", out.Trace.Attempts[0].ErrorKind)
	assert.Equal(t, "primary", out.Tiers[0].Err.Tier)
	assert.True(t, out.Failed)
	assert.True(t, out.Degraded)
	assert.Equal(t, StateSuccess, out.State)
}

func TestOrchestrator_TimeoutNotRetried(t *testing.T) {
	// Given: a tier slower than its timeout
	primary := newFake("primary", 0, 1, lexical("primary", "p-1")...)
	primary.desc.Timeout = 30 * time.Millisecond
	primary.delay = 500 * time.Millisecond
	graph := newFake("graph", 1, 1, lexical("graph", "g-1")...)
	o := NewOrchestrator()

	start := time.Now()
	out, err := o.Retrieve(context.Background(), expanded("ei"), adapters(primary, graph), nil)
	elapsed := time.Since(start)

	// Then: one call, a timeout recorded, fallback answered well before the delay
	require.NoError(t, err)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, "timeout", out.Trace.Attempts[0].ErrorKind)
	assert.False(t, out.BudgetExceeded)
	assert.Less(t, elapsed, 300*time.Millisecond)
	assert.Equal(t, StateSuccess, out.State)
}

func TestOrchestrator_DeadlineHoldsForAdapterIgnoringContext(t *testing.T) {
	// Given: an adapter that ignores cancellation
	primary := newFake("primary", 0, 1, lexical("primary", "p-1")...)
	primary.desc.Timeout = 40 * time.Millisecond
	primary.delay = 400 * time.Millisecond
	primary.stubborn = true
	o := NewOrchestrator()

	// When: retrieving
	start := time.Now()
	out, err := o.Retrieve(context.Background(), expanded("ei"), adapters(primary), nil)
	elapsed := time.Since(start)

	// Then: the orchestrator stops waiting at the deadline plus a small overhead
	require.NoError(t, err)
	assert.Less(t, elapsed, 40*time.Millisecond+50*time.Millisecond)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, "timeout", out.Trace.Attempts[0].ErrorKind)
}

func TestOrchestrator_BudgetBoundsTierDeadline(t *testing.T) {
	// Given: a request budget shorter than the tier timeout
	primary := newFake("primary", 0, 1, lexical("primary", "p-1")...)
	primary.desc.Timeout = time.Second
	primary.delay = 500 * time.Millisecond
	graph := newFake("graph", 1, 1, lexical("graph", "g-1")...)
	o := NewOrchestrator(WithBudget(50 * time.Millisecond))

	start := time.Now()
	out, err := o.Retrieve(context.Background(), expanded("ei"), adapters(primary, graph), nil)
	elapsed := time.Since(start)

	// Then: the budget cuts the tier short and no later tier runs
	require.NoError(t, err)
	assert.True(t, out.BudgetExceeded)
	assert.True(t, out.Trace.BudgetExceeded)
	assert.Equal(t, int32(0), graph.calls.Load())
	assert.Equal(t, StateExhausted, out.State)
	assert.Less(t, elapsed, 150*time.Millisecond)
	assert.LessOrEqual(t, out.Trace.Attempts[0].Timeout, 50*time.Millisecond)
}

func TestOrchestrator_ParentCancellation(t *testing.T) {
	// Given: a slow tier and a caller that cancels mid-request
	primary := newFake("primary", 0, 1, lexical("primary", "p-1")...)
	primary.delay = 150 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	// When: retrieving
	out, err := NewOrchestrator().Retrieve(ctx, expanded("ei"), adapters(primary), nil)

	// Then: the cancellation is returned and no outcome is produced
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestOrchestrator_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	// Given: a tier that always fails with a transport error and a breaker
	// that opens after two failures
	down := newFake("primary", 0, 1)
	down.err = rerrors.TierTransportError("", errors.New("connection reset"))
	graph := newFake("graph", 1, 1, lexical("graph", "g-1")...)
	o := NewOrchestrator(
		WithRetry(rerrors.RetryConfig{MaxRetries: 0, ShouldRetry: rerrors.IsTransport}),
		WithBreakerOptions(rerrors.WithMaxFailures(2), rerrors.WithResetTimeout(time.Hour)),
	)

	for range 2 {
		_, err := o.Retrieve(context.Background(), expanded("ei"), adapters(down, graph), nil)
		require.NoError(t, err)
	}

	// When: a third request arrives
	out, err := o.Retrieve(context.Background(), expanded("ei"), adapters(down, graph), nil)

	// Then: the tier is skipped without a call
	require.NoError(t, err)
	assert.Equal(t, int32(2), down.calls.Load())
	assert.True(t, out.Trace.Attempts[0].CircuitOpen)
	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, "open", o.BreakerStates()["primary"])
}

func TestOrchestrator_ClosedStoreTripsBreaker(t *testing.T) {
	// Given: a tier whose store was closed underneath it
	down := newFake("primary", 0, 1)
	down.err = fmt.Errorf("bleve search: %w", rerrors.ErrStoreClosed)
	graph := newFake("graph", 1, 1, lexical("graph", "g-1")...)
	o := NewOrchestrator(
		WithRetry(rerrors.RetryConfig{MaxRetries: 0, ShouldRetry: rerrors.IsTransport}),
		WithBreakerOptions(rerrors.WithMaxFailures(2), rerrors.WithResetTimeout(time.Hour)),
	)

	for range 3 {
		out, err := o.Retrieve(context.Background(), expanded("ei"), adapters(down, graph), nil)
		require.NoError(t, err)
		assert.Equal(t, "transport", out.Trace.Attempts[0].ErrorKind)
	}

	// Then: the failures count toward the breaker and the third call is skipped
	assert.Equal(t, int32(2), down.calls.Load())
	assert.Equal(t, "open", o.BreakerStates()["primary"])
}

func TestOrchestrator_QueryErrorDoesNotResetBreaker(t *testing.T) {
	// Given: transport failures separated by a query error
	reset := rerrors.TierTransportError("", errors.New("connection reset"))
	down := newFake("primary", 0, 1)
	down.errs = []error{reset, rerrors.TierQueryError("", errors.New("bad filter")), reset}
	graph := newFake("graph", 1, 1, lexical("graph", "g-1")...)
	o := NewOrchestrator(
		WithRetry(rerrors.RetryConfig{MaxRetries: 0, ShouldRetry: rerrors.IsTransport}),
		WithBreakerOptions(rerrors.WithMaxFailures(2), rerrors.WithResetTimeout(time.Hour)),
	)

	for range 3 {
		_, err := o.Retrieve(context.Background(), expanded("ei"), adapters(down, graph), nil)
		require.NoError(t, err)
	}

	// Then: the two transport failures still open the circuit
	assert.Equal(t, "open", o.BreakerStates()["primary"])
}

func TestOrchestrator_PanicIsATierError(t *testing.T) {
	// Given: an adapter that panics
	primary := &panickingTier{desc: fakeDescriptor("primary", 0, 1)}
	graph := newFake("graph", 1, 1, lexical("graph", "g-1")...)

	out, err := NewOrchestrator().Retrieve(context.Background(), expanded("ei"),
		[]tier.Adapter{primary, graph}, nil)

	require.NoError(t, err)
	assert.Equal(t, StateError, out.Trace.Attempts[0].State)
	assert.Equal(t, []string{"primary", "graph"}, out.UsedTiers)
}

type panickingTier struct {
	desc tier.Descriptor
}

func (p *panickingTier) Search(context.Context, tier.Request) (*tier.Result, error) {
	panic("index corrupted")
}
func (p *panickingTier) Capabilities() tier.Descriptor { return p.desc }
func (p *panickingTier) Close() error                  { return nil }

func TestOrchestrator_Enrichment(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		maxHits int
		hits    int
		wantRun bool
	}{
		{"off", config.EnrichmentOff, 5, 3, false},
		{"always", config.EnrichmentAlways, 5, 8, true},
		{"ceiling under", config.EnrichmentCeiling, 5, 5, true},
		{"ceiling over", config.EnrichmentCeiling, 5, 6, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := newFake("primary", 0, 1, lexical("primary", docIDs(tt.hits, "p")...)...)
			enrich := newFake(tier.EnrichmentTierName, 9, 0, vector(tier.EnrichmentTierName, "v-1")...)
			o := NewOrchestrator(WithEnrichmentPolicy(config.EnrichmentConfig{
				Mode: tt.mode, MaxHits: tt.maxHits, Timeout: 100 * time.Millisecond, Weight: 0.5,
			}))

			out, err := o.Retrieve(context.Background(), expanded("ei"), adapters(primary), enrich)

			require.NoError(t, err)
			if tt.wantRun {
				assert.Equal(t, int32(1), enrich.calls.Load())
				require.NotNil(t, out.Enrichment)
				assert.Contains(t, out.UsedTiers, tier.EnrichmentTierName)
				assert.True(t, out.Trace.Attempts[len(out.Trace.Attempts)-1].Enrichment)
			} else {
				assert.Equal(t, int32(0), enrich.calls.Load())
				assert.Nil(t, out.Enrichment)
			}
			assert.False(t, out.Degraded)
		})
	}
}

func TestOrchestrator_EnrichmentFailureOmitsList(t *testing.T) {
	primary := newFake("primary", 0, 1, lexical("primary", "p-1")...)
	enrich := newFake(tier.EnrichmentTierName, 9, 0)
	enrich.err = errors.New("hnsw graph not loaded")
	o := NewOrchestrator(WithEnrichmentPolicy(config.EnrichmentConfig{Mode: config.EnrichmentAlways}))

	out, err := o.Retrieve(context.Background(), expanded("ei"), adapters(primary), enrich)

	require.NoError(t, err)
	assert.Nil(t, out.Enrichment)
	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, []string{"primary"}, out.UsedTiers)
}

func TestOrchestrator_EmptyEnrichmentIsNotUsed(t *testing.T) {
	// Given an enrichment tier that answers with nothing
	primary := newFake("primary", 0, 1, lexical("primary", "p-1")...)
	enrich := newFake(tier.EnrichmentTierName, 9, 0)
	o := NewOrchestrator(WithEnrichmentPolicy(config.EnrichmentConfig{Mode: config.EnrichmentAlways}))

	out, err := o.Retrieve(context.Background(), expanded("ei"), adapters(primary), enrich)

	// Then it is traced but not listed among the tiers used
	require.NoError(t, err)
	assert.Equal(t, int32(1), enrich.calls.Load())
	assert.Equal(t, []string{"primary"}, out.UsedTiers)
	assert.True(t, out.Trace.Attempts[len(out.Trace.Attempts)-1].Enrichment)
}

func TestOrchestrator_RecordsIgnoredFilters(t *testing.T) {
	primary := newFake("primary", 0, 1, lexical("primary", "p-1")...)
	primary.filters = tier.FilterReport{
		{Field: tier.FilterProgram, Status: tier.FilterIgnored},
	}

	out, err := NewOrchestrator().Retrieve(context.Background(), expanded("ei"), adapters(primary), nil)

	require.NoError(t, err)
	require.Len(t, out.Trace.Attempts, 1)
	assert.Equal(t, []tier.FilterField{tier.FilterProgram}, out.Trace.Attempts[0].Filters.Ignored())
}

func TestOrchestrator_ConcurrentRequests(t *testing.T) {
	primary := newFake("primary", 0, 1, lexical("primary", "p-1", "p-2")...)
	o := NewOrchestrator()

	var failures atomic.Int32
	done := make(chan struct{})
	for i := range 16 {
		go func() {
			defer func() { done <- struct{}{} }()
			out, err := o.Retrieve(context.Background(), expanded(fmt.Sprintf("ei %d", i)), adapters(primary), nil)
			if err != nil || out.State != StateSuccess {
				failures.Add(1)
			}
		}()
	}
	for range 16 {
		<-done
	}
	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, int32(16), primary.calls.Load())
}
