package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/regsearch/internal/cache"
	"github.com/Aman-CERP/regsearch/internal/config"
	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/tier"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine is the retrieval facade. It is safe for concurrent use; the cache
// is the only state shared between requests.
type Engine struct {
	tiers      []tier.Adapter
	enrichment tier.Adapter
	orch       *Orchestrator
	normalizer *Normalizer
	fuser      *RankFuser
	expander   *Expander
	cache      *cache.Cache[*CachedResult]
	group      singleflight.Group
	clock      cache.Clock
	logger     *slog.Logger
	metrics    Metrics

	defaults    QueryDefaults
	ttl         time.Duration
	negativeTTL time.Duration
	orchOpts    []OrchestratorOption
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithCache enables result caching.
func WithCache(c *cache.Cache[*CachedResult]) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithExpander replaces the default expander.
func WithExpander(x *Expander) EngineOption {
	return func(e *Engine) {
		if x != nil {
			e.expander = x
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock sets the clock used for response latency.
func WithClock(c cache.Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithEnrichment sets the adapter for the enrichment pass. It only runs when
// enrichment.mode is not off.
func WithEnrichment(a tier.Adapter) EngineOption {
	return func(e *Engine) {
		e.enrichment = a
	}
}

// WithOrchestratorOptions passes extra options to the orchestrator, such as
// breaker settings.
func WithOrchestratorOptions(opts ...OrchestratorOption) EngineOption {
	return func(e *Engine) {
		e.orchOpts = append(e.orchOpts, opts...)
	}
}

// NewEngine creates the facade over tiers, which need not be sorted.
func NewEngine(cfg *config.Config, tiers []tier.Adapter, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrNilDependency)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: at least one tier is required", ErrNilDependency)
	}
	for i, t := range tiers {
		if t == nil {
			return nil, fmt.Errorf("%w: tier %d is nil", ErrNilDependency, i)
		}
	}

	e := &Engine{
		tiers:      tiers,
		normalizer: NewNormalizer(cfg.Fusion.SingleHitScore),
		fuser:      NewRankFuser(cfg.Fusion.RRFConstant),
		clock:      cache.SystemClock{},
		logger:     slog.Default(),
		metrics:    nopMetrics{},
		defaults: QueryDefaults{
			Weights:      Weights{Lexical: cfg.Fusion.LexicalWeight, Vector: cfg.Fusion.VectorWeight},
			DefaultLimit: cfg.Engine.DefaultLimit,
			MaxLimit:     cfg.Engine.MaxLimit,
		},
		ttl:         cfg.Cache.TTL,
		negativeTTL: cfg.Cache.NegativeTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.expander == nil {
		e.expander = NewExpander(
			WithMaxExpansions(cfg.Expansion.MaxExpansions),
			WithFuzzy(cfg.Expansion.Fuzzy, cfg.Expansion.MinFuzzyLength),
		)
	}

	orchOpts := []OrchestratorOption{
		WithBudget(cfg.Engine.Budget),
		WithEnrichmentPolicy(cfg.Enrichment),
		WithOrchestratorLogger(e.logger),
		WithOrchestratorMetrics(e.metrics),
	}
	e.orch = NewOrchestrator(append(orchOpts, e.orchOpts...)...)
	return e, nil
}

// execution is one uncached run, shared by singleflight followers.
type execution struct {
	result *CachedResult
	trace  *Trace
}

// Retrieve answers a parsed query. It returns an error only for invalid
// input or cancellation of ctx; tier failures surface as Degraded and
// Reason on the response.
func (e *Engine) Retrieve(ctx context.Context, pq ParsedQuery) (*RetrievalResponse, error) {
	start := e.clock.Now()

	q, err := BuildQuery(pq, e.defaults)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := q.CacheKey()
	shared := e.cache != nil && !q.NoCache && !q.Explain
	if shared {
		if cached, ok := e.cache.Get(key); ok {
			e.metrics.ObserveCache(true)
			resp := e.respond(cached, nil, start)
			resp.CacheHit = true
			e.logger.Debug("retrieve cache hit", slog.String("key", key[:12]))
			return resp, nil
		}
		e.metrics.ObserveCache(false)
	}

	var ex *execution
	if shared {
		ex, err = e.collapse(ctx, key, q)
	} else {
		ex, err = e.execute(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	resp := e.respond(ex.result, ex.trace, start)
	if !q.Explain {
		resp.Trace = nil
	}
	return resp, nil
}

// collapse runs identical concurrent misses once. A follower whose own
// context is still live re-runs the query if the leader was cancelled.
func (e *Engine) collapse(ctx context.Context, key string, q Query) (*execution, error) {
	ch := e.group.DoChan(key, func() (any, error) {
		return e.execute(ctx, q)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err == nil {
			return r.Val.(*execution), nil
		}
		if isContextErr(r.Err) && ctx.Err() == nil {
			return e.execute(ctx, q)
		}
		return nil, r.Err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) execute(ctx context.Context, q Query) (*execution, error) {
	start := e.clock.Now()
	eq := e.expander.Expand(q)

	out, err := e.orch.Retrieve(ctx, eq, e.tiers, e.enrichment)
	if err != nil {
		return nil, err
	}

	fused := e.fuser.Fuse(e.rankedLists(q, out))
	if q.Limit > 0 && len(fused.Hits) > q.Limit {
		fused.Hits = fused.Hits[:q.Limit]
	}

	res := &CachedResult{
		Fused:     fused,
		TiersUsed: out.UsedTiers,
		Degraded:  out.Degraded,
	}
	unhealthy := out.Failed || out.BudgetExceeded
	if len(fused.Hits) == 0 {
		e.logger.Debug("no usable hits",
			append(rerrors.LogAttrs(rerrors.ErrEngineExhausted.AsRegError()),
				slog.Bool("unhealthy", unhealthy))...)
		if unhealthy {
			res.Reason = ReasonServiceDegraded
			res.Degraded = true
		} else {
			res.Reason = ReasonNoResults
			res.Degraded = false
		}
	}

	e.logger.Debug("retrieve complete",
		slog.String("state", string(out.State)),
		slog.Any("tiers", out.UsedTiers),
		slog.Int("hits", len(fused.Hits)),
		slog.Int("candidates", fused.TotalCandidates),
		slog.Bool("degraded", res.Degraded),
		slog.Bool("budget_exceeded", out.BudgetExceeded))
	e.metrics.ObserveRequest(out.State, res.Degraded, e.clock.Now().Sub(start))

	if e.cache != nil && !q.NoCache {
		ttl := e.ttl
		if len(fused.Hits) == 0 || unhealthy {
			ttl = e.negativeTTL
		}
		e.cache.Put(q.CacheKey(), res, ttl)
	}
	return &execution{result: res, trace: out.Trace}, nil
}

// rankedLists turns tier outcomes into weighted fusion inputs. A sufficient
// tier contributes at Weight, anything else at PartialWeight, and the
// enrichment list at its own weight.
func (e *Engine) rankedLists(q Query, out *Outcome) []RankedList {
	var lists []RankedList
	add := func(t TierOutcome, tierWeight float64) {
		if t.Result == nil || tierWeight <= 0 {
			return
		}
		byModality := t.Result.ByModality()
		for _, m := range []tier.Modality{tier.ModalityLexical, tier.ModalityVector} {
			hits := byModality[m]
			if len(hits) == 0 {
				continue
			}
			w := q.Weights.Lexical
			if m == tier.ModalityVector {
				w = q.Weights.Vector
			}
			if w <= 0 {
				continue
			}
			lists = append(lists, RankedList{
				Tier:     t.Descriptor.Name,
				Priority: t.Descriptor.Priority,
				Modality: m,
				Weight:   w * tierWeight,
				Hits:     e.normalizer.NormalizeFor(t.Descriptor, m, hits),
			})
		}
	}

	for _, t := range out.Tiers {
		w := t.Descriptor.PartialWeight
		if t.State == StateSufficient {
			w = t.Descriptor.Weight
		}
		add(t, w)
	}
	if out.Enrichment != nil {
		add(*out.Enrichment, out.Enrichment.Descriptor.Weight)
	}
	return lists
}

func (e *Engine) respond(res *CachedResult, trace *Trace, start time.Time) *RetrievalResponse {
	hits := res.Fused.Hits
	if hits == nil {
		hits = []RankedHit{}
	}
	tiersUsed := res.TiersUsed
	if tiersUsed == nil {
		tiersUsed = []string{}
	}
	return &RetrievalResponse{
		Hits:           hits,
		TotalEstimated: res.Fused.TotalCandidates,
		TiersUsed:      tiersUsed,
		LatencyMs:      e.clock.Now().Sub(start).Milliseconds(),
		Degraded:       res.Degraded,
		Reason:         res.Reason,
		FusionMethod:   res.Fused.FusionMethod,
		Trace:          trace,
	}
}

// Health reports each tier's circuit state. Tiers not yet called are closed.
func (e *Engine) Health() map[string]string {
	states := e.orch.BreakerStates()
	out := make(map[string]string, len(e.tiers)+1)
	for _, t := range e.tiers {
		name := t.Capabilities().Name
		if s, ok := states[name]; ok {
			out[name] = s
		} else {
			out[name] = "closed"
		}
	}
	if e.enrichment != nil {
		name := e.enrichment.Capabilities().Name
		if s, ok := states[name]; ok {
			out[name] = s
		}
	}
	return out
}

// Close closes every tier, returning the first error.
func (e *Engine) Close() error {
	var errs []error
	for _, t := range e.tiers {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.enrichment != nil {
		if err := e.enrichment.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
