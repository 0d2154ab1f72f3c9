package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/regsearch/internal/config"
	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/tier"
)

// DefaultBudget is the end-to-end deadline across all tiers.
const DefaultBudget = 4 * time.Second

// TierOutcome is the result of one attempted tier.
type TierOutcome struct {
	Descriptor tier.Descriptor
	// Result is nil when the tier failed.
	Result *tier.Result
	State  State
	Err    *rerrors.TierError
}

// DistinctHits counts unique documents across modalities.
func (t TierOutcome) DistinctHits() int {
	if t.Result == nil {
		return 0
	}
	seen := make(map[string]struct{}, len(t.Result.Hits))
	for _, h := range t.Result.Hits {
		seen[h.DocumentID] = struct{}{}
	}
	return len(seen)
}

// Outcome is everything the orchestrator learned for one request.
type Outcome struct {
	// Tiers are the attempted tiers in priority order.
	Tiers []TierOutcome
	// Enrichment is set when the enrichment pass ran.
	Enrichment *TierOutcome
	UsedTiers  []string
	State      State
	// Degraded is true when a fallback tier supplied hits or the primary
	// tier was insufficient or failed.
	Degraded       bool
	BudgetExceeded bool
	// Failed is true when any attempt ended in error.
	Failed bool
	Trace  *Trace
}

// Orchestrator runs tiers in priority order until one is sufficient.
// Failures are recorded, never propagated; only cancellation of the
// caller's context is returned as an error.
type Orchestrator struct {
	budget     time.Duration
	enrichment config.EnrichmentConfig
	retry      rerrors.RetryConfig
	logger     *slog.Logger
	metrics    Metrics

	breakerOpts []rerrors.CircuitBreakerOption
	mu          sync.Mutex
	breakers    map[string]*rerrors.CircuitBreaker
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithBudget sets the end-to-end request deadline.
func WithBudget(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.budget = d
		}
	}
}

// WithEnrichmentPolicy sets when the enrichment tier runs.
func WithEnrichmentPolicy(cfg config.EnrichmentConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.enrichment = cfg
	}
}

// WithRetry overrides the transport retry policy.
func WithRetry(cfg rerrors.RetryConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.retry = cfg
	}
}

// WithBreakerOptions configures the per-tier circuit breakers.
func WithBreakerOptions(opts ...rerrors.CircuitBreakerOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.breakerOpts = append(o.breakerOpts, opts...)
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOrchestratorMetrics sets the metrics sink.
func WithOrchestratorMetrics(m Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// NewOrchestrator returns an orchestrator with enrichment off.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		budget:     DefaultBudget,
		enrichment: config.EnrichmentConfig{Mode: config.EnrichmentOff},
		retry:      rerrors.TierRetryConfig(),
		logger:     slog.Default(),
		metrics:    nopMetrics{},
		breakers:   make(map[string]*rerrors.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) breaker(name string) *rerrors.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	cb, ok := o.breakers[name]
	if !ok {
		cb = rerrors.NewCircuitBreaker(name, o.breakerOpts...)
		o.breakers[name] = cb
	}
	return cb
}

// BreakerStates reports the circuit state of every tier seen so far.
func (o *Orchestrator) BreakerStates() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.breakers))
	for name, cb := range o.breakers {
		out[name] = cb.State().String()
	}
	return out
}

// Retrieve walks the tier chain. enrich may be nil.
//
// Each tier gets min(its timeout, remaining budget). A sufficient tier ends
// the walk; insufficient or failing tiers keep their hits and advance.
func (o *Orchestrator) Retrieve(ctx context.Context, eq ExpandedQuery, tiers []tier.Adapter, enrich tier.Adapter) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ordered := make([]tier.Adapter, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Capabilities().Priority < ordered[j].Capabilities().Priority
	})

	budgetCtx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()
	deadline, _ := budgetCtx.Deadline()

	req := eq.Request()
	out := &Outcome{
		State: StateInit,
		Trace: &Trace{
			Lexical:     eq.Lexical,
			Semantic:    eq.Semantic,
			Corrections: eq.Corrections,
			Expansions:  eq.Expansions,
		},
	}

	for i, a := range ordered {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			out.BudgetExceeded = true
			o.logger.Warn("request budget exhausted before tier",
				slog.String("tier", a.Capabilities().Name))
			break
		}

		res := o.attempt(budgetCtx, a, req, remaining, false)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.record(res)
		if res.budgetHit {
			out.BudgetExceeded = true
		}

		if i == 0 && res.outcome.State != StateSufficient {
			out.Degraded = true
		}
		if i > 0 && res.outcome.DistinctHits() > 0 {
			out.Degraded = true
		}

		if res.outcome.State == StateSufficient {
			out.State = StateSuccess
			if enrich != nil && o.shouldEnrich(res.outcome) {
				if err := o.enrich(ctx, budgetCtx, deadline, enrich, req, out); err != nil {
					return nil, err
				}
			}
			break
		}
	}

	if out.State != StateSuccess {
		out.State = StateExhausted
	}
	out.Trace.Final = out.State
	out.Trace.BudgetExceeded = out.BudgetExceeded
	return out, nil
}

func (o *Orchestrator) shouldEnrich(sufficient TierOutcome) bool {
	switch o.enrichment.Mode {
	case config.EnrichmentAlways:
		return true
	case config.EnrichmentCeiling:
		return sufficient.DistinctHits() <= o.enrichment.MaxHits
	default:
		return false
	}
}

func (o *Orchestrator) enrich(ctx, budgetCtx context.Context, deadline time.Time, a tier.Adapter, req tier.Request, out *Outcome) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		out.BudgetExceeded = true
		return nil
	}
	if o.enrichment.Timeout > 0 {
		remaining = min(remaining, o.enrichment.Timeout)
	}
	res := o.attempt(budgetCtx, a, req, remaining, true)
	if err := ctx.Err(); err != nil {
		return err
	}
	out.Trace.Attempts = append(out.Trace.Attempts, res.attempt)
	if res.outcome.State == StateError {
		out.Failed = true
		return nil
	}
	if res.outcome.DistinctHits() > 0 {
		out.UsedTiers = append(out.UsedTiers, res.outcome.Descriptor.Name)
	}
	out.Enrichment = &res.outcome
	return nil
}

func (out *Outcome) record(res attemptResult) {
	out.Tiers = append(out.Tiers, res.outcome)
	out.UsedTiers = append(out.UsedTiers, res.outcome.Descriptor.Name)
	out.Trace.Attempts = append(out.Trace.Attempts, res.attempt)
	if res.outcome.State == StateError {
		out.Failed = true
	}
}

type attemptResult struct {
	outcome   TierOutcome
	attempt   Attempt
	budgetHit bool
}

// attempt runs one tier under min(tier timeout, limit), retrying a
// transport failure once inside that deadline.
func (o *Orchestrator) attempt(ctx context.Context, a tier.Adapter, req tier.Request, limit time.Duration, enrichment bool) attemptResult {
	desc := a.Capabilities()
	timeout := limit
	if desc.Timeout > 0 && desc.Timeout < limit {
		timeout = desc.Timeout
	}

	at := Attempt{
		Tier:       desc.Name,
		Priority:   desc.Priority,
		State:      StateAttempt,
		Timeout:    timeout,
		Enrichment: enrichment,
	}
	logger := o.logger.With(slog.String("tier", desc.Name))
	start := time.Now()

	cb := o.breaker(desc.Name)
	if !cb.Allow() {
		te := rerrors.TierTransportError(desc.Name, rerrors.ErrCircuitOpen)
		at.State = StateError
		at.ErrorKind = te.Kind.String()
		at.Error = te.Error()
		at.CircuitOpen = true
		o.metrics.ObserveTierAttempt(desc.Name, StateError, 0)
		logger.Debug("tier skipped, circuit open")
		return attemptResult{
			outcome: TierOutcome{Descriptor: desc, State: StateError, Err: te},
			attempt: at,
		}
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	calls := 0
	result, err := rerrors.RetryWithResult(tctx, o.retry, func() (*tier.Result, error) {
		calls++
		res, err := invoke(tctx, a, req)
		if err != nil {
			return nil, classify(tctx, desc.Name, err)
		}
		return res, nil
	})
	at.Retried = calls > 1
	at.Latency = time.Since(start)

	outcome := TierOutcome{Descriptor: desc, Result: result}
	var budgetHit bool
	if err != nil {
		te := classify(tctx, desc.Name, err)
		outcome.State = StateError
		outcome.Result = nil
		outcome.Err = te
		at.ErrorKind = te.Kind.String()
		at.Error = te.Error()
		budgetHit = te.Kind == rerrors.KindTimeout && ctx.Err() != nil

		if te.Kind == rerrors.KindQuery {
			cb.Release()
			logger.Warn("tier query failed, skipping", rerrors.LogAttrs(te.AsRegError())...)
		} else {
			cb.RecordFailure()
			logger.Warn("tier failed",
				slog.String("kind", te.Kind.String()),
				slog.Bool("retried", at.Retried),
				slog.Duration("timeout", timeout),
				slog.String("error", err.Error()))
		}
	} else {
		cb.RecordSuccess()
		at.Filters = result.Filters
		if ignored := result.Filters.Ignored(); len(ignored) > 0 {
			logger.Warn("tier ignored unsupported filters", slog.Any("fields", ignored))
		}
		if outcome.DistinctHits() >= max(desc.MinHits, 1) {
			outcome.State = StateSufficient
		} else {
			outcome.State = StateInsufficient
		}
	}
	at.State = outcome.State
	at.Hits = outcome.DistinctHits()
	o.metrics.ObserveTierAttempt(desc.Name, outcome.State, at.Latency)

	return attemptResult{outcome: outcome, attempt: at, budgetHit: budgetHit}
}

// classify maps an error onto the tier taxonomy. An expired tier context
// is a timeout whatever the adapter reported.
func classify(tctx context.Context, name string, err error) *rerrors.TierError {
	var te *rerrors.TierError
	if errors.As(err, &te) && te.Tier != "" {
		return te
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return rerrors.TierTimeoutError(name, err)
	}
	return rerrors.ClassifyTierError(name, err)
}

// invoke calls the adapter on its own goroutine so the deadline holds even
// for an adapter that ignores ctx. A late reply is dropped.
func invoke(ctx context.Context, a tier.Adapter, req tier.Request) (*tier.Result, error) {
	type reply struct {
		res *tier.Result
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("tier panic: %v", r)}
			}
		}()
		res, err := a.Search(ctx, req)
		if err == nil && res == nil {
			res = &tier.Result{}
		}
		ch <- reply{res: res, err: err}
	}()

	select {
	case r := <-ch:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
