package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aman-CERP/regsearch/internal/cache"
	"github.com/Aman-CERP/regsearch/internal/config"
	"github.com/Aman-CERP/regsearch/internal/embed"
	"github.com/Aman-CERP/regsearch/internal/metrics"
	"github.com/Aman-CERP/regsearch/internal/retrieval"
	"github.com/Aman-CERP/regsearch/internal/tier"
)

// runtime holds everything a command opens from configuration.
type runtime struct {
	cfg       *config.Config
	embedder  embed.Embedder
	tiers     *tier.Set
	engine    *retrieval.Engine
	collector *metrics.Collector
}

// openTiers opens the embedder and every configured tier, without an engine.
func openTiers(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	embedder, err := embed.New(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	set, err := tier.Build(cfg, embedder, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	return &runtime{cfg: cfg, embedder: embedder, tiers: set}, nil
}

// openRuntime opens the tiers and builds the engine over them. reg may be
// nil, in which case no metrics are collected.
func openRuntime(cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*runtime, error) {
	rt, err := openTiers(cfg, logger)
	if err != nil {
		return nil, err
	}

	expander, err := retrieval.NewExpanderFromConfig(cfg.Expansion)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	opts := []retrieval.EngineOption{
		retrieval.WithExpander(expander),
		retrieval.WithLogger(logger),
	}
	if rt.tiers.Enrichment != nil {
		opts = append(opts, retrieval.WithEnrichment(rt.tiers.Enrichment))
	}
	if cfg.Cache.Enabled {
		c, err := cache.New[*retrieval.CachedResult](cfg.Cache.Size, cache.WithShards(cfg.Cache.Shards))
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("create result cache: %w", err)
		}
		opts = append(opts, retrieval.WithCache(c))
	}
	if reg != nil {
		rt.collector = metrics.New(reg)
		opts = append(opts, retrieval.WithMetrics(rt.collector))
	}

	engine, err := retrieval.NewEngine(cfg, rt.tiers.Tiers, opts...)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.engine = engine
	return rt, nil
}

// Close releases tiers and the embedder. The engine owns the tiers once
// built, so only one of the two closes them.
func (rt *runtime) Close() error {
	var errs []error
	if rt.engine != nil {
		errs = append(errs, rt.engine.Close())
	} else if rt.tiers != nil {
		errs = append(errs, rt.tiers.Close())
	}
	if rt.embedder != nil {
		errs = append(errs, rt.embedder.Close())
	}
	return errors.Join(errs...)
}
