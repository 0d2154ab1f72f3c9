package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/regsearch/internal/config"
	"github.com/Aman-CERP/regsearch/internal/embed"
	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/store"
)

// EnrichmentTierName labels hits from the enrichment pass.
const EnrichmentTierName = "enrichment"

// Set is the configured tier chain plus the optional enrichment tier.
type Set struct {
	// Tiers are ordered by ascending priority.
	Tiers []Adapter
	// Enrichment is nil when enrichment is off or no hybrid tier exists.
	Enrichment Adapter
}

// DescriptorFrom builds a descriptor from tier configuration. Supported
// filters are left to the adapter.
func DescriptorFrom(t config.TierConfig) Descriptor {
	return Descriptor{
		Name:          t.Name,
		Kind:          t.Kind,
		Priority:      t.Priority,
		Capabilities:  Capabilities{Fuzzy: t.Fuzzy},
		Policy:        ParsePolicy(t.UnsupportedFilters),
		Timeout:       t.Timeout,
		MinHits:       t.MinHits,
		Weight:        t.Weight,
		PartialWeight: t.PartialWeight,
		Normalization: Normalization{
			Lexical: t.Normalizer.Lexical,
			Vector:  t.Normalizer.Vector,
			Pivot:   t.Normalizer.Pivot,
		},
	}
}

// Build opens every active tier. On failure, tiers opened so far are
// closed.
func Build(cfg *config.Config, embedder embed.Embedder, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	active := cfg.ActiveTiers()
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority < active[j].Priority })

	set := &Set{}
	var hybrid *Hybrid
	for _, t := range active {
		a, err := open(cfg, t, embedder, logger)
		if err != nil {
			_ = set.Close()
			return nil, rerrors.New(rerrors.ErrCodeIndexOpen, fmt.Sprintf("open tier %s: %v", t.Name, err), err).
				WithDetail("tier", t.Name).
				WithDetail("path", cfg.StorePath(t))
		}
		if h, ok := a.(*Hybrid); ok && hybrid == nil {
			hybrid = h
		}
		set.Tiers = append(set.Tiers, a)
		logger.Debug("tier opened",
			slog.String("tier", t.Name),
			slog.String("kind", t.Kind),
			slog.Int("priority", t.Priority))
	}

	if cfg.Enrichment.Mode != config.EnrichmentOff && cfg.Enrichment.Mode != "" {
		if hybrid == nil || !hybrid.Capabilities().Capabilities.Vector {
			logger.Warn("enrichment disabled: no hybrid tier with a vector index")
		} else {
			v, err := hybrid.VectorOnly(EnrichmentDescriptor(cfg.Enrichment, len(active)))
			if err != nil {
				_ = set.Close()
				return nil, err
			}
			set.Enrichment = v
		}
	}
	return set, nil
}

// EnrichmentDescriptor describes the vector enrichment pass. Its priority
// sorts after every tier.
func EnrichmentDescriptor(e config.EnrichmentConfig, priority int) Descriptor {
	return Descriptor{
		Name:          EnrichmentTierName,
		Kind:          "vector",
		Priority:      priority,
		Policy:        PolicyIgnore,
		Timeout:       e.Timeout,
		Weight:        e.Weight,
		PartialWeight: e.Weight,
		Normalization: Normalization{Lexical: "clamp", Vector: "clamp"},
	}
}

func open(cfg *config.Config, t config.TierConfig, embedder embed.Embedder, logger *slog.Logger) (Adapter, error) {
	desc := DescriptorFrom(t)
	dir := cfg.StorePath(t)
	switch t.Kind {
	case config.KindHybrid:
		return OpenHybrid(desc, dir, embedder, logger)
	case config.KindRedis:
		return OpenRedis(desc, t.Addr, t.Index, embedder, logger)
	case config.KindGraph:
		return OpenGraph(desc, dir, t.Depth, t.Decay)
	case config.KindRelational:
		return OpenRelational(desc, dir)
	case config.KindScan:
		return OpenScan(desc, dir)
	default:
		return nil, fmt.Errorf("unknown tier kind %q", t.Kind)
	}
}

// Load writes passages into every tier that accepts them.
func (s *Set) Load(ctx context.Context, passages []*store.Passage) error {
	for _, a := range s.Tiers {
		l, ok := a.(Loader)
		if !ok {
			continue
		}
		if err := l.Load(ctx, passages); err != nil {
			return fmt.Errorf("load tier %s: %w", a.Capabilities().Name, err)
		}
	}
	return nil
}

// Close closes every tier.
func (s *Set) Close() error {
	var errs []error
	if s.Enrichment != nil {
		errs = append(errs, s.Enrichment.Close())
	}
	for _, a := range s.Tiers {
		errs = append(errs, a.Close())
	}
	return errors.Join(errs...)
}
