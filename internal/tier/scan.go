package tier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Aman-CERP/regsearch/internal/store"
)

// ScanSupportedFilters are applied while scanning. Program is left out:
// the scan tier serves as the broad last resort.
var ScanSupportedFilters = []FilterField{FilterJurisdiction, FilterDocType, FilterEffectiveDate}

// Field weights for term overlap scoring.
const (
	scanTitleWeight    = 2.0
	scanCitationWeight = 1.5
	scanTextWeight     = 1.0
)

// Scan is the fallback tier: a full pass over the Badger passage store,
// scoring by weighted query term overlap.
type Scan struct {
	desc Descriptor
	kv   *store.PassageKV
}

// NewScan wires a scan tier over an open store.
func NewScan(desc Descriptor, kv *store.PassageKV) *Scan {
	return &Scan{desc: withNative(desc, ScanSupportedFilters), kv: kv}
}

// OpenScan opens the Badger directory under dir.
func OpenScan(desc Descriptor, dir string) (*Scan, error) {
	kv, err := store.OpenPassageKV(dir)
	if err != nil {
		return nil, err
	}
	return NewScan(desc, kv), nil
}

// Capabilities implements Adapter.
func (s *Scan) Capabilities() Descriptor { return s.desc }

// Search implements Adapter.
func (s *Scan) Search(ctx context.Context, req Request) (*Result, error) {
	native, report, err := Translate(s.desc, req.Filters)
	if err != nil {
		return nil, err
	}
	terms := store.QueryTerms(req.Lexical)
	if len(terms) == 0 {
		return &Result{Filters: report}, nil
	}

	type scored struct {
		p     *store.Passage
		score float64
	}
	var matches []scored
	err = s.kv.Scan(ctx, func(p *store.Passage) error {
		if !native.IsZero() && !native.Matches(p) {
			return nil
		}
		if score := overlapScore(terms, p); score > 0 {
			matches = append(matches, scored{p: p, score: score})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("passage scan: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].p.ID < matches[j].p.ID
	})
	if req.Limit > 0 && len(matches) > req.Limit {
		matches = matches[:req.Limit]
	}

	hits := make([]Hit, len(matches))
	for i, m := range matches {
		hits[i] = Hit{
			DocumentID:  m.p.ID,
			Tier:        s.desc.Name,
			Modality:    ModalityLexical,
			NativeScore: m.score,
			Snippet:     store.MakeSnippet(m.p.Text, terms),
			Metadata:    MetadataFrom(m.p),
		}
	}
	return &Result{Hits: hits, Filters: report}, nil
}

// overlapScore sums field weights for each query term present. Body
// occurrences saturate as tf/(tf+1).
func overlapScore(terms []string, p *store.Passage) float64 {
	title := termCounts(p.Title)
	citation := termCounts(p.Citation)
	text := termCounts(p.Text)

	var score float64
	for _, t := range terms {
		if title[t] > 0 {
			score += scanTitleWeight
		}
		if citation[t] > 0 {
			score += scanCitationWeight
		}
		if tf := float64(text[t]); tf > 0 {
			score += scanTextWeight * tf / (tf + 1)
		}
	}
	return score
}

func termCounts(s string) map[string]int {
	counts := make(map[string]int)
	for _, t := range store.Tokenize(strings.TrimSpace(s)) {
		counts[t]++
	}
	return counts
}

// Load implements Loader.
func (s *Scan) Load(ctx context.Context, passages []*store.Passage) error {
	return s.kv.Put(ctx, passages)
}

// Close implements Adapter.
func (s *Scan) Close() error { return s.kv.Close() }
