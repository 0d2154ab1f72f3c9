package retrieval

import (
	"sort"

	"github.com/Aman-CERP/regsearch/internal/tier"
)

// DefaultRRFConstant is the RRF smoothing parameter k.
const DefaultRRFConstant = 60

// RankedList is one (tier, modality) list entering fusion, in rank order.
type RankedList struct {
	Tier     string
	Priority int
	Modality tier.Modality
	// Weight is the modality weight times the tier weight.
	Weight float64
	Hits   []tier.Hit
}

// RankFuser merges ranked lists with weighted Reciprocal Rank Fusion:
//
//	score(d) = Σ weight_l / (k + rank_l(d))
//
// summed over the lists l that contain d. A list that lacks d contributes
// nothing. One list, or lists of a single modality, go through the same
// path.
type RankFuser struct {
	K int
}

// NewRankFuser returns a fuser. k <= 0 uses DefaultRRFConstant.
func NewRankFuser(k int) *RankFuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RankFuser{K: k}
}

type fusedEntry struct {
	hit      tier.Hit
	priority int // earliest contributing tier
	bestPrio int // priority of the tier that supplied hit
	score    float64
	prov     []Contribution
}

// Fuse combines lists into one deduplicated ranking. For each document the
// reported Hit is the contribution with the highest normalized score. Order
// is final score descending, then earliest tier priority, then document ID.
func (f *RankFuser) Fuse(lists []RankedList) *FusedResult {
	entries := make(map[string]*fusedEntry)

	for _, l := range lists {
		seen := make(map[string]bool, len(l.Hits))
		rank := 0
		for _, h := range l.Hits {
			if seen[h.DocumentID] {
				continue
			}
			seen[h.DocumentID] = true
			rank++

			contrib := l.Weight / float64(f.K+rank)
			e, ok := entries[h.DocumentID]
			if !ok {
				e = &fusedEntry{hit: h, priority: l.Priority, bestPrio: l.Priority}
				entries[h.DocumentID] = e
			} else {
				if l.Priority < e.priority {
					e.priority = l.Priority
				}
				if h.NormalizedScore > e.hit.NormalizedScore ||
					(h.NormalizedScore == e.hit.NormalizedScore && l.Priority < e.bestPrio) {
					e.hit = h
					e.bestPrio = l.Priority
				}
			}
			e.score += contrib
			e.prov = append(e.prov, Contribution{
				Tier:            l.Tier,
				Modality:        l.Modality,
				Rank:            rank,
				NativeScore:     h.NativeScore,
				NormalizedScore: h.NormalizedScore,
				Weight:          l.Weight,
				Score:           contrib,
			})
		}
	}

	ordered := make([]*fusedEntry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.hit.DocumentID < b.hit.DocumentID
	})

	hits := make([]RankedHit, len(ordered))
	for i, e := range ordered {
		hits[i] = RankedHit{Hit: e.hit, FinalScore: e.score, Provenance: e.prov}
	}
	return &FusedResult{
		Hits:            hits,
		FusionMethod:    FusionMethod,
		TotalCandidates: len(hits),
	}
}
