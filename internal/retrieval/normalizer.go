package retrieval

import (
	"math"

	"github.com/Aman-CERP/regsearch/internal/tier"
)

// Normalization strategies.
const (
	// StrategyMinMax rescales the batch so its best hit is 1 and worst is 0.
	StrategyMinMax = "minmax"
	// StrategySaturation maps unbounded scores through x/(x+pivot).
	StrategySaturation = "saturation"
	// StrategyClamp passes bounded similarities through, clamped to [0,1].
	StrategyClamp = "clamp"
)

// DefaultSingleHitScore is the normalized score of a lone hit.
const DefaultSingleHitScore = 0.75

const defaultPivot = 1.0

// scoreCeiling replaces infinite native scores; min-max spreads stay finite.
const scoreCeiling = 1e300

// Normalizer maps native tier scores onto [0,1]. It is deterministic and
// preserves order within a list.
type Normalizer struct {
	singleHit float64
}

// NewNormalizer returns a normalizer. singleHit outside (0,1) falls back
// to DefaultSingleHitScore.
func NewNormalizer(singleHit float64) *Normalizer {
	if singleHit <= 0 || singleHit >= 1 {
		singleHit = DefaultSingleHitScore
	}
	return &Normalizer{singleHit: singleHit}
}

// Normalize returns copies of hits with NormalizedScore set. A one-hit
// list, or a min-max list with no spread, gets the single-hit score.
// Unknown strategies behave like clamp.
func (n *Normalizer) Normalize(hits []tier.Hit, strategy string, pivot float64) []tier.Hit {
	out := make([]tier.Hit, len(hits))
	copy(out, hits)
	if len(out) == 0 {
		return out
	}
	if len(out) == 1 {
		out[0].NormalizedScore = n.singleHit
		return out
	}

	switch strategy {
	case StrategyMinMax:
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, h := range out {
			s := finite(h.NativeScore)
			lo = math.Min(lo, s)
			hi = math.Max(hi, s)
		}
		spread := hi - lo
		for i := range out {
			if spread == 0 {
				out[i].NormalizedScore = n.singleHit
				continue
			}
			out[i].NormalizedScore = (finite(out[i].NativeScore) - lo) / spread
		}
	case StrategySaturation:
		if pivot <= 0 {
			pivot = defaultPivot
		}
		for i := range out {
			s := finite(out[i].NativeScore)
			if s <= 0 {
				out[i].NormalizedScore = 0
				continue
			}
			out[i].NormalizedScore = s / (s + pivot)
		}
	default:
		for i := range out {
			out[i].NormalizedScore = clamp01(finite(out[i].NativeScore))
		}
	}
	return out
}

// NormalizeFor applies the tier's configured strategy for the hit modality.
func (n *Normalizer) NormalizeFor(d tier.Descriptor, modality tier.Modality, hits []tier.Hit) []tier.Hit {
	strategy := d.Normalization.Lexical
	if modality == tier.ModalityVector {
		strategy = d.Normalization.Vector
	}
	return n.Normalize(hits, strategy, d.Normalization.Pivot)
}

func finite(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case math.IsInf(x, 1):
		return scoreCeiling
	case math.IsInf(x, -1):
		return -scoreCeiling
	}
	return x
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
