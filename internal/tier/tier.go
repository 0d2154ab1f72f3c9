// Package tier defines the contract every retrieval tier satisfies and the
// adapters that implement it over bleve, HNSW, Redis search, a citation
// graph, SQLite FTS5 and a Badger scan.
//
// Adapters return native scores unaltered. Normalization and fusion happen
// in the retrieval package.
package tier

import (
	"context"
	"strings"
	"time"

	"github.com/Aman-CERP/regsearch/internal/store"
)

// Modality identifies the kind of signal behind a hit.
type Modality string

const (
	ModalityLexical Modality = "lexical"
	ModalityVector  Modality = "vector"
)

// FilterField names a filterable metadata field.
type FilterField string

const (
	FilterJurisdiction  FilterField = "jurisdiction"
	FilterDocType       FilterField = "doc_type"
	FilterProgram       FilterField = "program"
	FilterEffectiveDate FilterField = "effective_date"
)

// AllFilterFields lists every filter field in a stable order.
var AllFilterFields = []FilterField{
	FilterJurisdiction, FilterDocType, FilterProgram, FilterEffectiveDate,
}

// Filters are the structured constraints of a query. Empty strings and zero
// times do not constrain.
type Filters struct {
	Jurisdiction  string    `json:"jurisdiction,omitempty"`
	DocType       string    `json:"doc_type,omitempty"`
	Program       string    `json:"program,omitempty"`
	EffectiveFrom time.Time `json:"effective_from,omitzero"`
	EffectiveTo   time.Time `json:"effective_to,omitzero"`
}

// Set returns the fields that carry a value.
func (f Filters) Set() []FilterField {
	var out []FilterField
	if f.Jurisdiction != "" {
		out = append(out, FilterJurisdiction)
	}
	if f.DocType != "" {
		out = append(out, FilterDocType)
	}
	if f.Program != "" {
		out = append(out, FilterProgram)
	}
	if !f.EffectiveFrom.IsZero() || !f.EffectiveTo.IsZero() {
		out = append(out, FilterEffectiveDate)
	}
	return out
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool { return len(f.Set()) == 0 }

// Key renders the filters canonically for cache keys.
func (f Filters) Key() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(f.Jurisdiction))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(f.DocType))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(f.Program))
	b.WriteByte('|')
	b.WriteString(store.FormatDate(f.EffectiveFrom))
	b.WriteByte('|')
	b.WriteString(store.FormatDate(f.EffectiveTo))
	return b.String()
}

// Capabilities advertises what a tier can do.
type Capabilities struct {
	Vector         bool `json:"vector"`
	Fuzzy          bool `json:"fuzzy"`
	GraphTraversal bool `json:"graph_traversal"`
}

// Normalization names the score normalization strategy per modality.
type Normalization struct {
	Lexical string  `json:"lexical"`
	Vector  string  `json:"vector"`
	Pivot   float64 `json:"pivot,omitempty"`
}

// Descriptor describes a tier to the orchestrator.
type Descriptor struct {
	Name             string
	Kind             string
	Priority         int
	Capabilities     Capabilities
	SupportedFilters []FilterField
	Policy           FilterPolicy
	Timeout          time.Duration
	MinHits          int
	Weight           float64
	PartialWeight    float64
	Normalization    Normalization
}

// Supports reports whether the tier can apply the given filter field.
func (d Descriptor) Supports(f FilterField) bool {
	for _, s := range d.SupportedFilters {
		if s == f {
			return true
		}
	}
	return false
}

// Metadata is the descriptive part of a hit.
type Metadata struct {
	Title         string    `json:"title,omitempty"`
	Citation      string    `json:"citation,omitempty"`
	Jurisdiction  string    `json:"jurisdiction,omitempty"`
	DocType       string    `json:"doc_type,omitempty"`
	Program       string    `json:"program,omitempty"`
	EffectiveDate time.Time `json:"effective_date,omitzero"`
}

// MetadataFrom copies passage metadata. A nil passage yields empty metadata.
func MetadataFrom(p *store.Passage) Metadata {
	if p == nil {
		return Metadata{}
	}
	return Metadata{
		Title:         p.Title,
		Citation:      p.Citation,
		Jurisdiction:  p.Jurisdiction,
		DocType:       p.DocType,
		Program:       p.Program,
		EffectiveDate: p.EffectiveDate,
	}
}

// Hit is one result from one tier and modality. Hits are values; nothing
// downstream mutates an adapter's hits in place.
type Hit struct {
	DocumentID      string   `json:"doc_id"`
	Tier            string   `json:"tier"`
	Modality        Modality `json:"modality"`
	NativeScore     float64  `json:"native_score"`
	NormalizedScore float64  `json:"normalized_score"`
	Snippet         string   `json:"snippet,omitempty"`
	Metadata        Metadata `json:"metadata"`
}

// Request is what the orchestrator sends to a tier.
type Request struct {
	// Lexical is the expanded query for keyword matching.
	Lexical string
	// Semantic is the original normalized text for embedding.
	Semantic string
	Filters  Filters
	Limit    int
}

// Result is a tier's answer: hits in native rank order per modality, plus a
// record of what happened to each requested filter.
type Result struct {
	Hits    []Hit
	Filters FilterReport
}

// ByModality partitions hits into per-modality lists, preserving order.
func (r *Result) ByModality() map[Modality][]Hit {
	out := make(map[Modality][]Hit, 2)
	if r == nil {
		return out
	}
	for _, h := range r.Hits {
		out[h.Modality] = append(out[h.Modality], h)
	}
	return out
}

// Adapter is a retrieval tier.
type Adapter interface {
	// Search runs the query. Implementations honor ctx cancellation and
	// return native scores.
	Search(ctx context.Context, req Request) (*Result, error)
	// Capabilities describes the tier.
	Capabilities() Descriptor
	Close() error
}

// Loader is implemented by adapters that own a local or remote store that
// can be filled from a fixture.
type Loader interface {
	Load(ctx context.Context, passages []*store.Passage) error
}

// withNative narrows the descriptor's supported filters to what the adapter
// can apply natively. A descriptor without an explicit list takes native.
func withNative(d Descriptor, native []FilterField) Descriptor {
	if d.SupportedFilters == nil {
		d.SupportedFilters = native
		return d
	}
	var out []FilterField
	for _, f := range native {
		if d.Supports(f) {
			out = append(out, f)
		}
	}
	d.SupportedFilters = out
	return d
}
