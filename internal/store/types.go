// Package store provides the persistence clients behind the retrieval tiers:
// a bleve passage index, an HNSW vector index, an SQLite FTS5 passage table,
// a citation graph and a Badger passage KV.
package store

import (
	"fmt"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
)

// DateLayout is the on-disk format for effective dates.
const DateLayout = "2006-01-02"

// Passage is a pre-chunked unit of legal or regulatory text.
type Passage struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Citation      string    `json:"citation"`
	Jurisdiction  string    `json:"jurisdiction"`
	DocType       string    `json:"doc_type"`
	Program       string    `json:"program"`
	EffectiveDate time.Time `json:"effective_date"`
	Text          string    `json:"text"`
	Cites         []string  `json:"cites,omitempty"`
}

// ParseDate accepts either a plain date or an RFC 3339 timestamp.
// An empty string yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}

// FormatDate renders t in DateLayout, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

// PassageFilter restricts results by metadata. Empty fields do not constrain.
// A date range excludes passages without an effective date.
type PassageFilter struct {
	Jurisdiction string
	DocType      string
	Program      string
	From         time.Time
	To           time.Time
}

// IsZero reports whether the filter constrains nothing.
func (f PassageFilter) IsZero() bool {
	return f.Jurisdiction == "" && f.DocType == "" && f.Program == "" &&
		f.From.IsZero() && f.To.IsZero()
}

// HasDateRange reports whether either date bound is set.
func (f PassageFilter) HasDateRange() bool {
	return !f.From.IsZero() || !f.To.IsZero()
}

// Matches evaluates the filter against a passage's metadata.
func (f PassageFilter) Matches(p *Passage) bool {
	if p == nil {
		return false
	}
	if f.Jurisdiction != "" && !strings.EqualFold(f.Jurisdiction, p.Jurisdiction) {
		return false
	}
	if f.DocType != "" && !strings.EqualFold(f.DocType, p.DocType) {
		return false
	}
	if f.Program != "" && !strings.EqualFold(f.Program, p.Program) {
		return false
	}
	if f.HasDateRange() {
		if p.EffectiveDate.IsZero() {
			return false
		}
		if !f.From.IsZero() && p.EffectiveDate.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && p.EffectiveDate.After(f.To) {
			return false
		}
	}
	return true
}

// TextQuery is a full-text query with metadata constraints.
type TextQuery struct {
	Text      string
	Limit     int
	Fuzziness int // max edit distance per term, 0 disables
	Filter    PassageFilter
}

// TextResult is a single full-text match. Score is the store's native
// relevance score; higher is better.
type TextResult struct {
	ID           string
	Score        float64
	Snippet      string
	MatchedTerms []string
	Passage      *Passage // metadata only, Text may be empty
}

// VectorResult represents a vector similarity search result.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32 // similarity in [0,1], higher is better
}

// VectorConfig configures the HNSW vector index.
type VectorConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int    // max connections per node
	EfSearch   int    // search candidate list size
}

// ErrDimensionMismatch indicates the query or stored vector has the wrong size.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: index has %d dimensions, got %d (rerun 'regsearch load' after changing embedding models)",
		e.Expected, e.Got)
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = rerrors.ErrStoreClosed
