package server

import (
	"fmt"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/retrieval"
	"github.com/Aman-CERP/regsearch/internal/store"
	"github.com/Aman-CERP/regsearch/internal/tier"
)

// Request is the wire form of a parsed query. Dates are YYYY-MM-DD or
// RFC 3339. The CLI batch mode reads the same shape, one per line, and
// golden query files embed it as YAML.
type Request struct {
	Text     string             `json:"text" yaml:"text"`
	Entities retrieval.Entities `json:"entities" yaml:"entities"`
	Intent   string             `json:"intent,omitempty" yaml:"intent"`
	Filters  RequestFilters     `json:"filters" yaml:"filters"`
	Hints    *retrieval.Weights `json:"hints,omitempty" yaml:"hints"`
	Limit    int                `json:"limit,omitempty" yaml:"limit"`
	NoCache  bool               `json:"no_cache,omitempty" yaml:"no_cache"`
	Explain  bool               `json:"explain,omitempty" yaml:"explain"`
}

// RequestFilters are the suggested filters of a Request.
type RequestFilters struct {
	Jurisdiction  string `json:"jurisdiction,omitempty" yaml:"jurisdiction"`
	DocType       string `json:"doc_type,omitempty" yaml:"doc_type"`
	Program       string `json:"program,omitempty" yaml:"program"`
	EffectiveFrom string `json:"effective_from,omitempty" yaml:"effective_from"`
	EffectiveTo   string `json:"effective_to,omitempty" yaml:"effective_to"`
}

// Parsed converts the request into the engine's input.
func (r Request) Parsed() (retrieval.ParsedQuery, error) {
	from, err := store.ParseDate(r.Filters.EffectiveFrom)
	if err != nil {
		return retrieval.ParsedQuery{}, invalidDate("effective_from", err)
	}
	to, err := store.ParseDate(r.Filters.EffectiveTo)
	if err != nil {
		return retrieval.ParsedQuery{}, invalidDate("effective_to", err)
	}
	return retrieval.ParsedQuery{
		Text:     r.Text,
		Entities: r.Entities,
		Intent:   r.Intent,
		SuggestedFilters: tier.Filters{
			Jurisdiction:  r.Filters.Jurisdiction,
			DocType:       r.Filters.DocType,
			Program:       r.Filters.Program,
			EffectiveFrom: from,
			EffectiveTo:   to,
		},
		Hints:   r.Hints,
		Limit:   r.Limit,
		NoCache: r.NoCache,
		Explain: r.Explain,
	}, nil
}

func invalidDate(field string, err error) error {
	return rerrors.ValidationError(fmt.Sprintf("invalid %s", field), err).
		WithDetail("field", field).
		WithSuggestion("Use YYYY-MM-DD")
}
