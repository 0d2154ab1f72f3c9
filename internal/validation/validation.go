// Package validation runs golden queries against the retrieval engine.
//
// Queries are data-driven: a YAML file lists core queries that must find
// an expected passage, extended queries that should, and negative queries
// that must come back empty without error. Editing the file needs no
// rebuild.
package validation

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/regsearch/internal/retrieval"
	"github.com/Aman-CERP/regsearch/internal/server"
)

// DefaultTopK is how deep an expected passage may appear by default.
const DefaultTopK = 5

// Suite names a query group.
type Suite string

const (
	SuiteCore     Suite = "core"
	SuiteExtended Suite = "extended"
	SuiteNegative Suite = "negative"
)

// QuerySpec is one golden query.
type QuerySpec struct {
	ID    string         `yaml:"id" json:"id"`
	Name  string         `yaml:"name" json:"name"`
	Query server.Request `yaml:"query" json:"query"`
	// Expected passage IDs; any one within TopK passes.
	Expected []string `yaml:"expected" json:"expected,omitempty"`
	TopK     int      `yaml:"top_k" json:"top_k,omitempty"`
	Notes    string   `yaml:"notes" json:"notes,omitempty"`
	Suite    Suite    `yaml:"-" json:"suite"`
}

// QueryConfig holds every suite from one file.
type QueryConfig struct {
	Core     []QuerySpec `yaml:"core"`
	Extended []QuerySpec `yaml:"extended"`
	Negative []QuerySpec `yaml:"negative"`
}

// LoadQueries reads a query file and tags each spec with its suite.
func LoadQueries(path string) (*QueryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read queries file %s: %w", path, err)
	}
	var cfg QueryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse queries file %s: %w", path, err)
	}

	tag := func(specs []QuerySpec, s Suite) error {
		for i := range specs {
			specs[i].Suite = s
			if specs[i].Query.Text == "" {
				return fmt.Errorf("%s query %q has no text", s, specs[i].ID)
			}
			if s != SuiteNegative && len(specs[i].Expected) == 0 {
				return fmt.Errorf("%s query %q lists no expected passages", s, specs[i].ID)
			}
		}
		return nil
	}
	if err := tag(cfg.Core, SuiteCore); err != nil {
		return nil, err
	}
	if err := tag(cfg.Extended, SuiteExtended); err != nil {
		return nil, err
	}
	if err := tag(cfg.Negative, SuiteNegative); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TestResult is the outcome of one query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []string      `json:"top_results"`
	// MatchedAt is the 1-based rank of the first expected passage, 0 if absent.
	MatchedAt int              `json:"matched_at"`
	Degraded  bool             `json:"degraded,omitempty"`
	Reason    retrieval.Reason `json:"reason,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// SuiteResult tallies one suite.
type SuiteResult struct {
	Results []TestResult `json:"results"`
	Passed  int          `json:"passed"`
	Total   int          `json:"total"`
}

func (s *SuiteResult) add(tr TestResult) {
	s.Results = append(s.Results, tr)
	s.Total++
	if tr.Passed {
		s.Passed++
	}
}

// ValidationResult is a full run.
type ValidationResult struct {
	Timestamp time.Time   `json:"timestamp"`
	Core      SuiteResult `json:"core"`
	Extended  SuiteResult `json:"extended"`
	Negative  SuiteResult `json:"negative"`
	// MRR is the mean reciprocal rank over core and extended queries.
	MRR float64 `json:"mrr"`
}

// OK reports whether every core and negative query passed. Extended
// queries are advisory.
func (r *ValidationResult) OK() bool {
	return r.Core.Passed == r.Core.Total && r.Negative.Passed == r.Negative.Total
}

// Validator runs golden queries.
type Validator struct {
	engine server.Retriever
}

// NewValidator wraps an engine.
func NewValidator(engine server.Retriever) *Validator {
	return &Validator{engine: engine}
}

// RunQuery executes one spec. Caching is bypassed so every run measures
// the tiers.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	result := TestResult{Spec: spec}

	req := spec.Query
	req.NoCache = true
	pq, err := req.Parsed()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := v.engine.Retrieve(ctx, pq)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Degraded = resp.Degraded
	result.Reason = resp.Reason
	for _, h := range resp.Hits {
		result.TopResults = append(result.TopResults, h.DocumentID)
	}

	if spec.Suite == SuiteNegative {
		result.Passed = len(resp.Hits) == 0 && resp.Reason == retrieval.ReasonNoResults
		return result
	}
	topK := spec.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	result.MatchedAt = firstMatch(result.TopResults, spec.Expected)
	result.Passed = result.MatchedAt > 0 && result.MatchedAt <= topK
	return result
}

// RunAll executes every suite in order.
func (v *Validator) RunAll(ctx context.Context, cfg *QueryConfig) *ValidationResult {
	result := &ValidationResult{Timestamp: time.Now()}

	var rr float64
	ranked := 0
	for _, spec := range cfg.Core {
		tr := v.RunQuery(ctx, spec)
		result.Core.add(tr)
		rr += reciprocal(tr.MatchedAt)
		ranked++
	}
	for _, spec := range cfg.Extended {
		tr := v.RunQuery(ctx, spec)
		result.Extended.add(tr)
		rr += reciprocal(tr.MatchedAt)
		ranked++
	}
	for _, spec := range cfg.Negative {
		result.Negative.add(v.RunQuery(ctx, spec))
	}
	if ranked > 0 {
		result.MRR = rr / float64(ranked)
	}
	return result
}

func firstMatch(results, expected []string) int {
	for i, id := range results {
		if slices.Contains(expected, id) {
			return i + 1
		}
	}
	return 0
}

func reciprocal(rank int) float64 {
	if rank <= 0 {
		return 0
	}
	return 1 / float64(rank)
}
