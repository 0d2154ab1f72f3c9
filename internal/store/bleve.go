package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// LegalTokenizerName is the name of the passage tokenizer.
	LegalTokenizerName = "legal_tokenizer"

	// LegalStopFilterName is the name of the legal stop word filter.
	LegalStopFilterName = "legal_stop"

	// LegalAnalyzerName is the analyzer applied to passage text fields.
	LegalAnalyzerName = "legal_analyzer"

	// KeywordAnalyzerName indexes metadata values as one lowercased term.
	KeywordAnalyzerName = "legal_keyword"
)

// Indexed field names.
const (
	fieldTitle         = "title"
	fieldCitation      = "citation"
	fieldText          = "text"
	fieldJurisdiction  = "jurisdiction"
	fieldDocType       = "doc_type"
	fieldProgram       = "program"
	fieldEffectiveDate = "effective_date"
)

var storedFields = []string{
	fieldTitle, fieldCitation, fieldText, fieldJurisdiction,
	fieldDocType, fieldProgram, fieldEffectiveDate,
}

// textFieldBoosts weights title and citation matches above body matches.
var textFieldBoosts = map[string]float64{
	fieldTitle:    2.0,
	fieldCitation: 1.5,
	fieldText:     1.0,
}

func init() {
	_ = registry.RegisterTokenizer(LegalTokenizerName, legalTokenizerConstructor)
	_ = registry.RegisterTokenFilter(LegalStopFilterName, legalStopFilterConstructor)
}

// PassageIndex wraps a bleve index of passages for BM25 search with
// metadata filtering.
type PassageIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// validateIndexIntegrity checks that an on-disk bleve index has a readable
// index_meta.json before bleve opens it.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError checks if an error indicates bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// OpenPassageIndex opens or creates a passage index at path.
// If path is empty, an in-memory index is created.
// A corrupted on-disk index is cleared and recreated; passages must be reloaded.
func OpenPassageIndex(path string) (*PassageIndex, error) {
	indexMapping, err := newPassageMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("passage_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("passage index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("passage_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("passage index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			slog.Info("passage_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, run regsearch load"))
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open passage index: %w", err)
	}

	return &PassageIndex{index: idx, path: path}, nil
}

// newPassageMapping builds the document mapping. Text fields use the legal
// analyzer; metadata fields are single lowercased terms for exact filters.
func newPassageMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(LegalAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": LegalTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			LegalStopFilterName,
			porter.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add legal analyzer: %w", err)
	}
	err = indexMapping.AddCustomAnalyzer(KeywordAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add keyword analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = LegalAnalyzerName

	doc := bleve.NewDocumentMapping()
	for _, name := range []string{fieldTitle, fieldCitation, fieldText} {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = LegalAnalyzerName
		fm.Store = true
		fm.IncludeTermVectors = true
		doc.AddFieldMappingsAt(name, fm)
	}
	for _, name := range []string{fieldJurisdiction, fieldDocType, fieldProgram} {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = KeywordAnalyzerName
		fm.Store = true
		fm.IncludeInAll = false
		doc.AddFieldMappingsAt(name, fm)
	}
	dm := bleve.NewDateTimeFieldMapping()
	dm.Store = true
	doc.AddFieldMappingsAt(fieldEffectiveDate, dm)

	indexMapping.DefaultMapping = doc
	return indexMapping, nil
}

// passageDocument converts a passage into the map bleve indexes.
func passageDocument(p *Passage) map[string]any {
	doc := map[string]any{
		fieldTitle:        p.Title,
		fieldCitation:     p.Citation,
		fieldText:         p.Text,
		fieldJurisdiction: p.Jurisdiction,
		fieldDocType:      p.DocType,
		fieldProgram:      p.Program,
	}
	if !p.EffectiveDate.IsZero() {
		doc[fieldEffectiveDate] = p.EffectiveDate.UTC()
	}
	return doc
}

// Add indexes passages, replacing any with the same ID.
func (b *PassageIndex) Add(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, p := range passages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(p.ID, passageDocument(p)); err != nil {
			return fmt.Errorf("failed to index passage %s: %w", p.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// buildQuery combines the text match with filter clauses.
func buildQuery(q TextQuery) query.Query {
	fields := make([]string, 0, len(textFieldBoosts))
	for f := range textFieldBoosts {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var matches []query.Query
	for _, f := range fields {
		mq := bleve.NewMatchQuery(q.Text)
		mq.SetField(f)
		mq.SetBoost(textFieldBoosts[f])
		if q.Fuzziness > 0 {
			mq.SetFuzziness(q.Fuzziness)
		}
		matches = append(matches, mq)
	}
	text := bleve.NewDisjunctionQuery(matches...)

	clauses := []query.Query{text}
	for field, value := range map[string]string{
		fieldJurisdiction: q.Filter.Jurisdiction,
		fieldDocType:      q.Filter.DocType,
		fieldProgram:      q.Filter.Program,
	} {
		if value == "" {
			continue
		}
		tq := bleve.NewTermQuery(strings.ToLower(value))
		tq.SetField(field)
		clauses = append(clauses, tq)
	}
	if q.Filter.HasDateRange() {
		inclusive := true
		dq := bleve.NewDateRangeInclusiveQuery(q.Filter.From, q.Filter.To, &inclusive, &inclusive)
		dq.SetField(fieldEffectiveDate)
		clauses = append(clauses, dq)
	}

	if len(clauses) == 1 {
		return text
	}
	return bleve.NewConjunctionQuery(clauses...)
}

// Search returns passages matching the query, scored by BM25.
func (b *PassageIndex) Search(ctx context.Context, q TextQuery) ([]*TextResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	if strings.TrimSpace(q.Text) == "" {
		return []*TextResult{}, nil
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}

	req := bleve.NewSearchRequest(buildQuery(q))
	req.Size = q.Limit
	req.Fields = storedFields
	req.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*TextResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		p := passageFromFields(hit.ID, hit.Fields)
		terms := extractMatchedTerms(hit)
		results = append(results, &TextResult{
			ID:           hit.ID,
			Score:        hit.Score,
			Snippet:      MakeSnippet(p.Text, terms),
			MatchedTerms: terms,
			Passage:      p,
		})
	}
	return results, nil
}

// Lookup returns stored metadata for the given IDs. Unknown IDs are absent
// from the result.
func (b *PassageIndex) Lookup(ctx context.Context, ids []string) (map[string]*Passage, error) {
	out := make(map[string]*Passage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery(ids))
	req.Size = len(ids)
	req.Fields = storedFields

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	for _, hit := range result.Hits {
		out[hit.ID] = passageFromFields(hit.ID, hit.Fields)
	}
	return out, nil
}

// Delete removes passages from the index.
func (b *PassageIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	return nil
}

// Count returns the number of indexed passages.
func (b *PassageIndex) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrClosed
	}
	return b.index.DocCount()
}

// Close closes the index. It is safe to call more than once.
func (b *PassageIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

func passageFromFields(id string, fields map[string]any) *Passage {
	str := func(name string) string {
		if v, ok := fields[name].(string); ok {
			return v
		}
		return ""
	}
	p := &Passage{
		ID:           id,
		Title:        str(fieldTitle),
		Citation:     str(fieldCitation),
		Text:         str(fieldText),
		Jurisdiction: str(fieldJurisdiction),
		DocType:      str(fieldDocType),
		Program:      str(fieldProgram),
	}
	if raw := str(fieldEffectiveDate); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			p.EffectiveDate = t.UTC()
		}
	}
	return p
}

// extractMatchedTerms collects the indexed terms that matched in any text field.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if _, ok := textFieldBoosts[field]; !ok {
			continue
		}
		for term := range locations {
			terms[term] = struct{}{}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	sort.Strings(result)
	return result
}

func legalTokenizerConstructor(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &legalTokenizer{}, nil
}

// legalTokenizer implements analysis.Tokenizer using TokenSpans.
type legalTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *legalTokenizer) Tokenize(input []byte) analysis.TokenStream {
	spans := TokenSpans(string(input))
	result := make(analysis.TokenStream, 0, len(spans))
	for i, s := range spans {
		typ := analysis.AlphaNumeric
		if isNumeric(s.Term) {
			typ = analysis.Numeric
		}
		result = append(result, &analysis.Token{
			Term:     []byte(s.Term),
			Start:    s.Start,
			End:      s.End,
			Position: i + 1,
			Type:     typ,
		})
	}
	return result
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func legalStopFilterConstructor(config map[string]any, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &legalStopFilter{stopWords: BuildStopWordMap(DefaultLegalStopWords)}, nil
}

// legalStopFilter drops legal stop words. It runs after lowercasing.
type legalStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *legalStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[string(token.Term)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
