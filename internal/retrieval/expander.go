package retrieval

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xrash/smetrics"

	"github.com/Aman-CERP/regsearch/internal/config"
	"github.com/Aman-CERP/regsearch/internal/store"
)

const (
	defaultMaxExpansions  = 3
	defaultMinFuzzyLength = 4
	// longFuzzyLength is where a second edit becomes acceptable.
	longFuzzyLength = 8
)

// Expander bridges the vocabulary gap between how people ask and how
// statutes are written. It corrects misspelled terms against a known
// vocabulary and appends synonym phrases to the lexical query. The
// semantic query is never rewritten.
//
// Example:
//
//	Input:   "ei eligibilty"
//	Lexical: "ei eligibilty eligibility employment insurance eligible
//	          qualify qualification"
type Expander struct {
	groups        [][][]string           // group -> phrase -> tokens
	byFirst       map[string][]phraseRef // first token -> phrases starting with it
	vocab         map[string]struct{}
	vocabList     []string
	stopWords     map[string]struct{}
	maxExpansions int
	fuzzy         bool
	minFuzzy      int
}

type phraseRef struct {
	group  int
	tokens []string
}

// ExpanderOption configures an Expander.
type ExpanderOption func(*Expander)

// WithSynonymGroups adds groups after the built-in table.
func WithSynonymGroups(groups []SynonymGroup) ExpanderOption {
	return func(e *Expander) {
		for _, g := range groups {
			e.addGroup(g)
		}
	}
}

// WithVocabulary adds terms eligible as typo corrections.
func WithVocabulary(terms []string) ExpanderOption {
	return func(e *Expander) {
		for _, t := range terms {
			e.vocab[strings.ToLower(t)] = struct{}{}
		}
	}
}

// WithMaxExpansions caps the phrases added per matched phrase.
func WithMaxExpansions(n int) ExpanderOption {
	return func(e *Expander) {
		if n >= 0 {
			e.maxExpansions = n
		}
	}
}

// WithFuzzy toggles typo correction and sets the shortest eligible term.
func WithFuzzy(enabled bool, minLength int) ExpanderOption {
	return func(e *Expander) {
		e.fuzzy = enabled
		if minLength > 0 {
			e.minFuzzy = minLength
		}
	}
}

// NewExpander returns an expander seeded with LegalSynonyms. Every synonym
// token is also part of the correction vocabulary.
func NewExpander(opts ...ExpanderOption) *Expander {
	e := &Expander{
		byFirst:       make(map[string][]phraseRef),
		vocab:         make(map[string]struct{}),
		stopWords:     store.BuildStopWordMap(store.DefaultLegalStopWords),
		maxExpansions: defaultMaxExpansions,
		fuzzy:         true,
		minFuzzy:      defaultMinFuzzyLength,
	}
	for _, g := range LegalSynonyms {
		e.addGroup(g)
	}
	for _, opt := range opts {
		opt(e)
	}

	e.vocabList = make([]string, 0, len(e.vocab))
	for t := range e.vocab {
		e.vocabList = append(e.vocabList, t)
	}
	slices.Sort(e.vocabList)
	return e
}

// NewExpanderFromConfig loads the configured synonym and vocabulary files.
func NewExpanderFromConfig(cfg config.ExpansionConfig) (*Expander, error) {
	opts := []ExpanderOption{
		WithMaxExpansions(cfg.MaxExpansions),
		WithFuzzy(cfg.Fuzzy, cfg.MinFuzzyLength),
	}
	if cfg.SynonymsFile != "" {
		groups, err := LoadSynonyms(cfg.SynonymsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSynonymGroups(groups))
	}
	if cfg.VocabularyFile != "" {
		terms, err := LoadVocabulary(cfg.VocabularyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithVocabulary(terms))
	}
	return NewExpander(opts...), nil
}

func (e *Expander) addGroup(g SynonymGroup) {
	idx := len(e.groups)
	var phrases [][]string
	for _, p := range g {
		tokens := store.Tokenize(p)
		if len(tokens) == 0 {
			continue
		}
		phrases = append(phrases, tokens)
		e.byFirst[tokens[0]] = append(e.byFirst[tokens[0]], phraseRef{group: idx, tokens: tokens})
		for _, t := range tokens {
			e.vocab[t] = struct{}{}
		}
	}
	e.groups = append(e.groups, phrases)
}

// Expand produces the lexical and semantic variants of q. The lexical text
// is the original followed by corrections and then synonym phrases, so
// exact matches are never lost.
func (e *Expander) Expand(q Query) ExpandedQuery {
	eq := ExpandedQuery{
		Query:    q,
		Lexical:  q.Text,
		Semantic: q.Text,
	}

	tokens := store.Tokenize(q.Text)
	present := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		present[t] = true
	}

	var extras []string
	matched := make([]string, len(tokens))
	copy(matched, tokens)

	if e.fuzzy {
		for i, t := range tokens {
			fix, ok := e.correct(t)
			if !ok {
				continue
			}
			if eq.Corrections == nil {
				eq.Corrections = make(map[string]string)
			}
			eq.Corrections[t] = fix
			matched[i] = fix
			if !present[fix] {
				present[fix] = true
				extras = append(extras, fix)
			}
		}
	}

	seenPhrase := make(map[string]bool)
	for i := 0; i < len(matched); {
		ref, ok := e.longestMatch(matched, i)
		if !ok {
			i++
			continue
		}
		phrase := strings.Join(ref.tokens, " ")
		seenPhrase[phrase] = true

		added := 0
		for _, other := range e.groups[ref.group] {
			if added >= e.maxExpansions {
				break
			}
			p := strings.Join(other, " ")
			if p == phrase || seenPhrase[p] || (len(other) == 1 && present[p]) {
				continue
			}
			seenPhrase[p] = true
			extras = append(extras, p)
			if eq.Expansions == nil {
				eq.Expansions = make(map[string][]string)
			}
			eq.Expansions[phrase] = append(eq.Expansions[phrase], p)
			added++
		}
		i += len(ref.tokens)
	}

	if len(extras) > 0 {
		eq.Lexical = q.Text + " " + strings.Join(extras, " ")
	}
	eq.Terms = store.QueryTerms(eq.Lexical)
	return eq
}

func (e *Expander) longestMatch(tokens []string, i int) (phraseRef, bool) {
	var best phraseRef
	found := false
	for _, ref := range e.byFirst[tokens[i]] {
		n := len(ref.tokens)
		if i+n > len(tokens) || (found && n <= len(best.tokens)) {
			continue
		}
		if slices.Equal(tokens[i:i+n], ref.tokens) {
			best, found = ref, true
		}
	}
	return best, found
}

// correct returns the closest vocabulary term within the edit allowance.
// Terms of 4 to 7 runes allow one edit, longer terms two. Ties go to the
// lexicographically smallest candidate.
func (e *Expander) correct(term string) (string, bool) {
	if len(e.vocabList) == 0 {
		return "", false
	}
	if _, ok := e.vocab[term]; ok {
		return "", false
	}
	if _, ok := e.stopWords[term]; ok {
		return "", false
	}
	n := utf8.RuneCountInString(term)
	if n < e.minFuzzy || isNumeric(term) {
		return "", false
	}
	allowed := 1
	if n >= longFuzzyLength {
		allowed = 2
	}

	best, bestDist := "", allowed+1
	for _, cand := range e.vocabList {
		diff := utf8.RuneCountInString(cand) - n
		if diff > allowed || -diff > allowed {
			continue
		}
		d := smetrics.WagnerFischer(term, cand, 1, 1, 1)
		if d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best, best != ""
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
