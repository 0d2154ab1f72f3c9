package store

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// tokenRegex matches runs of letters and digits. Section markers such as
// "12(3)(b)" split into "12", "3", "b".
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// DefaultLegalStopWords are function words that carry no retrieval signal in
// statutory text.
var DefaultLegalStopWords = []string{
	"a", "an", "and", "any", "are", "as", "at", "be", "by", "for", "from",
	"has", "have", "in", "into", "is", "it", "its", "of", "on", "or", "that",
	"the", "their", "this", "to", "under", "was", "were", "which", "with",
	"shall", "may", "such", "pursuant", "thereof", "herein", "hereby",
}

// Span is a token with its byte offsets in the source text.
type Span struct {
	Term  string
	Start int
	End   int
}

// TokenSpans splits text into tokens with exact byte offsets. Terms keep
// their original case.
func TokenSpans(text string) []Span {
	locs := tokenRegex.FindAllStringIndex(text, -1)
	spans := make([]Span, 0, len(locs))
	for _, loc := range locs {
		term := text[loc[0]:loc[1]]
		if !keepToken(term) {
			continue
		}
		spans = append(spans, Span{Term: term, Start: loc[0], End: loc[1]})
	}
	return spans
}

// Tokenize splits text into lowercase tokens.
func Tokenize(text string) []string {
	spans := TokenSpans(text)
	tokens := make([]string, 0, len(spans))
	for _, s := range spans {
		tokens = append(tokens, strings.ToLower(s.Term))
	}
	return tokens
}

// keepToken drops single letters but keeps every number, since section and
// paragraph numbers are meaningful on their own.
func keepToken(t string) bool {
	if utf8.RuneCountInString(t) >= 2 {
		return true
	}
	r, _ := utf8.DecodeRuneInString(t)
	return r >= '0' && r <= '9'
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

var legalStopWords = BuildStopWordMap(DefaultLegalStopWords)

// QueryTerms tokenizes a query and removes stop words and duplicates,
// preserving first-seen order.
func QueryTerms(text string) []string {
	tokens := FilterStopWords(Tokenize(text), legalStopWords)
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

const snippetWidth = 240

// MakeSnippet returns a window of text around the first occurrence of any
// term, trimmed to word boundaries.
func MakeSnippet(text string, terms []string) string {
	if text == "" {
		return ""
	}
	if len(text) <= snippetWidth {
		return text
	}

	anchor := -1
	if len(terms) > 0 {
		want := BuildStopWordMap(terms)
		for _, s := range TokenSpans(text) {
			if _, ok := want[strings.ToLower(s.Term)]; ok {
				anchor = s.Start
				break
			}
		}
	}

	start := 0
	if anchor > snippetWidth/3 {
		start = anchor - snippetWidth/3
	}
	end := start + snippetWidth
	if end > len(text) {
		end = len(text)
		start = max(0, end-snippetWidth)
	}

	// Step to rune and word boundaries.
	for start > 0 && !utf8.RuneStart(text[start]) {
		start++
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end--
	}
	if i := strings.IndexByte(text[start:end], ' '); start > 0 && i >= 0 && i < 20 {
		start += i + 1
	}
	if i := strings.LastIndexByte(text[start:end], ' '); end < len(text) && i > 0 {
		end = start + i
	}

	snippet := strings.TrimSpace(text[start:end])
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(text) {
		snippet += "…"
	}
	return snippet
}
