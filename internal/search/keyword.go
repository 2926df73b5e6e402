package search

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Weights of a query term found in a segment.
const (
	exactMatchCredit     = 1.0
	substringMatchCredit = 0.5
	minSubstringRunes    = 3
)

// Stop words dropped from queries unless the query consists only of them.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "we": true, "or": true,
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit or combining mark.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsMark(r)
	})
}

// QueryTerms returns the distinct scoring terms of a query in first-seen order.
func QueryTerms(query string) []string {
	tokens := tokenize(query)
	seen := make(map[string]bool, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if stopWords[t] || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	if len(terms) > 0 {
		return terms
	}
	// Only stop words: score on them rather than on nothing.
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// ScoreTerms scores text against pre-computed query terms. Each term earns
// full credit for an exact token match and half credit when it only occurs
// inside a longer token; the sum is divided by the number of terms.
func ScoreTerms(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}

	var sum float64
	for _, term := range terms {
		if set[term] {
			sum += exactMatchCredit
			continue
		}
		if !substringEligible(term) {
			continue
		}
		for _, tok := range tokens {
			if len(tok) > len(term) && strings.Contains(tok, term) {
				sum += substringMatchCredit
				break
			}
		}
	}
	return sum / float64(len(terms))
}

// KeywordScore returns the lexical relevance of text to query in [0,1].
func KeywordScore(query, text string) float64 {
	return ScoreTerms(QueryTerms(query), text)
}

// substringEligible reports whether a term may match inside longer tokens.
// Scripts written without spaces produce long tokens, so any length counts.
func substringEligible(term string) bool {
	for _, r := range term {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul, unicode.Thai) {
			return true
		}
	}
	return utf8.RuneCountInString(term) >= minSubstringRunes
}
