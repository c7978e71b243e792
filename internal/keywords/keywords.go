// Package keywords provides keyword extraction and overlap scoring for
// bug-report text.
//
// The overlap score is a cheap, explainable proxy for "these two reports
// describe the same kind of failure". It is used to rank candidate learned
// matches from the correction store; it never replaces a reasoning-model
// call on its own.
package keywords

import (
	"strings"
	"unicode"
)

// minTokenLength is the shortest token kept after normalization.
// Tokens of this length or shorter carry almost no signal ("the", "a", "is").
const minTokenLength = 3

// stopWords are common words excluded from keyword sets regardless of length.
var stopWords = map[string]struct{}{
	"this": {}, "that": {}, "with": {}, "from": {}, "have": {},
	"when": {}, "then": {}, "does": {}, "should": {}, "would": {},
	"page": {}, "issue": {}, "user": {}, "users": {}, "there": {},
	"which": {}, "where": {}, "after": {}, "before": {}, "while": {},
	"being": {}, "been": {}, "will": {}, "must": {}, "into": {},
}

// Set is a set of normalized keywords.
type Set map[string]struct{}

// Contains reports whether the set holds the given keyword.
func (s Set) Contains(word string) bool {
	_, ok := s[word]
	return ok
}

// Extract returns the normalized keyword set for text.
//
// Normalization: lowercase, punctuation stripped to spaces, whitespace
// tokenization. Tokens of length <= 3 and stop words are discarded.
func Extract(text string) Set {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	set := make(Set)
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) <= minTokenLength {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard returns the Jaccard index between two keyword sets:
// |intersection| / |union|. Defined as 0 when the union is empty.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	intersection := 0
	for word := range a {
		if _, ok := b[word]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Similarity is a convenience wrapper extracting keywords from both texts
// and returning their Jaccard index.
func Similarity(textA, textB string) float64 {
	return Jaccard(Extract(textA), Extract(textB))
}
