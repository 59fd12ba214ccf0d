package query

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "who": {}, "what": {}, "which": {}, "where": {}, "when": {},
	"how": {}, "are": {}, "was": {}, "were": {}, "has": {}, "have": {},
	"does": {}, "did": {}, "about": {}, "into": {}, "of": {}, "to": {},
	"los": {}, "las": {}, "del": {}, "con": {}, "por": {}, "para": {},
	"que": {}, "una": {}, "uno": {},
}

// queryTerms returns the normalized query followed by its significant
// words, used to seed traversal by entity name.
func queryTerms(q string) []string {
	norm := common.NormalizeName(q)
	if norm == "" {
		return nil
	}
	terms := []string{norm}
	seen := map[string]bool{norm: true}
	words := strings.FieldsFunc(norm, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if utf8.RuneCountInString(w) < 3 || seen[w] {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}
