package memory

import (
	"sort"
	"strings"
	"unicode"
)

// Relevance weights: token overlap carries most of the score, an exact
// substring match of the whole query adds a fixed bonus. Scores are in [0,1].
const (
	overlapWeight = 0.8
	exactBonus    = 0.2
)

type query struct {
	phrase string
	tokens map[string]bool
}

func newQuery(raw string) query {
	q := query{
		phrase: strings.ToLower(strings.TrimSpace(raw)),
		tokens: make(map[string]bool),
	}
	for _, t := range tokenize(raw) {
		q.tokens[t] = true
	}
	return q
}

func (q query) empty() bool { return len(q.tokens) == 0 }

// score returns overlapWeight * (share of query tokens present in content)
// plus exactBonus when content contains the whole query.
func (q query) score(content string) float64 {
	if q.empty() {
		return 0
	}
	present := make(map[string]bool)
	for _, t := range tokenize(content) {
		present[t] = true
	}
	matched := 0
	for t := range q.tokens {
		if present[t] {
			matched++
		}
	}

	s := overlapWeight * float64(matched) / float64(len(q.tokens))
	if strings.Contains(strings.ToLower(content), q.phrase) {
		s += exactBonus
	}
	return s
}

// Score computes the relevance of content for query.
func Score(queryText, content string) float64 {
	return newQuery(queryText).score(content)
}

// HasTerms reports whether query contains anything searchable.
func HasTerms(query string) bool {
	return len(tokenize(query)) > 0
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// SortHits orders hits by score descending, then recency descending.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Entry.CreatedAt != b.Entry.CreatedAt {
			return a.Entry.CreatedAt > b.Entry.CreatedAt
		}
		return a.Entry.Ordinal > b.Entry.Ordinal
	})
}
