// Package suggest ranks known definition names against a misspelled one.
package suggest

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// DefaultLimit is the number of suggestions returned when limit is not positive.
const DefaultLimit = 3

// Names returns up to limit candidates that resemble query, best first.
//
// Candidates are ranked by fuzzy subsequence match of query against each
// candidate. When nothing matches that way, candidates that are themselves a
// subsequence of query are tried (catching extra characters), and finally a
// case-insensitive prefix match on the first letters.
func Names(query string, candidates []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query = strings.TrimSpace(query)
	if query == "" || len(candidates) == 0 {
		return nil
	}

	var out []string
	for _, m := range fuzzy.Find(query, candidates) {
		if m.Str == query {
			continue
		}
		out = append(out, m.Str)
	}
	if len(out) == 0 {
		out = contained(query, candidates)
	}
	if len(out) == 0 {
		out = prefixed(query, candidates)
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// contained returns candidates that fuzzy-match inside query, best first.
func contained(query string, candidates []string) []string {
	type hit struct {
		name  string
		score int
	}
	var hits []hit
	target := []string{query}
	for _, c := range candidates {
		if c == query {
			continue
		}
		if m := fuzzy.Find(c, target); len(m) > 0 {
			hits = append(hits, hit{name: c, score: m[0].Score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

// prefixed returns candidates sharing the first two letters of query,
// ignoring case.
func prefixed(query string, candidates []string) []string {
	n := 2
	if len([]rune(query)) < n {
		n = len([]rune(query))
	}
	prefix := strings.ToLower(string([]rune(query)[:n]))

	var out []string
	for _, c := range candidates {
		if c != query && strings.HasPrefix(strings.ToLower(c), prefix) {
			out = append(out, c)
		}
	}
	return out
}
