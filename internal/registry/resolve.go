package registry

import (
	"github.com/sahilm/fuzzy"
)

// maxCandidates caps how many fuzzy suggestions Resolve returns.
const maxCandidates = 5

// Resolve ranks known session names against a query the user typed. It is
// suggestion-only: callers present the candidates, they never auto-attach on
// a fuzzy match. An exact hit is returned alone.
func Resolve(query string, names []string) []string {
	if query == "" || len(names) == 0 {
		return nil
	}

	for _, n := range names {
		if n == query {
			return []string{n}
		}
	}

	matches := fuzzy.Find(query, names)
	out := make([]string, 0, maxCandidates)
	for _, m := range matches {
		out = append(out, m.Str)
		if len(out) == maxCandidates {
			break
		}
	}
	return out
}
