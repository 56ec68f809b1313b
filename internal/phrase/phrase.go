// Package phrase normalizes search phrases.
package phrase

import (
	"strings"

	"golang.org/x/text/cases"
)

// Key returns the case-folded form of s used for case-insensitive
// comparison. Runs of whitespace collapse to one space.
func Key(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// Equal reports whether a and b are the same phrase ignoring case.
func Equal(a, b string) bool {
	return Key(a) == Key(b)
}

// Normalize trims phrases, drops empty ones and removes exact duplicates
// while keeping first-seen order.
func Normalize(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	seen := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Quoted wraps p in double quotes for a phrase-match query.
func Quoted(p string) string {
	return `"` + strings.Trim(strings.TrimSpace(p), `"`) + `"`
}

// Exact prefixes every word of p with '!' to pin word forms.
func Exact(p string) string {
	words := strings.Fields(p)
	for i, w := range words {
		words[i] = "!" + strings.TrimLeft(w, "!")
	}
	return strings.Join(words, " ")
}
