// Package normalize turns raw word occurrences into canonical surface forms.
package normalize

import (
	"regexp"
	"strings"
)

// markup matches HTML-like tags and character entities (named, decimal, hex).
var markup = regexp.MustCompile(`<.*?>|&([a-z0-9]+|#[0-9]{1,6}|#x[0-9a-f]{1,6});`)

// Word returns the surface form of raw: markup removed, lowercased, and
// reduced to [a-z0-9]. An empty result means the token is not linkable.
//
// Examples:
//   - Word("Cats") -> "cats"
//   - Word("<b>Dogs</b>,") -> "dogs"
//   - Word("&mdash;") -> ""
func Word(raw string) string {
	word := strings.ToLower(strings.TrimSpace(raw))
	word = markup.ReplaceAllString(word, "")

	var b strings.Builder
	b.Grow(len(word))
	for i := 0; i < len(word); i++ {
		c := word[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Fields splits text into whitespace-delimited tokens, keeping each token's
// original surface form and order.
func Fields(text string) []string {
	return strings.Fields(text)
}

// Unique normalizes every whitespace token of text and returns the distinct
// non-empty results in order of first appearance.
func Unique(text string) []string {
	return Set(Fields(text))
}

// Set normalizes words and returns the distinct non-empty results in order
// of first appearance.
func Set(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		n := Word(w)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
