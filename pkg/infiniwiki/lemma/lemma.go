// Package lemma reduces English words to their dictionary base form.
//
// Rules is a rule-based lemmatizer backed by a lexicon of irregular forms
// and a vocabulary of known base words. Suffix rules only apply when the
// vocabulary confirms the reduced form. Anything else is reported
// out-of-vocabulary and unchanged so callers can fall back to a stronger
// (and more expensive) resolver.
package lemma

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/lexicon"
)

//go:embed data/english.yaml
var englishData []byte

// Lemma is the result of lemmatizing a single word.
type Lemma struct {
	Base string // base form, lowercase
	OOV  bool   // word (and its base) are not in the vocabulary
}

// Lemmatizer reduces a word to its base form.
type Lemmatizer interface {
	Lemmatize(ctx context.Context, word string) (Lemma, error)
}

// Func adapts a function to the Lemmatizer interface.
type Func func(ctx context.Context, word string) (Lemma, error)

// Lemmatize implements Lemmatizer.
func (f Func) Lemmatize(ctx context.Context, word string) (Lemma, error) {
	return f(ctx, word)
}

// Rules is a lexicon and suffix-rule lemmatizer. It is safe for concurrent
// use once constructed.
type Rules struct {
	lex *lexicon.Lexicon
}

// NewRules builds a lemmatizer from the embedded English data. Extra
// lexicons are merged on top in order, so later entries override built-in
// irregular forms.
func NewRules(extra ...*lexicon.Lexicon) (*Rules, error) {
	lex, err := lexicon.Parse(englishData)
	if err != nil {
		return nil, fmt.Errorf("lemma: parse embedded data: %w", err)
	}
	for _, l := range extra {
		lex.Merge(l)
	}
	return &Rules{lex: lex}, nil
}

// Lexicon exposes the merged lexicon.
func (r *Rules) Lexicon() *lexicon.Lexicon {
	return r.lex
}

// Lemmatize implements Lemmatizer.
func (r *Rules) Lemmatize(ctx context.Context, word string) (Lemma, error) {
	if err := ctx.Err(); err != nil {
		return Lemma{}, err
	}
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" {
		return Lemma{OOV: true}, nil
	}

	if base, ok := r.lex.Lookup(w); ok {
		return Lemma{Base: base}, nil
	}
	if r.lex.IsKnown(w) {
		return Lemma{Base: w}, nil
	}

	for _, c := range candidates(w) {
		if r.lex.IsKnown(c) {
			return Lemma{Base: r.lex.Normalize(c)}, nil
		}
	}
	// An unconfirmed strip turns "physics" into "physic".
	return Lemma{Base: w, OOV: true}, nil
}

// candidates lists possible base forms of w, most likely first.
func candidates(w string) []string {
	var out []string
	add := func(base string) {
		if len(base) < 2 || base == w {
			return
		}
		for _, c := range out {
			if c == base {
				return
			}
		}
		out = append(out, base)
	}
	n := len(w)
	plural := false

	switch {
	case strings.HasSuffix(w, "ies") && n > 4:
		add(w[:n-3] + "y")
		add(w[:n-1])
		plural = true
	case strings.HasSuffix(w, "ves") && n > 4:
		add(w[:n-3] + "f")
		add(w[:n-3] + "fe")
		add(w[:n-1])
		plural = true
	case hasAnySuffix(w, "sses", "shes", "ches", "xes", "zes") && n > 4:
		add(w[:n-2])
		add(w[:n-1])
		plural = true
	}
	if !plural && strings.HasSuffix(w, "s") && !hasAnySuffix(w, "ss", "us", "is") && n > 3 {
		add(w[:n-1])
	}

	switch {
	case strings.HasSuffix(w, "ied") && n > 4:
		add(w[:n-3] + "y")
	case strings.HasSuffix(w, "ed") && n > 4:
		stem := w[:n-2]
		add(stem)
		add(w[:n-1])
		add(undouble(stem))
	case strings.HasSuffix(w, "ing") && n > 5:
		stem := w[:n-3]
		add(stem)
		add(stem + "e")
		add(undouble(stem))
	case strings.HasSuffix(w, "est") && n > 5:
		stem := w[:n-3]
		add(stem)
		add(w[:n-2])
		add(undouble(stem))
	case strings.HasSuffix(w, "er") && n > 4:
		stem := w[:n-2]
		add(stem)
		add(w[:n-1])
		add(undouble(stem))
	}
	return out
}

// undouble strips a doubled final consonant: "stopp" -> "stop".
func undouble(stem string) string {
	n := len(stem)
	if n < 3 {
		return stem
	}
	last := stem[n-1]
	if last == stem[n-2] && !isVowel(last) && last != 'l' && last != 's' && last != 'z' {
		return stem[:n-1]
	}
	return stem
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
