package lexicon

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lexicon stores word-form knowledge used to canonicalize words:
// - Forms: inflected or irregular forms mapped to a base form (are -> be, mice -> mouse)
// - Vocabulary: base forms known to be canonical as-is (the, loyal, dog)
//
// A variant always points directly at its base form; base forms never point
// further. Lookups are therefore a single hop.
type Lexicon struct {
	// canonical -> all variants (including canonical itself)
	// Example: "be" -> ["be", "am", "are", "is", "was", "were"]
	forms map[string][]string

	// variant -> canonical
	// Example: "were" -> "be"
	reverseIndex map[string]string

	// known base forms
	vocabulary map[string]struct{}
}

// New creates an empty lexicon.
func New() *Lexicon {
	return &Lexicon{
		forms:        make(map[string][]string),
		reverseIndex: make(map[string]string),
		vocabulary:   make(map[string]struct{}),
	}
}

// file is the YAML layout accepted by Parse.
//
//	forms:
//	  - canonical: be
//	    variants: [am, are, is, was, were]
//	  - canonical: mouse
//	    variants: [mice]
//	vocabulary: [the, a, loyal, dog]
type file struct {
	Forms []struct {
		Canonical string   `yaml:"canonical"`
		Variants  []string `yaml:"variants"`
	} `yaml:"forms"`
	Vocabulary []string `yaml:"vocabulary"`
}

// Parse builds a lexicon from YAML data. Entries are lowercased; canonical
// forms are added to the vocabulary.
func Parse(data []byte) (*Lexicon, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	lex := New()
	for _, entry := range f.Forms {
		canonical := strings.ToLower(strings.TrimSpace(entry.Canonical))
		if canonical == "" {
			continue
		}
		lex.AddFormGroup(canonical, entry.Variants)
	}
	for _, w := range f.Vocabulary {
		lex.AddWord(w)
	}
	return lex, nil
}

// LoadFromYAML reads and parses a lexicon file.
func LoadFromYAML(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// AddFormGroup adds a base form with its variants. The canonical form is
// always the first entry of the group. If the group already exists, old
// reverse index entries are cleaned up first.
//
// A variant that is itself the base of another group is skipped so that no
// base form ever redirects to a second one.
func (l *Lexicon) AddFormGroup(canonical string, variants []string) {
	canonical = strings.ToLower(strings.TrimSpace(canonical))
	if canonical == "" {
		return
	}
	if target, ok := l.reverseIndex[canonical]; ok && target != canonical {
		// canonical was a variant elsewhere; it becomes a base form now
		l.removeVariant(target, canonical)
	}

	if oldVariants, exists := l.forms[canonical]; exists {
		for _, oldV := range oldVariants {
			delete(l.reverseIndex, oldV)
		}
	}

	normalized := make([]string, 0, len(variants)+1)
	seen := make(map[string]bool)

	normalized = append(normalized, canonical)
	seen[canonical] = true

	for _, v := range variants {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		if _, isBase := l.forms[v]; isBase {
			continue
		}
		if target, ok := l.reverseIndex[v]; ok && target != canonical {
			l.removeVariant(target, v)
		}
		normalized = append(normalized, v)
		seen[v] = true
	}

	l.forms[canonical] = normalized
	l.vocabulary[canonical] = struct{}{}

	for _, v := range normalized {
		l.reverseIndex[v] = canonical
	}
}

func (l *Lexicon) removeVariant(canonical, variant string) {
	group := l.forms[canonical]
	for i, v := range group {
		if v == variant {
			l.forms[canonical] = append(group[:i:i], group[i+1:]...)
			break
		}
	}
	delete(l.reverseIndex, variant)
}

// AddWord registers a known base form.
func (l *Lexicon) AddWord(word string) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return
	}
	l.vocabulary[word] = struct{}{}
}

// Merge copies other into l. Groups from other replace groups with the same
// canonical form in l.
func (l *Lexicon) Merge(other *Lexicon) {
	if other == nil {
		return
	}
	for canonical, variants := range other.forms {
		l.AddFormGroup(canonical, variants[1:])
	}
	for w := range other.vocabulary {
		l.vocabulary[w] = struct{}{}
	}
}

// Normalize returns the base form of a word.
// If the word is not a known variant, returns the word itself.
//
// Examples:
//   - Normalize("were") -> "be"
//   - Normalize("unknown") -> "unknown"
func (l *Lexicon) Normalize(word string) string {
	word = strings.ToLower(word)
	if canonical, ok := l.reverseIndex[word]; ok {
		return canonical
	}
	return word
}

// Lookup returns the base form recorded for word, if any.
func (l *Lexicon) Lookup(word string) (string, bool) {
	canonical, ok := l.reverseIndex[strings.ToLower(word)]
	return canonical, ok
}

// Variants returns all known forms of a word (including the canonical form).
// If the word is not in the lexicon, returns a slice containing only the word itself.
func (l *Lexicon) Variants(word string) []string {
	word = strings.ToLower(word)

	if variants, ok := l.forms[word]; ok {
		return variants
	}
	if canonical, ok := l.reverseIndex[word]; ok {
		if variants, ok := l.forms[canonical]; ok {
			return variants
		}
	}
	return []string{word}
}

// IsKnown reports whether word is a known base form or a recorded variant.
func (l *Lexicon) IsKnown(word string) bool {
	word = strings.ToLower(word)
	if _, ok := l.vocabulary[word]; ok {
		return true
	}
	_, ok := l.reverseIndex[word]
	return ok
}

// Words returns the vocabulary sorted alphabetically.
func (l *Lexicon) Words() []string {
	out := make([]string, 0, len(l.vocabulary))
	for w := range l.vocabulary {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Stats returns statistics about the lexicon contents.
func (l *Lexicon) Stats() Stats {
	totalVariants := 0
	for _, variants := range l.forms {
		totalVariants += len(variants)
	}
	return Stats{
		FormGroups:     len(l.forms),
		TotalVariants:  totalVariants,
		VocabularySize: len(l.vocabulary),
	}
}

// Stats holds statistics about lexicon contents.
type Stats struct {
	FormGroups     int // Number of canonical forms with variants
	TotalVariants  int // Total number of forms across all groups
	VocabularySize int // Number of known base forms
}
