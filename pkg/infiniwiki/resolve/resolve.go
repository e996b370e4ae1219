// Package resolve maps a normalized word to the canonical name it refers to.
//
// The lemmatizer handles the common case. Only words it reports as
// out-of-vocabulary and cannot reduce are sent to the language model. Any
// failure on the way degrades the word to self-canonical instead of
// failing: a single bad word never aborts its batch.
package resolve

import (
	"context"
	"time"

	"github.com/cognicore/infiniwiki/internal/logger"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/lemma"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/normalize"
)

// Kind distinguishes confident from degraded canonicalization.
type Kind int

const (
	// Resolved means the canonical name came from the lemmatizer or model.
	Resolved Kind = iota
	// Degraded means resolution failed and the word was kept as its own canonical name.
	Degraded
)

func (k Kind) String() string {
	if k == Degraded {
		return "degraded"
	}
	return "resolved"
}

// Source records which step produced the canonical name.
type Source string

const (
	SourceLemmatizer Source = "lemmatizer"
	SourceModel      Source = "model"
	SourceFallback   Source = "fallback"
)

// Result is the outcome of resolving one word.
type Result struct {
	Word      string
	Canonical string
	Kind      Kind
	Source    Source
	Reason    string // set when Kind == Degraded
}

// SelfCanonical reports whether the word is its own canonical name.
func (r Result) SelfCanonical() bool {
	return r.Canonical == r.Word
}

// Canonicalizer is the language-model fallback: it returns a single base
// word for word.
type Canonicalizer interface {
	Canonicalize(ctx context.Context, word string) (string, error)
}

// Resolver resolves words to canonical names. Model may be nil, in which
// case unknown words resolve to themselves.
type Resolver struct {
	Lemmatizer lemma.Lemmatizer
	Model      Canonicalizer
	// ModelTimeout bounds a single model call. Zero means no extra bound.
	ModelTimeout time.Duration
	Log          *logger.Logger
}

// New creates a resolver.
func New(lem lemma.Lemmatizer, model Canonicalizer, modelTimeout time.Duration, log *logger.Logger) *Resolver {
	return &Resolver{
		Lemmatizer:   lem,
		Model:        model,
		ModelTimeout: modelTimeout,
		Log:          logger.OrNop(log).With("component", "resolver"),
	}
}

// Resolve returns the canonical name for word. word is expected to be
// normalized; it is normalized again here. The canonical
// name is never re-resolved, so an alias always points at its canonical
// entry directly.
func (r *Resolver) Resolve(ctx context.Context, word string) Result {
	word = normalize.Word(word)
	if word == "" {
		return r.degrade(word, "empty word")
	}

	lem, err := r.Lemmatizer.Lemmatize(ctx, word)
	if err != nil {
		return r.degrade(word, "lemmatizer: "+err.Error())
	}

	candidate := lem.Base
	source := SourceLemmatizer
	if lem.OOV && (lem.Base == word || lem.Base == "") {
		if r.Model == nil {
			return Result{Word: word, Canonical: word, Kind: Resolved, Source: SourceFallback}
		}
		out, err := r.askModel(ctx, word)
		if err != nil {
			return r.degrade(word, "model: "+err.Error())
		}
		candidate = out
		source = SourceModel
	}

	candidate = normalize.Word(candidate)
	if candidate == "" {
		return r.degrade(word, "empty candidate from "+string(source))
	}
	return Result{Word: word, Canonical: candidate, Kind: Resolved, Source: source}
}

func (r *Resolver) askModel(ctx context.Context, word string) (string, error) {
	if r.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ModelTimeout)
		defer cancel()
	}
	return r.Model.Canonicalize(ctx, word)
}

func (r *Resolver) degrade(word, reason string) Result {
	logger.OrNop(r.Log).Warn("canonicalization degraded", "word", word, "reason", reason)
	return Result{Word: word, Canonical: word, Kind: Degraded, Source: SourceFallback, Reason: reason}
}
