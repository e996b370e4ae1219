package config

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cognicore/infiniwiki/internal/llm"
	"github.com/cognicore/infiniwiki/internal/logger"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/cache"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/lemma"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/lexicon"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store/memstore"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store/postgres"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store/sqlite"
)

// Loader constructs components from a Config
type Loader struct {
	Config Config
	Log    *logger.Logger
}

// OpenStore opens the configured entry store.
func (l *Loader) OpenStore(ctx context.Context) (store.Store, error) {
	db := l.Config.Database
	if db.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, db.Timeout)
		defer cancel()
	}
	switch db.Driver {
	case "sqlite":
		return sqlite.OpenSQLite(ctx, db.DSN)
	case "postgres":
		return postgres.Open(ctx, db.DSN)
	case "memory":
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("database driver %q: %w", db.Driver, internalerr.ErrInvalidConfig)
}

// OpenCache opens the configured cache. An unreachable Redis yields a
// no-op cache.
func (l *Loader) OpenCache(ctx context.Context) (cache.Cache, error) {
	c := l.Config.Cache
	return cache.Open(ctx, cache.Options{
		Backend:  c.Backend,
		RedisURL: c.RedisURL,
		MaxSize:  c.MaxSize,
		TTL:      c.TTL,
	}, l.Log)
}

// Lemmatizer builds the rule lemmatizer, merged with the configured
// lexicon file if any.
func (l *Loader) Lemmatizer() (*lemma.Rules, error) {
	if l.Config.LexiconPath == "" {
		return lemma.NewRules()
	}
	lex, err := lexicon.LoadFromYAML(l.Config.LexiconPath)
	if err != nil {
		return nil, fmt.Errorf("load lexicon: %w", err)
	}
	return lemma.NewRules(lex)
}

// Models returns the canonicalization and article clients. Both are nil
// when no API key is configured.
func (l *Loader) Models() (*llm.Client, *llm.ArticleGenerator) {
	c := l.Config.LLM
	if c.APIKey == "" {
		return nil, nil
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	canonical := &llm.Client{BaseURL: c.BaseURL, APIKey: c.APIKey, Model: c.CanonicalModel, HTTPClient: httpClient}
	article := &llm.Client{BaseURL: c.BaseURL, APIKey: c.APIKey, Model: c.ArticleModel, HTTPClient: httpClient}
	return canonical, &llm.ArticleGenerator{Client: article, MinWords: c.ArticleMinWords}
}

// Open wires a Wiki from the configuration.
func (l *Loader) Open(ctx context.Context) (*infiniwiki.Wiki, error) {
	log := logger.OrNop(l.Log)

	st, err := l.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c, err := l.OpenCache(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	rules, err := l.Lemmatizer()
	if err != nil {
		st.Close()
		c.Close()
		return nil, err
	}

	opts := infiniwiki.Options{
		Store:        st,
		Cache:        c,
		CacheTTL:     l.Config.Cache.TTL,
		Lemmatizer:   rules,
		ModelTimeout: l.Config.LLM.CanonicalTimeout,
		ChunkSize:    l.Config.Enrich.ChunkSize,
		Workers:      l.Config.Enrich.Workers,
		BasePath:     l.Config.Links.BasePath,
		HomeName:     l.Config.Seed.Name,
		Logger:       log,
	}
	// Typed nil clients must not reach the interface fields.
	if canonical, article := l.Models(); canonical != nil {
		opts.Model = canonical
		opts.Generator = article
	} else {
		log.Warn("no LLM API key configured; unknown words stay self-canonical and articles cannot be generated")
	}

	w, err := infiniwiki.New(opts)
	if err != nil {
		st.Close()
		c.Close()
		return nil, err
	}
	return w, nil
}
