// Package infiniwiki is the engine behind a wiki where every word links to
// an article that is written the first time someone opens it.
package infiniwiki

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cognicore/infiniwiki/internal/logger"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/cache"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/discovery"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/enrich"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/ident"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/lemma"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/normalize"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/registry"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/render"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/resolve"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
)

const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultHistoryLimit = 20
	DefaultHomeName     = "Infinite Wiki"

	instrumentation = "github.com/cognicore/infiniwiki/pkg/infiniwiki"
)

// Wiki is the main engine facade
type Wiki struct {
	store    store.Store
	cache    cache.Cache
	registry *registry.Registry
	pipeline *enrich.Pipeline
	renderer *render.Renderer
	machine  *discovery.Machine

	ttl          time.Duration
	historyLimit int
	homeName     string
	log          *logger.Logger
	tracer       trace.Tracer
}

// Options configures a Wiki instance
type Options struct {
	Store store.Store
	// Cache defaults to no caching.
	Cache    cache.Cache
	CacheTTL time.Duration

	// Lemmatizer defaults to the built-in English rules.
	Lemmatizer lemma.Lemmatizer
	// Model is the optional language-model fallback for unknown words.
	Model        resolve.Canonicalizer
	ModelTimeout time.Duration
	// Generator writes articles on first visit.
	Generator discovery.Generator

	ChunkSize    int
	Workers      int
	BasePath     string
	HistoryLimit int
	HomeName     string

	Logger *logger.Logger
}

// New wires a Wiki from its collaborators.
func New(opts Options) (*Wiki, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("infiniwiki: store is required: %w", internalerr.ErrInvalidConfig)
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.HomeName == "" {
		opts.HomeName = DefaultHomeName
	}
	if opts.Lemmatizer == nil {
		rules, err := lemma.NewRules()
		if err != nil {
			return nil, fmt.Errorf("infiniwiki: lemmatizer: %w", err)
		}
		opts.Lemmatizer = rules
	}
	log := logger.OrNop(opts.Logger)

	reg := registry.New(opts.Store, opts.Cache, opts.CacheTTL, log)
	res := resolve.New(opts.Lemmatizer, opts.Model, opts.ModelTimeout, log)

	return &Wiki{
		store:    opts.Store,
		cache:    opts.Cache,
		registry: reg,
		pipeline: enrich.New(res, reg,
			enrich.WithChunkSize(opts.ChunkSize),
			enrich.WithWorkers(opts.Workers),
			enrich.WithLogger(log)),
		renderer:     render.New(reg, opts.BasePath),
		machine:      discovery.New(opts.Store, opts.Cache, opts.Generator, log),
		ttl:          opts.CacheTTL,
		historyLimit: opts.HistoryLimit,
		homeName:     opts.HomeName,
		log:          log,
		tracer:       otel.Tracer(instrumentation),
	}, nil
}

// Close cleanly shuts down the cache and the store
func (w *Wiki) Close() error {
	cerr := w.cache.Close()
	if err := w.store.Close(); err != nil {
		return err
	}
	return cerr
}

func (w *Wiki) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return w.tracer.Start(ctx, "infiniwiki."+op, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RenderLinkedText links every registered word in text. It never creates
// entries; run EnrichUnknownWords first for unseen words.
func (w *Wiki) RenderLinkedText(ctx context.Context, text, viewer string) (out string, err error) {
	ctx, span := w.start(ctx, "RenderLinkedText", attribute.Int("text.bytes", len(text)))
	defer func() { finish(span, err) }()
	return w.renderer.Render(ctx, text, viewer)
}

// EnrichUnknownWords normalizes words, registers the ones the registry
// has not seen and returns the identifier of every linkable word.
func (w *Wiki) EnrichUnknownWords(ctx context.Context, words []string) (ids map[string]string, err error) {
	ctx, span := w.start(ctx, "EnrichUnknownWords")
	defer func() { finish(span, err) }()

	set := normalize.Set(words)
	ids, err = w.registry.LookupMany(ctx, set)
	if err != nil {
		return nil, err
	}
	var unknown []string
	for _, word := range set {
		if _, ok := ids[word]; !ok {
			unknown = append(unknown, word)
		}
	}
	span.SetAttributes(attribute.Int("words.known", len(ids)), attribute.Int("words.unknown", len(unknown)))
	w.log.Debug("enrichment requested", "known", len(ids), "unknown", len(unknown))
	if len(unknown) == 0 {
		return ids, nil
	}

	created, err := w.pipeline.Enrich(ctx, unknown)
	if err != nil {
		return nil, err
	}
	for word, id := range created {
		ids[word] = id
	}
	return ids, nil
}

// GenerateLinks enriches the unseen words of text and renders it.
func (w *Wiki) GenerateLinks(ctx context.Context, text, viewer string) (string, error) {
	if _, err := w.EnrichUnknownWords(ctx, normalize.Fields(text)); err != nil {
		return "", err
	}
	return w.RenderLinkedText(ctx, text, viewer)
}

// GetOrGenerateContent returns the article content for identifier,
// generating it on the first visit. Each call counts one visit.
func (w *Wiki) GetOrGenerateContent(ctx context.Context, identifier, viewer string) (content string, err error) {
	ctx, span := w.start(ctx, "GetOrGenerateContent", attribute.String("article.id", identifier))
	defer func() { finish(span, err) }()

	out, err := w.machine.Visit(ctx, identifier, viewer)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Bool("article.generated", out.Generated))
	return out.Entry.Content, nil
}

// RecordVisit counts a visit to identifier by viewer.
func (w *Wiki) RecordVisit(ctx context.Context, identifier, viewer string) (err error) {
	ctx, span := w.start(ctx, "RecordVisit", attribute.String("article.id", identifier))
	defer func() { finish(span, err) }()

	_, err = w.machine.RecordVisit(ctx, identifier, viewer)
	return err
}

// GetAggregateStats returns registry-wide counts.
func (w *Wiki) GetAggregateStats(ctx context.Context) (st store.Stats, err error) {
	ctx, span := w.start(ctx, "GetAggregateStats")
	defer func() { finish(span, err) }()

	if cached, ok := cache.GetJSON[store.Stats](ctx, w.cache, cache.StatsKey); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}
	st, err = w.store.Stats(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	cache.SetJSON(ctx, w.cache, cache.StatsKey, st, w.ttl)
	return st, nil
}

// UserHistory is what a viewer discovered and recently read.
type UserHistory struct {
	Viewer     string
	Discovered []store.Entry
	Recent     []store.Visit
}

// GetUserHistory returns viewer's discoveries and latest visits.
func (w *Wiki) GetUserHistory(ctx context.Context, viewer string) (h UserHistory, err error) {
	ctx, span := w.start(ctx, "GetUserHistory")
	defer func() { finish(span, err) }()

	key := cache.HistoryKey(viewer)
	if cached, ok := cache.GetJSON[UserHistory](ctx, w.cache, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}

	h = UserHistory{Viewer: viewer}
	if h.Discovered, err = w.store.DiscoveredBy(ctx, viewer, w.historyLimit); err != nil {
		return UserHistory{}, err
	}
	if h.Recent, err = w.store.RecentVisits(ctx, viewer, w.historyLimit); err != nil {
		return UserHistory{}, err
	}
	// Content is not part of a history listing.
	for i := range h.Discovered {
		h.Discovered[i].Content = ""
	}
	cache.SetJSON(ctx, w.cache, key, h, w.ttl)
	return h, nil
}

// Article returns the canonical entry for identifier without counting a visit.
func (w *Wiki) Article(ctx context.Context, identifier string) (e store.Entry, err error) {
	ctx, span := w.start(ctx, "Article", attribute.String("article.id", identifier))
	defer func() { finish(span, err) }()

	key := cache.ArticleKey(identifier)
	if cached, ok := cache.GetJSON[store.Entry](ctx, w.cache, key); ok {
		return cached, nil
	}
	e, found, err := w.store.GetCanonical(ctx, identifier)
	if err != nil {
		return store.Entry{}, err
	}
	if !found {
		return store.Entry{}, fmt.Errorf("article %s: %w", identifier, internalerr.ErrNotFound)
	}
	cache.SetJSON(ctx, w.cache, key, e, w.ttl)
	return e, nil
}

// Page is a fully prepared article view.
type Page struct {
	Identifier string
	Title      string
	HTML       string
	Stats      store.Stats
}

// Page visits identifier, generating its content if needed, and links
// the words of the content.
func (w *Wiki) Page(ctx context.Context, identifier, viewer string) (Page, error) {
	out, err := w.machine.Visit(ctx, identifier, viewer)
	if err != nil {
		return Page{}, err
	}
	linked, err := w.GenerateLinks(ctx, out.Entry.Content, viewer)
	if err != nil {
		return Page{}, err
	}
	st, err := w.GetAggregateStats(ctx)
	if err != nil {
		return Page{}, err
	}
	return Page{Identifier: identifier, Title: out.Entry.Name, HTML: linked, Stats: st}, nil
}

// Home is the Page of the seeded home article.
func (w *Wiki) Home(ctx context.Context, viewer string) (Page, error) {
	return w.Page(ctx, ident.Assign(w.homeName), viewer)
}

// Seed stores an already discovered article under name, verbatim. An
// existing entry with that name is left untouched.
func (w *Wiki) Seed(ctx context.Context, name, content, discoverer string) (id string, inserted bool, err error) {
	if name == "" || content == "" {
		return "", false, fmt.Errorf("seed: name and content required: %w", internalerr.ErrInvalidInput)
	}
	id = ident.Assign(name)
	inserted, err = w.store.InsertEntry(ctx, store.Entry{
		Identifier:    id,
		Name:          name,
		Content:       content,
		Discoverer:    discoverer,
		DiscoveryTime: time.Now().UTC(),
	})
	if err != nil {
		return "", false, fmt.Errorf("seed %q: %w", name, err)
	}
	if inserted {
		w.cache.Delete(ctx, cache.StatsKey, cache.HistoryKey(discoverer))
		w.log.Info("seeded article", "name", name, "identifier", id)
	}
	return id, inserted, nil
}
