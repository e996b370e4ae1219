// Package enrich resolves and registers batches of previously unseen words.
package enrich

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/infiniwiki/internal/logger"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/normalize"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/resolve"
)

const (
	DefaultChunkSize = 10
	DefaultWorkers   = 4

	instrumentation = "github.com/cognicore/infiniwiki/pkg/infiniwiki/enrich"
)

// Resolver canonicalizes a single word. It never fails; failures come back
// as resolve.Degraded results.
type Resolver interface {
	Resolve(ctx context.Context, word string) resolve.Result
}

// Registry is the subset of registry.Registry the pipeline writes through.
type Registry interface {
	Ensure(ctx context.Context, name string) (string, error)
	EnsureAlias(ctx context.Context, canonicalName, aliasName string) (string, error)
}

// Pipeline splits a word set into chunks and resolves and commits the
// chunks concurrently. Chunks share no state besides the registry, whose
// conflict-ignoring inserts make overlapping batches safe.
type Pipeline struct {
	resolver  Resolver
	registry  Registry
	chunkSize int
	workers   int
	log       *logger.Logger

	tracer   trace.Tracer
	words    metric.Int64Counter
	degraded metric.Int64Counter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunkSize sets how many words one worker handles per task.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithWorkers bounds the number of chunks processed at once.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.log = logger.OrNop(l) }
}

// New creates a pipeline.
func New(res Resolver, reg Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver:  res,
		registry:  reg,
		chunkSize: DefaultChunkSize,
		workers:   DefaultWorkers,
		log:       logger.Nop(),
		tracer:    otel.Tracer(instrumentation),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "enrich")

	meter := otel.Meter(instrumentation)
	var err error
	if p.words, err = meter.Int64Counter("infiniwiki.enrich.words",
		metric.WithDescription("Words resolved and registered by the enrichment pipeline")); err != nil {
		p.words = noop.Int64Counter{}
	}
	if p.degraded, err = meter.Int64Counter("infiniwiki.resolve.degraded",
		metric.WithDescription("Words that fell back to self-canonical after a resolution failure")); err != nil {
		p.degraded = noop.Int64Counter{}
	}
	return p
}

// Enrich resolves every word and registers it, returning each normalized
// word's identifier: the canonical entry's identifier whether the word is
// self-canonical or an alias. Words that normalize to nothing are skipped.
// A resolution failure only degrades its word; a registry failure aborts
// the batch and is returned.
func (p *Pipeline) Enrich(ctx context.Context, words []string) (map[string]string, error) {
	set := normalize.Set(words)
	ctx, span := p.tracer.Start(ctx, "enrich.Enrich",
		trace.WithAttributes(attribute.Int("enrich.words", len(set))))
	defer span.End()

	out := make(map[string]string, len(set))
	if len(set) == 0 {
		return out, nil
	}

	chunks := chunk(set, p.chunkSize)
	results := make([]map[string]string, len(chunks))
	var degraded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, words := range chunks {
		i, words := i, words
		g.Go(func() error {
			ids := make(map[string]string, len(words))
			for _, w := range words {
				if err := gctx.Err(); err != nil {
					return err
				}
				id, kind, err := p.commit(gctx, w)
				if err != nil {
					return err
				}
				if kind == resolve.Degraded {
					degraded.Add(1)
				}
				ids[w] = id
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("enrich %d words: %w", len(set), err)
	}

	for _, ids := range results {
		for w, id := range ids {
			out[w] = id
		}
	}

	d := degraded.Load()
	p.words.Add(ctx, int64(len(out)))
	if d > 0 {
		p.degraded.Add(ctx, d)
	}
	span.SetAttributes(attribute.Int64("enrich.degraded", d))
	p.log.Info("enriched words", "words", len(out), "chunks", len(chunks), "degraded", d)
	return out, nil
}

func (p *Pipeline) commit(ctx context.Context, word string) (string, resolve.Kind, error) {
	res := p.resolver.Resolve(ctx, word)
	if res.Canonical == "" {
		res.Canonical = word
	}
	if res.Canonical == word {
		id, err := p.registry.Ensure(ctx, word)
		return id, res.Kind, err
	}
	id, err := p.registry.EnsureAlias(ctx, res.Canonical, word)
	return id, res.Kind, err
}

func chunk(words []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	out := make([][]string, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		out = append(out, words[start:end])
	}
	return out
}
