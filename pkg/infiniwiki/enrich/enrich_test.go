package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/ident"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/lemma"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/registry"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/resolve"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store/memstore"
)

type modelFunc func(ctx context.Context, word string) (string, error)

func (f modelFunc) Canonicalize(ctx context.Context, word string) (string, error) {
	return f(ctx, word)
}

func newPipeline(t *testing.T, st store.Store, model resolve.Canonicalizer, opts ...Option) *Pipeline {
	t.Helper()
	rules, err := lemma.NewRules()
	require.NoError(t, err)
	res := resolve.New(rules, model, 0, nil)
	return New(res, registry.New(st, nil, 0, nil), opts...)
}

func TestEnrichSentence(t *testing.T) {
	st := memstore.New()
	p := newPipeline(t, st, nil)
	ctx := context.Background()

	ids, err := p.Enrich(ctx, []string{"The", "Dogs", "are", "loyal."})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"the":   ident.Assign("the"),
		"dogs":  ident.Assign("dog"),
		"are":   ident.Assign("be"),
		"loyal": ident.Assign("loyal"),
	}, ids)

	for alias, canonical := range map[string]string{"dogs": "dog", "are": "be"} {
		e, found, err := st.GetEntryByName(ctx, alias)
		require.NoError(t, err)
		require.True(t, found, alias)
		assert.True(t, e.IsAlias, alias)
		c, found, err := st.GetEntryByName(ctx, canonical)
		require.NoError(t, err)
		require.True(t, found, canonical)
		assert.False(t, c.IsAlias, canonical)
	}
	for _, self := range []string{"the", "loyal"} {
		e, found, err := st.GetEntryByName(ctx, self)
		require.NoError(t, err)
		require.True(t, found, self)
		assert.False(t, e.IsAlias, self)
	}
}

func TestEnrichSameCanonicalSameIdentifier(t *testing.T) {
	p := newPipeline(t, memstore.New(), nil, WithChunkSize(1), WithWorkers(4))

	ids, err := p.Enrich(context.Background(), []string{"cat", "cats", "Cats", "CAT"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, ids["cat"], ids["cats"])
}

func TestEnrichSkipsEmptyWords(t *testing.T) {
	st := memstore.New()
	p := newPipeline(t, st, nil)

	ids, err := p.Enrich(context.Background(), []string{"...", "<br>", "&amp;", ""})
	require.NoError(t, err)
	assert.Empty(t, ids)

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalUndiscovered+stats.TotalAliases)
}

func TestEnrichDegradedWordDoesNotFailBatch(t *testing.T) {
	model := modelFunc(func(ctx context.Context, word string) (string, error) {
		if word == "blorf" {
			return "", errors.New("model offline")
		}
		return "snark", nil
	})
	p := newPipeline(t, memstore.New(), model, WithChunkSize(1))

	ids, err := p.Enrich(context.Background(), []string{"blorf", "snarkle", "dogs"})
	require.NoError(t, err)
	assert.Equal(t, ident.Assign("blorf"), ids["blorf"])
	assert.Equal(t, ident.Assign("snark"), ids["snarkle"])
	assert.Equal(t, ident.Assign("dog"), ids["dogs"])
}

func TestEnrichConcurrentOverlappingBatches(t *testing.T) {
	st := memstore.New()
	p := newPipeline(t, st, nil, WithChunkSize(2), WithWorkers(3))
	ctx := context.Background()

	batches := [][]string{
		{"cats", "dogs", "run", "running"},
		{"cat", "dog", "runs", "the"},
		{"dogs", "the", "cats", "ran"},
	}
	var wg sync.WaitGroup
	results := make([]map[string]string, 0, 3*4)
	var mu sync.Mutex
	for i := 0; i < 4; i++ {
		for _, b := range batches {
			wg.Add(1)
			go func(words []string) {
				defer wg.Done()
				ids, err := p.Enrich(ctx, words)
				assert.NoError(t, err)
				mu.Lock()
				results = append(results, ids)
				mu.Unlock()
			}(b)
		}
	}
	wg.Wait()

	for _, ids := range results {
		for w, id := range ids {
			e, found, err := st.GetEntryByName(ctx, w)
			require.NoError(t, err)
			require.True(t, found, w)
			assert.Equal(t, e.Identifier, id, w)
		}
	}

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	// canonical: cat dog run the; aliases: cats dogs running runs ran
	assert.Equal(t, int64(4), stats.TotalUndiscovered)
	assert.Equal(t, int64(5), stats.TotalAliases)
}

type brokenRegistry struct{}

func (brokenRegistry) Ensure(context.Context, string) (string, error) {
	return "", internalerr.Unavailable("insert", errors.New("connection refused"))
}

func (brokenRegistry) EnsureAlias(context.Context, string, string) (string, error) {
	return "", internalerr.Unavailable("insert", errors.New("connection refused"))
}

func TestEnrichPropagatesStoreFailure(t *testing.T) {
	rules, err := lemma.NewRules()
	require.NoError(t, err)
	p := New(resolve.New(rules, nil, 0, nil), brokenRegistry{})

	_, err = p.Enrich(context.Background(), []string{"cat", "dog"})
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerr.ErrStoreUnavailable)
}

func TestEnrichCanceled(t *testing.T) {
	p := newPipeline(t, memstore.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Enrich(ctx, []string{"cat"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChunk(t *testing.T) {
	words := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunk(words, 2))
	assert.Equal(t, [][]string{words}, chunk(words, 10))
	assert.Len(t, chunk(words, 0), 1)
	assert.Empty(t, chunk(nil, 3))
}
