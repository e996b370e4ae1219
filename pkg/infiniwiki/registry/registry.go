// Package registry is the get-or-create layer over the entry store: the
// single source of truth for whether a word already has an article.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/cognicore/infiniwiki/internal/logger"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/cache"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/ident"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
)

// Registry maps names to identifiers. Inserts never overwrite: concurrent
// callers for the same name all adopt whichever row landed first.
type Registry struct {
	store store.Store
	cache cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// New creates a registry. A nil cache disables caching.
func New(st store.Store, c cache.Cache, ttl time.Duration, log *logger.Logger) *Registry {
	if c == nil {
		c = cache.Nop{}
	}
	return &Registry{
		store: st,
		cache: c,
		ttl:   ttl,
		log:   logger.OrNop(log).With("component", "registry"),
	}
}

// Ensure returns the identifier for a canonical entry named name, creating
// it if needed. If name is already registered as an alias, the alias's
// canonical identifier is returned.
func (r *Registry) Ensure(ctx context.Context, name string) (string, error) {
	return r.ensure(ctx, store.Entry{Identifier: ident.Assign(name), Name: name})
}

// EnsureAlias makes aliasName resolve to canonicalName's identifier,
// creating the canonical entry first if needed. An existing row named
// aliasName is kept as is and its identifier returned.
func (r *Registry) EnsureAlias(ctx context.Context, canonicalName, aliasName string) (string, error) {
	if canonicalName == aliasName {
		return r.Ensure(ctx, canonicalName)
	}
	id, err := r.Ensure(ctx, canonicalName)
	if err != nil {
		return "", err
	}
	return r.ensure(ctx, store.Entry{Identifier: id, Name: aliasName, IsAlias: true})
}

func (r *Registry) ensure(ctx context.Context, e store.Entry) (string, error) {
	if e.Name == "" {
		return "", fmt.Errorf("ensure: empty name: %w", internalerr.ErrInvalidInput)
	}
	if id, ok := r.cachedID(ctx, e.Name); ok {
		return id, nil
	}

	inserted, err := r.store.InsertEntry(ctx, e)
	if err != nil {
		return "", fmt.Errorf("ensure %q: %w", e.Name, err)
	}
	if inserted {
		r.cache.Delete(ctx, cache.StatsKey)
		r.remember(ctx, e.Name, e.Identifier)
		return e.Identifier, nil
	}

	// Lost the race or already present: adopt the stored row.
	existing, found, err := r.store.GetEntryByName(ctx, e.Name)
	if err != nil {
		return "", fmt.Errorf("ensure %q: %w", e.Name, err)
	}
	if !found {
		return "", fmt.Errorf("ensure %q: row vanished after conflict: %w", e.Name, internalerr.ErrNotFound)
	}
	if existing.IsAlias != e.IsAlias {
		r.log.Debug("name already registered with other kind", "name", e.Name, "alias", existing.IsAlias)
	}
	r.remember(ctx, e.Name, existing.Identifier)
	return existing.Identifier, nil
}

// Lookup returns the identifier registered for name without creating it.
func (r *Registry) Lookup(ctx context.Context, name string) (string, bool, error) {
	if name == "" {
		return "", false, nil
	}
	if id, ok := r.cachedID(ctx, name); ok {
		return id, true, nil
	}
	e, found, err := r.store.GetEntryByName(ctx, name)
	if err != nil {
		return "", false, fmt.Errorf("lookup %q: %w", name, err)
	}
	if !found {
		return "", false, nil
	}
	r.remember(ctx, name, e.Identifier)
	return e.Identifier, true, nil
}

// LookupMany resolves every registered name among names in one store
// round trip for the cache misses. Unregistered names are absent.
func (r *Registry) LookupMany(ctx context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	var misses []string
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if id, ok := r.cachedID(ctx, n); ok {
			out[n] = id
			continue
		}
		misses = append(misses, n)
	}
	if len(misses) == 0 {
		return out, nil
	}

	entries, err := r.store.GetEntriesByNames(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("lookup %d names: %w", len(misses), err)
	}
	for name, e := range entries {
		out[name] = e.Identifier
		r.remember(ctx, name, e.Identifier)
	}
	return out, nil
}

// Unknown returns the names among words that have no registry row, in
// input order.
func (r *Registry) Unknown(ctx context.Context, words []string) ([]string, error) {
	known, err := r.LookupMany(ctx, words)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, w := range words {
		if w == "" {
			continue
		}
		if _, ok := known[w]; !ok {
			out = append(out, w)
		}
	}
	return out, nil
}

// Name to identifier never changes once written, so positive lookups are
// cached without invalidation. Misses are never cached.
func (r *Registry) cachedID(ctx context.Context, name string) (string, bool) {
	data, ok := r.cache.Get(ctx, cache.TokenKey(name))
	if !ok || len(data) == 0 {
		return "", false
	}
	return string(data), true
}

func (r *Registry) remember(ctx context.Context, name, id string) {
	r.cache.Set(ctx, cache.TokenKey(name), []byte(id), r.ttl)
}
