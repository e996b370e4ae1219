package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
)

// Store is an in-memory implementation of store.Store for tests and
// single-process use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]store.Entry // by name
	visits  []store.Visit
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]store.Entry),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// InsertEntry adds e unless an entry with the same name exists.
func (s *Store) InsertEntry(ctx context.Context, e store.Entry) (bool, error) {
	if e.Name == "" || e.Identifier == "" {
		return false, internalerr.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.Name]; exists {
		return false, nil
	}
	if e.IsAlias {
		e.Content, e.Discoverer, e.DiscoveryTime = "", "", time.Time{}
	}
	s.entries[e.Name] = e
	return true, nil
}

// GetEntryByName returns the entry stored under name.
func (s *Store) GetEntryByName(ctx context.Context, name string) (store.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok, nil
}

// GetEntriesByNames returns the entries that exist among names.
func (s *Store) GetEntriesByNames(ctx context.Context, names []string) (map[string]store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]store.Entry, len(names))
	for _, n := range names {
		if e, ok := s.entries[n]; ok {
			out[n] = e
		}
	}
	return out, nil
}

// GetCanonical returns the canonical entry with the identifier.
func (s *Store) GetCanonical(ctx context.Context, identifier string) (store.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.canonicalName(identifier)
	if !ok {
		return store.Entry{}, false, nil
	}
	return s.entries[name], true, nil
}

// canonicalName must be called with mu held.
func (s *Store) canonicalName(identifier string) (string, bool) {
	for name, e := range s.entries {
		if e.Identifier == identifier && !e.IsAlias {
			return name, true
		}
	}
	return "", false
}

// CompleteDiscovery fills an undiscovered canonical entry. It reports
// false without changes if the entry was already discovered.
func (s *Store) CompleteDiscovery(ctx context.Context, identifier, content, discoverer string, at time.Time) (bool, error) {
	if content == "" {
		return false, internalerr.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.canonicalName(identifier)
	if !ok {
		return false, nil
	}
	e := s.entries[name]
	if e.Content != "" || e.Discoverer != "" {
		return false, nil
	}
	e.Content = content
	e.Discoverer = discoverer
	e.DiscoveryTime = at.UTC()
	e.VisitCount++
	s.entries[name] = e
	return true, nil
}

// IncrementVisits bumps the visit counter of a canonical entry.
func (s *Store) IncrementVisits(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.canonicalName(identifier)
	if !ok {
		return fmt.Errorf("increment visits %s: %w", identifier, internalerr.ErrNotFound)
	}
	e := s.entries[name]
	e.VisitCount++
	s.entries[name] = e
	return nil
}

// AddVisit records a visit.
func (s *Store) AddVisit(ctx context.Context, v store.Visit) error {
	if v.ID == "" {
		return internalerr.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v.VisitedAt = v.VisitedAt.UTC()
	s.visits = append(s.visits, v)
	return nil
}

// RecentVisits returns the viewer's visits, newest first.
func (s *Store) RecentVisits(ctx context.Context, viewer string, limit int) ([]store.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Visit
	for _, v := range s.visits {
		if v.Viewer == viewer {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].VisitedAt.Equal(out[j].VisitedAt) {
			return out[i].VisitedAt.After(out[j].VisitedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats summarizes the registry.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st store.Stats
	discoveries := make(map[string]int64)
	for _, e := range s.entries {
		switch {
		case e.IsAlias:
			st.TotalAliases++
		case e.Content != "":
			st.TotalArticles++
		default:
			st.TotalUndiscovered++
		}
		if e.Discoverer != "" {
			discoveries[e.Discoverer]++
		}
	}

	st.MostActiveUser = store.NoActiveUser
	var best int64
	for user, n := range discoveries {
		if n > best || (n == best && user < st.MostActiveUser) {
			best = n
			st.MostActiveUser = user
		}
	}
	return st, nil
}

// DiscoveredBy returns the entries discovered by viewer, newest first.
func (s *Store) DiscoveredBy(ctx context.Context, viewer string, limit int) ([]store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Entry
	for _, e := range s.entries {
		if !e.IsAlias && e.Discoverer == viewer && viewer != "" {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveryTime.Equal(out[j].DiscoveryTime) {
			return out[i].DiscoveryTime.After(out[j].DiscoveryTime)
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
