// Package discovery drives an article from Undiscovered to Discovered and
// records visits.
//
// The transition is one conditional store update, so exactly one caller
// is credited as discoverer no matter how many generate concurrently.
// Losers of the race keep the winner's content and only count a visit.
package discovery

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/infiniwiki/internal/logger"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/cache"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
)

// Anonymous is credited when a discovery has no viewer.
const Anonymous = "anonymous"

// State of a canonical entry.
type State int

const (
	Undiscovered State = iota
	Discovered
)

func (s State) String() string {
	if s == Discovered {
		return "discovered"
	}
	return "undiscovered"
}

// StateOf reports the state of e.
func StateOf(e store.Entry) State {
	if e.Discovered() {
		return Discovered
	}
	return Undiscovered
}

// Generator produces article text for a topic name.
type Generator interface {
	GenerateArticle(ctx context.Context, name string) (string, error)
}

// Outcome describes one visit.
type Outcome struct {
	Entry store.Entry
	// Generated is true when this visit ran the generator.
	Generated bool
	// Won is true when this visit's content was the one stored.
	Won bool
}

// Machine performs visits against a store.
type Machine struct {
	store store.Store
	cache cache.Cache
	gen   Generator
	log   *logger.Logger

	now func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a machine. A nil cache disables invalidation.
func New(st store.Store, c cache.Cache, gen Generator, log *logger.Logger) *Machine {
	if c == nil {
		c = cache.Nop{}
	}
	return &Machine{
		store:   st,
		cache:   c,
		gen:     gen,
		log:     logger.OrNop(log).With("component", "discovery"),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Visit returns the content of the canonical entry identifier, generating
// it first if the entry is Undiscovered. Every successful call counts as
// exactly one visit. If generation fails the entry stays Undiscovered, no
// visit is counted, and the error wraps internalerr.ErrGenerationFailed.
func (m *Machine) Visit(ctx context.Context, identifier, viewer string) (Outcome, error) {
	e, err := m.canonical(ctx, identifier)
	if err != nil {
		return Outcome{}, err
	}
	if StateOf(e) == Discovered {
		e, err = m.recordVisit(ctx, e, viewer)
		return Outcome{Entry: e}, err
	}

	content, err := m.generate(ctx, e.Name)
	if err != nil {
		m.log.Warn("article generation failed", "identifier", identifier, "name", e.Name, "error", err)
		return Outcome{}, err
	}

	discoverer := viewer
	if discoverer == "" {
		discoverer = Anonymous
	}
	won, err := m.store.CompleteDiscovery(ctx, identifier, content, discoverer, m.now())
	if err != nil {
		return Outcome{}, fmt.Errorf("complete discovery %s: %w", identifier, err)
	}

	if won {
		if err := m.addVisit(ctx, e, viewer); err != nil {
			return Outcome{}, err
		}
		m.cache.Delete(ctx, cache.ArticleKey(identifier), cache.StatsKey, cache.HistoryKey(discoverer))
		e, err = m.canonical(ctx, identifier)
		if err != nil {
			return Outcome{}, err
		}
		m.log.Info("article discovered", "identifier", identifier, "name", e.Name, "discoverer", discoverer)
		return Outcome{Entry: e, Generated: true, Won: true}, nil
	}

	// Someone else stored content first. Keep theirs, count our visit.
	m.log.Debug("discovery race lost", "identifier", identifier, "viewer", viewer)
	if err := m.store.IncrementVisits(ctx, identifier); err != nil {
		return Outcome{}, fmt.Errorf("increment visits %s: %w", identifier, err)
	}
	if err := m.addVisit(ctx, e, viewer); err != nil {
		return Outcome{}, err
	}
	m.cache.Delete(ctx, cache.ArticleKey(identifier), cache.HistoryKey(viewer))
	e, err = m.canonical(ctx, identifier)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Entry: e, Generated: true}, nil
}

// RecordVisit counts a visit to an existing canonical entry without
// generating anything.
func (m *Machine) RecordVisit(ctx context.Context, identifier, viewer string) (store.Entry, error) {
	e, err := m.canonical(ctx, identifier)
	if err != nil {
		return store.Entry{}, err
	}
	return m.recordVisit(ctx, e, viewer)
}

func (m *Machine) recordVisit(ctx context.Context, e store.Entry, viewer string) (store.Entry, error) {
	if err := m.store.IncrementVisits(ctx, e.Identifier); err != nil {
		return store.Entry{}, fmt.Errorf("increment visits %s: %w", e.Identifier, err)
	}
	if err := m.addVisit(ctx, e, viewer); err != nil {
		return store.Entry{}, err
	}
	m.cache.Delete(ctx, cache.ArticleKey(e.Identifier), cache.HistoryKey(viewer))
	e.VisitCount++
	return e, nil
}

// addVisit appends to the viewer's history. Anonymous visits are counted
// on the entry but have no history.
func (m *Machine) addVisit(ctx context.Context, e store.Entry, viewer string) error {
	if viewer == "" {
		return nil
	}
	at := m.now().UTC()
	v := store.Visit{
		ID:         m.newID(at),
		Identifier: e.Identifier,
		Name:       e.Name,
		Viewer:     viewer,
		VisitedAt:  at,
	}
	if err := m.store.AddVisit(ctx, v); err != nil {
		return fmt.Errorf("record visit %s: %w", e.Identifier, err)
	}
	return nil
}

func (m *Machine) newID(at time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), m.entropy).String()
}

func (m *Machine) canonical(ctx context.Context, identifier string) (store.Entry, error) {
	e, found, err := m.store.GetCanonical(ctx, identifier)
	if err != nil {
		return store.Entry{}, fmt.Errorf("load %s: %w", identifier, err)
	}
	if !found {
		return store.Entry{}, fmt.Errorf("article %s: %w", identifier, internalerr.ErrNotFound)
	}
	return e, nil
}

func (m *Machine) generate(ctx context.Context, name string) (string, error) {
	if m.gen == nil {
		return "", fmt.Errorf("generate %q: no generator configured: %w", name, internalerr.ErrGenerationFailed)
	}
	raw, err := m.gen.GenerateArticle(ctx, name)
	if err != nil {
		return "", fmt.Errorf("generate %q: %w: %w", name, internalerr.ErrGenerationFailed, err)
	}
	content := Sanitize(raw)
	if content == "" {
		return "", fmt.Errorf("generate %q: empty article: %w", name, internalerr.ErrGenerationFailed)
	}
	return content, nil
}
