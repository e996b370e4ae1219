// Package storetest holds the behavior every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) store.Store

// Run executes the conformance suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"InsertConflictIgnored", testInsertConflictIgnored},
		{"InsertRejectsEmpty", testInsertRejectsEmpty},
		{"AliasPointsAtCanonical", testAliasPointsAtCanonical},
		{"GetEntriesByNames", testGetEntriesByNames},
		{"CompleteDiscoveryOnce", testCompleteDiscoveryOnce},
		{"CompleteDiscoveryIgnoresAlias", testCompleteDiscoveryIgnoresAlias},
		{"ConcurrentInsert", testConcurrentInsert},
		{"ConcurrentDiscovery", testConcurrentDiscovery},
		{"IncrementVisits", testIncrementVisits},
		{"RecentVisits", testRecentVisits},
		{"Stats", testStats},
		{"DiscoveredBy", testDiscoveredBy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := open(t)
			defer st.Close()
			tc.fn(t, st)
		})
	}
}

func canonical(name, id string) store.Entry {
	return store.Entry{Identifier: id, Name: name}
}

func mustInsert(t *testing.T, st store.Store, e store.Entry) {
	t.Helper()
	if _, err := st.InsertEntry(context.Background(), e); err != nil {
		t.Fatalf("InsertEntry(%s): %v", e.Name, err)
	}
}

func testInsertAndGet(t *testing.T, st store.Store) {
	ctx := context.Background()
	inserted, err := st.InsertEntry(ctx, canonical("cat", "id-cat"))
	if err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should report inserted")
	}

	got, found, err := st.GetEntryByName(ctx, "cat")
	if err != nil || !found {
		t.Fatalf("GetEntryByName: found=%v err=%v", found, err)
	}
	if got.Identifier != "id-cat" || got.IsAlias || got.Content != "" || got.VisitCount != 0 {
		t.Fatalf("unexpected entry %+v", got)
	}
	if !got.DiscoveryTime.IsZero() || got.Discovered() {
		t.Fatalf("fresh entry should be undiscovered: %+v", got)
	}

	_, found, err = st.GetEntryByName(ctx, "dog")
	if err != nil || found {
		t.Fatalf("missing entry: found=%v err=%v", found, err)
	}
}

func testInsertConflictIgnored(t *testing.T, st store.Store) {
	ctx := context.Background()
	mustInsert(t, st, canonical("cat", "id-cat"))

	inserted, err := st.InsertEntry(ctx, store.Entry{Identifier: "id-other", Name: "cat", IsAlias: true})
	if err != nil {
		t.Fatalf("duplicate insert must not error: %v", err)
	}
	if inserted {
		t.Fatal("duplicate insert must not report inserted")
	}
	got, _, _ := st.GetEntryByName(ctx, "cat")
	if got.Identifier != "id-cat" || got.IsAlias {
		t.Fatalf("first writer must win, got %+v", got)
	}
}

func testInsertRejectsEmpty(t *testing.T, st store.Store) {
	_, err := st.InsertEntry(context.Background(), store.Entry{Identifier: "x"})
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func testAliasPointsAtCanonical(t *testing.T, st store.Store) {
	ctx := context.Background()
	mustInsert(t, st, canonical("cat", "id-cat"))
	mustInsert(t, st, store.Entry{Identifier: "id-cat", Name: "cats", IsAlias: true, Content: "ignored"})

	alias, found, err := st.GetEntryByName(ctx, "cats")
	if err != nil || !found {
		t.Fatalf("GetEntryByName(cats): found=%v err=%v", found, err)
	}
	if !alias.IsAlias || alias.Identifier != "id-cat" {
		t.Fatalf("unexpected alias %+v", alias)
	}
	if alias.Content != "" {
		t.Fatalf("alias must not hold content, got %q", alias.Content)
	}

	c, found, err := st.GetCanonical(ctx, "id-cat")
	if err != nil || !found {
		t.Fatalf("GetCanonical: found=%v err=%v", found, err)
	}
	if c.Name != "cat" || c.IsAlias {
		t.Fatalf("GetCanonical returned %+v", c)
	}

	_, found, err = st.GetCanonical(ctx, "id-missing")
	if err != nil || found {
		t.Fatalf("missing canonical: found=%v err=%v", found, err)
	}
}

func testGetEntriesByNames(t *testing.T, st store.Store) {
	ctx := context.Background()
	mustInsert(t, st, canonical("cat", "id-cat"))
	mustInsert(t, st, canonical("dog", "id-dog"))

	got, err := st.GetEntriesByNames(ctx, []string{"cat", "dog", "eel"})
	if err != nil {
		t.Fatalf("GetEntriesByNames: %v", err)
	}
	if len(got) != 2 || got["cat"].Identifier != "id-cat" || got["dog"].Identifier != "id-dog" {
		t.Fatalf("unexpected result %+v", got)
	}

	empty, err := st.GetEntriesByNames(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty lookup: %v %v", empty, err)
	}
}

func testCompleteDiscoveryOnce(t *testing.T, st store.Store) {
	ctx := context.Background()
	mustInsert(t, st, canonical("cat", "id-cat"))
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	won, err := st.CompleteDiscovery(ctx, "id-cat", "<p>cats</p>", "alice", at)
	if err != nil || !won {
		t.Fatalf("first discovery: won=%v err=%v", won, err)
	}
	won, err = st.CompleteDiscovery(ctx, "id-cat", "<p>other</p>", "bob", at.Add(time.Hour))
	if err != nil {
		t.Fatalf("second discovery: %v", err)
	}
	if won {
		t.Fatal("second discovery must lose")
	}

	got, _, _ := st.GetEntryByName(ctx, "cat")
	if got.Content != "<p>cats</p>" || got.Discoverer != "alice" {
		t.Fatalf("discovery fields overwritten: %+v", got)
	}
	if !got.DiscoveryTime.Equal(at) {
		t.Fatalf("discovery time = %v, want %v", got.DiscoveryTime, at)
	}
	if got.VisitCount != 1 {
		t.Fatalf("discovery counts as a visit, got %d", got.VisitCount)
	}

	if _, err := st.CompleteDiscovery(ctx, "id-cat", "", "carol", at); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("empty content: expected ErrInvalidInput, got %v", err)
	}
}

func testCompleteDiscoveryIgnoresAlias(t *testing.T, st store.Store) {
	ctx := context.Background()
	mustInsert(t, st, store.Entry{Identifier: "id-cat", Name: "cats", IsAlias: true})

	won, err := st.CompleteDiscovery(ctx, "id-cat", "body", "alice", time.Now())
	if err != nil {
		t.Fatalf("CompleteDiscovery: %v", err)
	}
	if won {
		t.Fatal("an alias row must never receive content")
	}
}

func testConcurrentInsert(t *testing.T, st store.Store) {
	ctx := context.Background()
	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		errs     []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := st.InsertEntry(ctx, canonical("cat", fmt.Sprintf("id-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				inserted++
			}
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("concurrent inserts errored: %v", errs)
	}
	if inserted != 1 {
		t.Fatalf("exactly one insert should win, got %d", inserted)
	}
}

func testConcurrentDiscovery(t *testing.T, st store.Store) {
	ctx := context.Background()
	mustInsert(t, st, canonical("cat", "id-cat"))

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			viewer := fmt.Sprintf("user-%d", i)
			won, err := st.CompleteDiscovery(ctx, "id-cat", "content by "+viewer, viewer, time.Now())
			if err != nil {
				t.Errorf("CompleteDiscovery: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins = append(wins, viewer)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("exactly one discoverer expected, got %v", wins)
	}
	got, _, _ := st.GetEntryByName(ctx, "cat")
	if got.Discoverer != wins[0] || got.Content != "content by "+wins[0] {
		t.Fatalf("content and discoverer must come from the same writer: %+v", got)
	}
}

func testIncrementVisits(t *testing.T, st store.Store) {
	ctx := context.Background()
	mustInsert(t, st, canonical("cat", "id-cat"))
	mustInsert(t, st, store.Entry{Identifier: "id-cat", Name: "cats", IsAlias: true})

	for i := 0; i < 3; i++ {
		if err := st.IncrementVisits(ctx, "id-cat"); err != nil {
			t.Fatalf("IncrementVisits: %v", err)
		}
	}
	cat, _, _ := st.GetEntryByName(ctx, "cat")
	if cat.VisitCount != 3 {
		t.Fatalf("visit count = %d, want 3", cat.VisitCount)
	}
	alias, _, _ := st.GetEntryByName(ctx, "cats")
	if alias.VisitCount != 0 {
		t.Fatalf("alias visit count must stay 0, got %d", alias.VisitCount)
	}

	err := st.IncrementVisits(ctx, "id-missing")
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "id-missing") {
		t.Fatalf("error should name the identifier, got %q", err)
	}
}

func testRecentVisits(t *testing.T, st store.Store) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	visits := []store.Visit{
		{ID: "v1", Identifier: "id-cat", Name: "cat", Viewer: "alice", VisitedAt: base},
		{ID: "v2", Identifier: "id-dog", Name: "dog", Viewer: "alice", VisitedAt: base.Add(time.Minute)},
		{ID: "v3", Identifier: "id-eel", Name: "eel", Viewer: "bob", VisitedAt: base.Add(2 * time.Minute)},
		{ID: "v4", Identifier: "id-cat", Name: "cat", Viewer: "alice", VisitedAt: base.Add(3 * time.Minute)},
	}
	for _, v := range visits {
		if err := st.AddVisit(ctx, v); err != nil {
			t.Fatalf("AddVisit(%s): %v", v.ID, err)
		}
	}

	got, err := st.RecentVisits(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("RecentVisits: %v", err)
	}
	if len(got) != 2 || got[0].ID != "v4" || got[1].ID != "v2" {
		t.Fatalf("unexpected visits %+v", got)
	}
	if !got[0].VisitedAt.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("visited_at = %v", got[0].VisitedAt)
	}

	all, err := st.RecentVisits(ctx, "alice", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("unbounded RecentVisits: %d %v", len(all), err)
	}

	none, err := st.RecentVisits(ctx, "nobody", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown viewer: %v %v", none, err)
	}
}

func testStats(t *testing.T, st store.Store) {
	ctx := context.Background()
	empty, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if empty.MostActiveUser != store.NoActiveUser || empty.TotalArticles != 0 {
		t.Fatalf("empty stats %+v", empty)
	}

	mustInsert(t, st, canonical("cat", "id-cat"))
	mustInsert(t, st, canonical("dog", "id-dog"))
	mustInsert(t, st, canonical("eel", "id-eel"))
	mustInsert(t, st, store.Entry{Identifier: "id-cat", Name: "cats", IsAlias: true})
	now := time.Now()
	for id, who := range map[string]string{"id-cat": "bob", "id-dog": "bob", "id-eel": "alice"} {
		if _, err := st.CompleteDiscovery(ctx, id, "body", who, now); err != nil {
			t.Fatalf("CompleteDiscovery: %v", err)
		}
	}
	mustInsert(t, st, canonical("fox", "id-fox"))

	got, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := store.Stats{TotalArticles: 3, TotalUndiscovered: 1, TotalAliases: 1, MostActiveUser: "bob"}
	if got != want {
		t.Fatalf("Stats = %+v, want %+v", got, want)
	}
}

func testDiscoveredBy(t *testing.T, st store.Store) {
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	mustInsert(t, st, canonical("cat", "id-cat"))
	mustInsert(t, st, canonical("dog", "id-dog"))
	mustInsert(t, st, canonical("eel", "id-eel"))
	st.CompleteDiscovery(ctx, "id-cat", "c", "alice", base)
	st.CompleteDiscovery(ctx, "id-dog", "d", "alice", base.Add(time.Hour))
	st.CompleteDiscovery(ctx, "id-eel", "e", "bob", base)

	got, err := st.DiscoveredBy(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("DiscoveredBy: %v", err)
	}
	if len(got) != 2 || got[0].Name != "dog" || got[1].Name != "cat" {
		t.Fatalf("unexpected discoveries %+v", got)
	}

	limited, err := st.DiscoveredBy(ctx, "alice", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limited: %v %v", limited, err)
	}

	none, err := st.DiscoveredBy(ctx, "", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("empty viewer: %v %v", none, err)
	}
}
