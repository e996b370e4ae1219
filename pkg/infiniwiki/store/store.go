package store

import (
	"context"
	"time"
)

// NoActiveUser is reported by Stats when nobody has discovered an article yet.
const NoActiveUser = "None"

// Store persists registry entries. It is the only authority for identity
// and content; caches in front of it are derived views.
//
// Implementations must make InsertEntry conflict-ignoring on Name and
// CompleteDiscovery a single atomic conditional write.
type Store interface {
	Close() error

	// Entries
	InsertEntry(ctx context.Context, e Entry) (inserted bool, err error)
	GetEntryByName(ctx context.Context, name string) (Entry, bool, error)
	GetEntriesByNames(ctx context.Context, names []string) (map[string]Entry, error)
	GetCanonical(ctx context.Context, identifier string) (Entry, bool, error)

	// Discovery & visits
	CompleteDiscovery(ctx context.Context, identifier, content, discoverer string, at time.Time) (won bool, err error)
	IncrementVisits(ctx context.Context, identifier string) error
	AddVisit(ctx context.Context, v Visit) error
	RecentVisits(ctx context.Context, viewer string, limit int) ([]Visit, error)

	// Aggregates
	Stats(ctx context.Context) (Stats, error)
	DiscoveredBy(ctx context.Context, viewer string, limit int) ([]Entry, error)
}

// Entry is one registry row. Canonical entries hold content; alias entries
// carry their canonical entry's identifier and nothing else.
type Entry struct {
	Identifier    string
	Name          string
	IsAlias       bool
	Content       string
	VisitCount    int64
	Discoverer    string
	DiscoveryTime time.Time // zero until discovered
}

// Discovered reports whether content has been generated for the entry.
func (e Entry) Discovered() bool {
	return !e.IsAlias && e.Content != ""
}

// Visit is one recorded article view.
type Visit struct {
	ID         string // ULID, sortable by time
	Identifier string
	Name       string
	Viewer     string
	VisitedAt  time.Time
}

// Stats summarizes the registry.
type Stats struct {
	TotalArticles     int64  // canonical entries with content
	TotalUndiscovered int64  // canonical entries still empty
	TotalAliases      int64  // alias entries
	MostActiveUser    string // discoverer with most articles, NoActiveUser if none
}
