// Package postgres implements store.Store on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, dsn string) (store.Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w: %w", internalerr.ErrInvalidConfig, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, internalerr.Unavailable("postgres connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, internalerr.Unavailable("postgres ping", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, classify("postgres schema", err)
	}
	return &pgStore{pool: pool}, nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
CREATE TABLE IF NOT EXISTS entries (
	name TEXT PRIMARY KEY,
	identifier TEXT NOT NULL,
	is_alias BOOLEAN NOT NULL DEFAULT FALSE,
	content TEXT NOT NULL DEFAULT '',
	visit_count BIGINT NOT NULL DEFAULT 0,
	discoverer TEXT NOT NULL DEFAULT '',
	discovery_time TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_entries_identifier ON entries(identifier, is_alias);
CREATE INDEX IF NOT EXISTS idx_entries_discoverer ON entries(discoverer);

CREATE TABLE IF NOT EXISTS visits (
	id TEXT PRIMARY KEY,
	identifier TEXT NOT NULL,
	name TEXT NOT NULL,
	viewer TEXT NOT NULL,
	visited_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_visits_viewer ON visits(viewer, visited_at DESC);
`
	_, err := pool.Exec(ctx, schema)
	return err
}

// classify separates server-side SQL errors from connectivity failures.
// Only the latter are tagged ErrStoreUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := strings.TrimSpace(pgErr.Code)
		switch {
		case strings.HasPrefix(code, "08"), // connection_exception
			strings.HasPrefix(code, "53"),  // insufficient_resources
			strings.HasPrefix(code, "57P"): // operator intervention
			return internalerr.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return internalerr.Unavailable(op, err)
}

const entryColumns = `name, identifier, is_alias, content, visit_count, discoverer, discovery_time`

func (s *pgStore) InsertEntry(ctx context.Context, e store.Entry) (bool, error) {
	if e.Name == "" || e.Identifier == "" {
		return false, internalerr.ErrInvalidInput
	}
	var discovered *time.Time
	if e.IsAlias {
		e.Content, e.Discoverer = "", ""
	} else if !e.DiscoveryTime.IsZero() {
		t := e.DiscoveryTime.UTC()
		discovered = &t
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO entries (`+entryColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (name) DO NOTHING`,
		e.Name, e.Identifier, e.IsAlias, e.Content, e.VisitCount, e.Discoverer, discovered)
	if err != nil {
		return false, classify("postgres insert entry", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStore) GetEntryByName(ctx context.Context, name string) (store.Entry, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM entries WHERE name = $1`, name)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, classify("postgres get entry", err)
	}
	return e, true, nil
}

func (s *pgStore) GetEntriesByNames(ctx context.Context, names []string) (map[string]store.Entry, error) {
	out := make(map[string]store.Entry, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM entries WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, classify("postgres get entries", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify("postgres get entries", err)
		}
		out[e.Name] = e
	}
	if err := rows.Err(); err != nil {
		return nil, classify("postgres get entries", err)
	}
	return out, nil
}

func (s *pgStore) GetCanonical(ctx context.Context, identifier string) (store.Entry, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE identifier = $1 AND NOT is_alias LIMIT 1`, identifier)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, classify("postgres get canonical", err)
	}
	return e, true, nil
}

func (s *pgStore) CompleteDiscovery(ctx context.Context, identifier, content, discoverer string, at time.Time) (bool, error) {
	if content == "" {
		return false, internalerr.ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE entries
SET content = $1, discoverer = $2, discovery_time = $3, visit_count = visit_count + 1
WHERE identifier = $4 AND NOT is_alias AND content = '' AND discoverer = ''`,
		content, discoverer, at.UTC(), identifier)
	if err != nil {
		return false, classify("postgres complete discovery", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgStore) IncrementVisits(ctx context.Context, identifier string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE entries SET visit_count = visit_count + 1 WHERE identifier = $1 AND NOT is_alias`, identifier)
	if err != nil {
		return classify("postgres increment visits", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("increment visits %s: %w", identifier, internalerr.ErrNotFound)
	}
	return nil
}

func (s *pgStore) AddVisit(ctx context.Context, v store.Visit) error {
	if v.ID == "" {
		return internalerr.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO visits (id, identifier, name, viewer, visited_at) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.Identifier, v.Name, v.Viewer, v.VisitedAt.UTC())
	return classify("postgres add visit", err)
}

func (s *pgStore) RecentVisits(ctx context.Context, viewer string, limit int) ([]store.Visit, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, identifier, name, viewer, visited_at
FROM visits
WHERE viewer = $1
ORDER BY visited_at DESC, id DESC
LIMIT $2`, viewer, limitArg(limit))
	if err != nil {
		return nil, classify("postgres recent visits", err)
	}
	defer rows.Close()

	var out []store.Visit
	for rows.Next() {
		var v store.Visit
		if err := rows.Scan(&v.ID, &v.Identifier, &v.Name, &v.Viewer, &v.VisitedAt); err != nil {
			return nil, classify("postgres recent visits", err)
		}
		v.VisitedAt = v.VisitedAt.UTC()
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("postgres recent visits", err)
	}
	return out, nil
}

func (s *pgStore) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.pool.QueryRow(ctx, `
SELECT
	COUNT(*) FILTER (WHERE NOT is_alias AND content <> ''),
	COUNT(*) FILTER (WHERE NOT is_alias AND content = ''),
	COUNT(*) FILTER (WHERE is_alias)
FROM entries`).Scan(&st.TotalArticles, &st.TotalUndiscovered, &st.TotalAliases)
	if err != nil {
		return store.Stats{}, classify("postgres stats", err)
	}

	st.MostActiveUser = store.NoActiveUser
	err = s.pool.QueryRow(ctx, `
SELECT discoverer
FROM entries
WHERE discoverer <> ''
GROUP BY discoverer
ORDER BY COUNT(*) DESC, discoverer ASC
LIMIT 1`).Scan(&st.MostActiveUser)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return store.Stats{}, classify("postgres stats", err)
	}
	return st, nil
}

func (s *pgStore) DiscoveredBy(ctx context.Context, viewer string, limit int) ([]store.Entry, error) {
	if viewer == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+entryColumns+`
FROM entries
WHERE discoverer = $1 AND NOT is_alias
ORDER BY discovery_time DESC, name ASC
LIMIT $2`, viewer, limitArg(limit))
	if err != nil {
		return nil, classify("postgres discovered by", err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify("postgres discovered by", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("postgres discovered by", err)
	}
	return out, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as LIMIT ALL.
func limitArg(limit int) *int64 {
	if limit <= 0 {
		return nil
	}
	n := int64(limit)
	return &n
}

func scanEntry(row pgx.Row) (store.Entry, error) {
	var (
		e          store.Entry
		discovered *time.Time
	)
	if err := row.Scan(&e.Name, &e.Identifier, &e.IsAlias, &e.Content, &e.VisitCount, &e.Discoverer, &discovered); err != nil {
		return store.Entry{}, err
	}
	if discovered != nil {
		e.DiscoveryTime = discovered.UTC()
	}
	return e, nil
}
