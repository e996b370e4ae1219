package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, internalerr.Unavailable("sqlite open", err)
	}
	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, internalerr.Unavailable("sqlite pragma", err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, internalerr.Unavailable("sqlite schema", err)
	}

	return &sqliteStore{db: db}, nil
}

// busyTimeoutMillis is applied to every connection the pool opens.
const busyTimeoutMillis = 5000

// dsn appends connection-scoped pragmas to path.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", path, sep, busyTimeoutMillis)
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS entries (
	name TEXT PRIMARY KEY,
	identifier TEXT NOT NULL,
	is_alias INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL DEFAULT '',
	visit_count INTEGER NOT NULL DEFAULT 0,
	discoverer TEXT NOT NULL DEFAULT '',
	discovery_time TEXT
);

CREATE INDEX IF NOT EXISTS idx_entries_identifier ON entries(identifier, is_alias);
CREATE INDEX IF NOT EXISTS idx_entries_discoverer ON entries(discoverer);

CREATE TABLE IF NOT EXISTS visits (
	id TEXT PRIMARY KEY,
	identifier TEXT NOT NULL,
	name TEXT NOT NULL,
	viewer TEXT NOT NULL,
	visited_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_visits_viewer ON visits(viewer, visited_at);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

const entryColumns = `name, identifier, is_alias, content, visit_count, discoverer, discovery_time`

// InsertEntry inserts e; an existing row with the same name wins.
func (s *sqliteStore) InsertEntry(ctx context.Context, e store.Entry) (bool, error) {
	if e.Name == "" || e.Identifier == "" {
		return false, internalerr.ErrInvalidInput
	}
	var discovered any
	if e.IsAlias {
		e.Content, e.Discoverer = "", ""
	} else if !e.DiscoveryTime.IsZero() {
		discovered = e.DiscoveryTime.UTC().Format(timeLayout)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO entries (`+entryColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO NOTHING;
`, e.Name, e.Identifier, boolToInt(e.IsAlias), e.Content, e.VisitCount, e.Discoverer, discovered)
	if err != nil {
		return false, internalerr.Unavailable("sqlite insert entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, internalerr.Unavailable("sqlite insert entry", err)
	}
	return n == 1, nil
}

// GetEntryByName retrieves an entry by its unique name
func (s *sqliteStore) GetEntryByName(ctx context.Context, name string) (store.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE name = ?`, name)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, internalerr.Unavailable("sqlite get entry", err)
	}
	return e, true, nil
}

// GetEntriesByNames retrieves all entries whose name is in names
func (s *sqliteStore) GetEntriesByNames(ctx context.Context, names []string) (map[string]store.Entry, error) {
	out := make(map[string]store.Entry, len(names))
	if len(names) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(names))
	placeholders = strings.TrimSuffix(placeholders, ",")
	args := make([]interface{}, 0, len(names))
	for _, n := range names {
		args = append(args, n)
	}

	query := fmt.Sprintf(`SELECT %s FROM entries WHERE name IN (%s)`, entryColumns, placeholders)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internalerr.Unavailable("sqlite get entries", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, internalerr.Unavailable("sqlite get entries", err)
		}
		out[e.Name] = e
	}
	if err := rows.Err(); err != nil {
		return nil, internalerr.Unavailable("sqlite get entries", err)
	}
	return out, nil
}

// GetCanonical retrieves the canonical (non-alias) entry for identifier
func (s *sqliteStore) GetCanonical(ctx context.Context, identifier string) (store.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE identifier = ? AND is_alias = 0 LIMIT 1`, identifier)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, internalerr.Unavailable("sqlite get canonical", err)
	}
	return e, true, nil
}

// CompleteDiscovery writes content, discoverer and discovery time in one
// conditional update; only the first caller for an entry succeeds.
func (s *sqliteStore) CompleteDiscovery(ctx context.Context, identifier, content, discoverer string, at time.Time) (bool, error) {
	if content == "" {
		return false, internalerr.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE entries
SET content = ?, discoverer = ?, discovery_time = ?, visit_count = visit_count + 1
WHERE identifier = ? AND is_alias = 0 AND content = '' AND discoverer = '';
`, content, discoverer, at.UTC().Format(timeLayout), identifier)
	if err != nil {
		return false, internalerr.Unavailable("sqlite complete discovery", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, internalerr.Unavailable("sqlite complete discovery", err)
	}
	return n > 0, nil
}

// IncrementVisits bumps the visit count of the canonical entry
func (s *sqliteStore) IncrementVisits(ctx context.Context, identifier string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entries SET visit_count = visit_count + 1 WHERE identifier = ? AND is_alias = 0`, identifier)
	if err != nil {
		return internalerr.Unavailable("sqlite increment visits", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return internalerr.Unavailable("sqlite increment visits", err)
	}
	if n == 0 {
		return fmt.Errorf("increment visits %s: %w", identifier, internalerr.ErrNotFound)
	}
	return nil
}

// AddVisit records a single article view
func (s *sqliteStore) AddVisit(ctx context.Context, v store.Visit) error {
	if v.ID == "" {
		return internalerr.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO visits (id, identifier, name, viewer, visited_at) VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.Identifier, v.Name, v.Viewer, v.VisitedAt.UTC().Format(timeLayout))
	return internalerr.Unavailable("sqlite add visit", err)
}

// RecentVisits returns the viewer's latest visits, newest first
func (s *sqliteStore) RecentVisits(ctx context.Context, viewer string, limit int) ([]store.Visit, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, identifier, name, viewer, visited_at
FROM visits
WHERE viewer = ?
ORDER BY visited_at DESC, id DESC
LIMIT ?;
`, viewer, limit)
	if err != nil {
		return nil, internalerr.Unavailable("sqlite recent visits", err)
	}
	defer rows.Close()

	var out []store.Visit
	for rows.Next() {
		var v store.Visit
		var at string
		if err := rows.Scan(&v.ID, &v.Identifier, &v.Name, &v.Viewer, &at); err != nil {
			return nil, internalerr.Unavailable("sqlite recent visits", err)
		}
		v.VisitedAt = parseTime(at)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, internalerr.Unavailable("sqlite recent visits", err)
	}
	return out, nil
}

// Stats summarizes the registry
func (s *sqliteStore) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowContext(ctx, `
SELECT
	COALESCE(SUM(CASE WHEN is_alias = 0 AND content != '' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN is_alias = 0 AND content = '' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN is_alias = 1 THEN 1 ELSE 0 END), 0)
FROM entries;
`).Scan(&st.TotalArticles, &st.TotalUndiscovered, &st.TotalAliases)
	if err != nil {
		return store.Stats{}, internalerr.Unavailable("sqlite stats", err)
	}

	st.MostActiveUser = store.NoActiveUser
	err = s.db.QueryRowContext(ctx, `
SELECT discoverer
FROM entries
WHERE discoverer != ''
GROUP BY discoverer
ORDER BY COUNT(*) DESC, discoverer ASC
LIMIT 1;
`).Scan(&st.MostActiveUser)
	if err != nil && err != sql.ErrNoRows {
		return store.Stats{}, internalerr.Unavailable("sqlite stats", err)
	}
	return st, nil
}

// DiscoveredBy returns entries discovered by viewer, newest first
func (s *sqliteStore) DiscoveredBy(ctx context.Context, viewer string, limit int) ([]store.Entry, error) {
	if viewer == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM entries
WHERE discoverer = ? AND is_alias = 0
ORDER BY discovery_time DESC, name ASC
LIMIT ?;
`, viewer, limit)
	if err != nil {
		return nil, internalerr.Unavailable("sqlite discovered by", err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, internalerr.Unavailable("sqlite discovered by", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, internalerr.Unavailable("sqlite discovered by", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (store.Entry, error) {
	var (
		e          store.Entry
		isAlias    int
		discovered sql.NullString
	)
	if err := row.Scan(&e.Name, &e.Identifier, &isAlias, &e.Content, &e.VisitCount, &e.Discoverer, &discovered); err != nil {
		return store.Entry{}, err
	}
	e.IsAlias = isAlias != 0
	if discovered.Valid {
		e.DiscoveryTime = parseTime(discovered.String)
	}
	return e, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
