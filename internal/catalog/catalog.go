// Package catalog keeps a local SQLite history of backup runs.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/lupppig/dotvault/internal/errors"
	_ "github.com/mattn/go-sqlite3"
)

type Entry struct {
	ID            string
	Path          string
	Sealed        bool
	FileCount     int
	Locations     []string
	ArchiveSHA256 string
	Size          int64
	CreatedAt     time.Time
}

type Catalog struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS backups (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	sealed INTEGER NOT NULL,
	file_count INTEGER NOT NULL,
	locations TEXT NOT NULL,
	archive_sha256 TEXT NOT NULL,
	size INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backups_created_at ON backups(created_at);
`

// Open opens or creates the catalog database at path.
func Open(path string) (*Catalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to create catalog directory", "Check catalog.path in your config.")
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to open catalog", "Verify the file path and permissions.")
	}
	// one connection so :memory: databases are shared across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to initialize catalog schema", "Ensure the file is a valid SQLite database.")
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record stores e, assigning an ID and a creation time when they are unset.
func (c *Catalog) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	locs := e.Locations
	if locs == nil {
		locs = []string{}
	}
	locJSON, err := json.Marshal(locs)
	if err != nil {
		return Entry{}, err
	}

	_, err = c.db.ExecContext(ctx, `
	INSERT INTO backups (id, path, sealed, file_count, locations, archive_sha256, size, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Path, e.Sealed, e.FileCount, string(locJSON), e.ArchiveSHA256, e.Size, e.CreatedAt.UnixNano())
	if err != nil {
		return Entry{}, apperrors.Wrap(err, apperrors.TypeResource, "failed to record backup in catalog", "")
	}
	return e, nil
}

const selectColumns = `SELECT id, path, sealed, file_count, locations, archive_sha256, size, created_at FROM backups`

// List returns every entry, newest first.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeResource, "failed to query catalog", "")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the entry with id.
func (c *Catalog) Get(ctx context.Context, id string) (Entry, error) {
	e, err := scanEntry(c.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e       Entry
		locJSON string
		created int64
	)
	if err := row.Scan(&e.ID, &e.Path, &e.Sealed, &e.FileCount, &locJSON, &e.ArchiveSHA256, &e.Size, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, apperrors.Wrap(err, apperrors.TypeResource, "failed to read catalog row", "")
	}
	if err := json.Unmarshal([]byte(locJSON), &e.Locations); err != nil {
		return Entry{}, apperrors.Wrap(err, apperrors.TypeResource, fmt.Sprintf("catalog entry %s has invalid locations", e.ID), "")
	}
	e.CreatedAt = time.Unix(0, created)
	return e, nil
}

var ErrNotFound = errors.New("catalog entry not found")

func (c *Catalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeResource, "failed to delete catalog entry", "")
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
