// Package store keeps a local SQLite history of images saved with metadata.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("record not found")

// Entry is one saved image.
type Entry struct {
	ID         int64
	RunID      string
	SinkID     string
	FilePath   string
	Parameters string
	// Record is the ordered metadata record as a JSON object.
	Record    json.RawMessage
	CreatedAt time.Time
}

// Store is the history database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	sink_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	parameters TEXT NOT NULL,
	record JSON,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id);
`

// Open opens or creates the history database at path. ":memory:" works for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection keeps :memory: databases alive and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert stores e and returns its id. A zero CreatedAt is set to now.
func (s *Store) Insert(ctx context.Context, e Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var record any
	if len(e.Record) > 0 {
		record = string(e.Record)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records (run_id, sink_id, file_path, parameters, record, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.RunID, e.SinkID, e.FilePath, e.Parameters, record, e.CreatedAt.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return res.LastInsertId()
}

const selectCols = `SELECT id, run_id, sink_id, file_path, parameters, record, created_at FROM records`

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectCols+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ByRun returns the entries of one run in insertion order.
func (s *Store) ByRun(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+` WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one entry.
func (s *Store) Get(ctx context.Context, id int64) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE id = ?`, id)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (Entry, error) {
	var (
		e      Entry
		record sql.NullString
		micros int64
	)
	if err := r.Scan(&e.ID, &e.RunID, &e.SinkID, &e.FilePath, &e.Parameters, &record, &micros); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan record: %w", err)
	}
	if record.Valid {
		e.Record = json.RawMessage(record.String)
	}
	e.CreatedAt = time.UnixMicro(micros)
	return e, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
