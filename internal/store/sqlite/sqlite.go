// Package sqlite is an embedded [store.Store] on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS form_records (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    doctor_name TEXT NOT NULL DEFAULT '',
    payload     TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_form_records_created ON form_records(created_at DESC);
`

// Store persists records in a SQLite file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema. The
// path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection keeps an in-memory database alive and serialises writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Save implements [store.Store].
func (s *Store) Save(ctx context.Context, r store.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO form_records (id, status, doctor_name, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, string(r.Status), r.DoctorName, string(r.Payload), r.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicate, r.ID)
		}
		return fmt.Errorf("sqlite: save %q: %w", r.ID, err)
	}
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, doctor_name, payload, created_at FROM form_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Record{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return store.Record{}, fmt.Errorf("sqlite: get %q: %w", id, err)
	}
	return r, nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, limit int) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, doctor_name, payload, created_at FROM form_records
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	return out, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [store.Store].
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (store.Record, error) {
	var (
		r       store.Record
		status  string
		payload string
		millis  int64
	)
	if err := row.Scan(&r.ID, &status, &r.DoctorName, &payload, &millis); err != nil {
		return store.Record{}, err
	}
	r.Status = form.Status(status)
	r.Payload = []byte(payload)
	r.CreatedAt = time.UnixMilli(millis).UTC()
	return r, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
