// Package postgres is a [store.Store] backed by PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/store"
)

// Schema is the DDL applied by [Store.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS form_records (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    doctor_name TEXT NOT NULL DEFAULT '',
    payload     JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_form_records_created ON form_records(created_at DESC);
`

// DB is the subset of *pgxpool.Pool the store needs. *pgx.Conn satisfies
// it as well.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Store persists records in the form_records table.
type Store struct {
	db    DB
	close func()
}

var _ store.Store = (*Store)(nil)

// New wraps db. The caller owns db and must run [Store.Migrate] before use.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn and migrates the schema. Close releases the
// pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Save implements [store.Store].
func (s *Store) Save(ctx context.Context, r store.Record) error {
	const query = `
		INSERT INTO form_records (id, status, doctor_name, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Exec(ctx, query, r.ID, string(r.Status), r.DoctorName, []byte(r.Payload), r.CreatedAt.UTC())
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicate, r.ID)
		}
		return fmt.Errorf("postgres: save %q: %w", r.ID, err)
	}
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	const query = `
		SELECT id, status, doctor_name, payload, created_at
		FROM form_records
		WHERE id = $1`
	r, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Record{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return store.Record{}, fmt.Errorf("postgres: get %q: %w", id, err)
	}
	return r, nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, limit int) ([]store.Record, error) {
	const query = `
		SELECT id, status, doctor_name, payload, created_at
		FROM form_records
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
	rows, err := s.db.Query(ctx, query, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Record, error) {
		return scanRecord(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	return records, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool opened by [Open]. It is a no-op for stores built
// with [New].
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func scanRecord(row pgx.Row) (store.Record, error) {
	var (
		r       store.Record
		status  string
		payload []byte
		created time.Time
	)
	if err := row.Scan(&r.ID, &status, &r.DoctorName, &payload, &created); err != nil {
		return store.Record{}, err
	}
	r.Status = form.Status(status)
	r.Payload = payload
	r.CreatedAt = created.UTC()
	return r, nil
}

// isDuplicateKeyError reports a unique-violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
