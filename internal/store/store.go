// Package store persists finished Form 100 records.
//
// The dictation core never touches storage. A session that ends with
// save=true is turned into a [Record] and handed to a [Store]. Three
// backends exist: memory (tests and demos), postgres and sqlite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/formvox/internal/form"
)

var (
	// ErrNotFound is returned by [Store.Get] for an unknown id.
	ErrNotFound = errors.New("store: record not found")

	// ErrDuplicate is returned by [Store.Save] when the id is taken.
	ErrDuplicate = errors.New("store: record already exists")
)

// DefaultListLimit caps [Store.List] when the caller passes no limit.
const DefaultListLimit = 100

// Record is a stored form. Payload holds the raw form JSON produced by
// [form.MarshalRaw].
type Record struct {
	ID         string          `json:"id"`
	Status     form.Status     `json:"status"`
	DoctorName string          `json:"doctor_name"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewRecord builds a record with a fresh id from a finished draft.
func NewRecord(d form.Draft, doctorName string, now time.Time) (Record, error) {
	payload, err := form.MarshalRaw(d, doctorName)
	if err != nil {
		return Record{}, fmt.Errorf("store: new record: %w", err)
	}
	return Record{
		ID:         uuid.NewString(),
		Status:     d.Status,
		DoctorName: doctorName,
		Payload:    payload,
		CreatedAt:  now.UTC(),
	}, nil
}

// Form returns the flat view of r.
func (r Record) Form() form.Record {
	return form.RecordFromRaw(r.Status, r.Payload, r.DoctorName)
}

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts r. It returns [ErrDuplicate] when r.ID already exists.
	Save(ctx context.Context, r Record) error

	// Get returns the record with id or [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)

	// List returns up to limit records, newest first. A limit <= 0 means
	// [DefaultListLimit].
	List(ctx context.Context, limit int) ([]Record, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Limit normalises a caller-supplied list limit.
func Limit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
