// Package memory is an in-process [store.Store]. Records are lost on exit.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/formvox/internal/store"
)

// Store keeps records in a map.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.Record
	order   []string
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]store.Record)}
}

// Save implements [store.Store].
func (s *Store) Save(ctx context.Context, r store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, r.ID)
	}
	r.Payload = slices.Clone(r.Payload)
	s.records[r.ID] = r
	s.order = append(s.order, r.ID)
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(_ context.Context, id string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return store.Record{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return r, nil
}

// List implements [store.Store]. Records saved later come first.
func (s *Store) List(_ context.Context, limit int) ([]store.Record, error) {
	limit = store.Limit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Record, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[s.order[i]])
	}
	return out, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store].
func (s *Store) Close() error { return nil }
