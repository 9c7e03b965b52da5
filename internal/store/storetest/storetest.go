// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/store"
)

// Run exercises s against the [store.Store] contract. s must be empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 9, 8, 0, 0, 0, time.UTC)

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	var saved []store.Record
	for i, status := range []form.Status{form.StatusFatality, form.StatusWounded, form.StatusWounded} {
		at := base.Add(time.Duration(i) * time.Minute)
		d := form.NewDraft(status, at).WithCallsign("Сокол")
		r, err := store.NewRecord(d, "Петров П.П.", at)
		if err != nil {
			t.Fatalf("NewRecord: %v", err)
		}
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
		saved = append(saved, r)
	}

	got, err := s.Get(ctx, saved[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != form.StatusFatality || got.DoctorName != "Петров П.П." {
		t.Errorf("Get = %+v", got)
	}
	if !got.CreatedAt.Equal(saved[0].CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, saved[0].CreatedAt)
	}
	if view := got.Form(); view.Callsign != "Сокол" || view.EventLabel != "Время смерти" {
		t.Errorf("Form() = %+v", view)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, saved[1]); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate Save err = %v, want ErrDuplicate", err)
	}

	list, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List len = %d, want 3", len(list))
	}
	for i, want := range []string{saved[2].ID, saved[1].ID, saved[0].ID} {
		if list[i].ID != want {
			t.Errorf("List[%d] = %s, want %s (newest first)", i, list[i].ID, want)
		}
	}

	list, err = s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List(2): %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List(2) len = %d", len(list))
	}
}
