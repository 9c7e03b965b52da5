package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/store"
	"github.com/MrWong99/formvox/internal/store/sqlite"
	"github.com/MrWong99/formvox/internal/store/storetest"
)

func TestStore_Memory(t *testing.T) {
	t.Parallel()

	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	storetest.Run(t, s)
}

func TestStore_FileSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "forms.db")
	s, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now()
	r, err := store.NewRecord(form.NewDraft(form.StatusWounded, now).WithDiagnosis("перелом"), "", now)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background(), r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = sqlite.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Form().Diagnosis != "перелом" {
		t.Errorf("diagnosis = %q", got.Form().Diagnosis)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := sqlite.Open("  "); err == nil {
		t.Fatal("expected error")
	}
}
