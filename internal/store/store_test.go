package store_test

import (
	"testing"
	"time"

	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/store"
)

func TestNewRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	d := form.NewDraft(form.StatusWounded, now).
		WithFullName("Иванов Иван").
		WithLocalization([]form.Localization{form.LocalizationArm}, "кисть")

	r, err := store.NewRecord(d, "Петров П.П.", now)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if r.ID == "" {
		t.Error("ID is empty")
	}
	if r.Status != form.StatusWounded || !r.CreatedAt.Equal(now) {
		t.Errorf("record = %+v", r)
	}

	view := r.Form()
	if view.FullName != "Иванов Иван" || view.DoctorName != "Петров П.П." {
		t.Errorf("view = %+v", view)
	}
	if view.Localization != "рука, кисть" {
		t.Errorf("localization = %q, want %q", view.Localization, "рука, кисть")
	}

	other, _ := store.NewRecord(d, "", now)
	if other.ID == r.ID {
		t.Error("ids are not unique")
	}
}

func TestLimit(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct{ in, want int }{{0, store.DefaultListLimit}, {-3, store.DefaultListLimit}, {7, 7}} {
		if got := store.Limit(tt.in); got != tt.want {
			t.Errorf("Limit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
