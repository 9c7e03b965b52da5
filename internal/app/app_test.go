package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/formvox/internal/app"
	"github.com/MrWong99/formvox/internal/config"
	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/store/memory"
	sttmock "github.com/MrWong99/formvox/pkg/provider/stt/mock"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Dictation.DoctorName = "Петров П.П."
	return cfg
}

func TestNew_MemoryStore(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if _, ok := a.Store().(*memory.Store); !ok {
		t.Errorf("store = %T, want *memory.Store", a.Store())
	}
	c, err := a.Sessions().Start(context.Background(), form.StatusWounded, "")
	if err != nil {
		t.Fatal(err)
	}
	if c.HasSpeech() {
		t.Error("speech enabled without an STT provider")
	}
	if checks := a.Checkers(); len(checks) != 1 || checks[0].Name != "store" {
		t.Errorf("checkers = %+v", checks)
	}
}

func TestNew_SQLiteStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Driver: config.StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "f.db")}
	a, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Store().Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestNew_SpeechSessions(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{}
	a, err := app.New(context.Background(), testConfig(), &app.Providers{STT: p}, app.WithStore(memory.New()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	c, err := a.Sessions().Start(context.Background(), form.StatusWounded, "")
	if err != nil {
		t.Fatal(err)
	}
	if !c.HasSpeech() {
		t.Fatal("speech not enabled")
	}
	if err := c.Listen(); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for !c.Snapshot().Listening || c.Snapshot().EngineState != "LISTENING" {
		select {
		case <-deadline:
			t.Fatalf("snapshot = %+v, want LISTENING", c.Snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if calls := p.Calls(); len(calls) != 1 || len(calls[0].Cfg.Grammar) == 0 {
		t.Errorf("stream calls = %+v, want one command-grammar stream", calls)
	}

	names := map[string]bool{}
	for _, ch := range a.Checkers() {
		names[ch.Name] = ch.Optional
	}
	if opt, ok := names["stt"]; !ok || !opt {
		t.Errorf("checkers = %v, want optional stt check", names)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown(context.Background())

	a.ApplyConfig(config.Diff{DoctorNameChanged: true, NewDoctorName: "Сидоров", MaxSessionsChanged: true, NewMaxSessions: 1})
	c, err := a.Sessions().Start(context.Background(), form.StatusFatality, "")
	if err != nil {
		t.Fatal(err)
	}
	if c.Snapshot().DoctorName != "Сидоров" {
		t.Errorf("doctor = %q", c.Snapshot().DoctorName)
	}
	if _, err := a.Sessions().Start(context.Background(), form.StatusFatality, ""); err == nil {
		t.Error("max sessions not applied")
	}
}
