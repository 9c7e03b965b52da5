package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/formvox/internal/config"
)

func writeConfig(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func TestWatcher_ReloadsValidChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "formvox.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, path, "server:\n  log_level: info\ndictation:\n  doctor_name: Петров\n", base)

	changes := make(chan config.Diff, 4)
	w, err := config.NewWatcher(path, func(_, _ *config.Config, d config.Diff) { changes <- d },
		config.WithInterval(10*time.Millisecond), config.WithLoadOptions(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()
	if w.Current().Dictation.DoctorName != "Петров" {
		t.Fatalf("initial doctor = %q", w.Current().Dictation.DoctorName)
	}

	writeConfig(t, path, "server:\n  log_level: debug\ndictation:\n  doctor_name: Сидоров\n", base.Add(time.Minute))
	select {
	case d := <-changes:
		if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
			t.Errorf("log level diff = %+v", d)
		}
		if !d.DoctorNameChanged || d.NewDoctorName != "Сидоров" {
			t.Errorf("doctor diff = %+v", d)
		}
		if d.RestartRequired {
			t.Error("hot-reloadable change flagged as restart-required")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("change not reported")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current log level = %q, want debug", got)
	}
}

func TestWatcher_IgnoresInvalidEdits(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "formvox.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, path, "server:\n  log_level: warn\n", base)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(_, _ *config.Config, _ config.Diff) { called <- struct{}{} },
		config.WithInterval(10*time.Millisecond), config.WithLoadOptions(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "server:\n  log_level: loud\n", base.Add(time.Minute))
	select {
	case <-called:
		t.Fatal("invalid config reported as change")
	case <-time.After(100 * time.Millisecond):
	}
	if got := w.Current().Server.LogLevel; got != config.LogWarn {
		t.Errorf("Current log level = %q, want warn", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCompare_RestartRequired(t *testing.T) {
	t.Parallel()

	old := &config.Config{Storage: config.StorageConfig{Driver: config.StorageMemory}}
	next := &config.Config{Storage: config.StorageConfig{Driver: config.StorageSQLite}}
	d := config.Compare(old, next)
	if !d.RestartRequired || d.Any() {
		t.Errorf("Compare = %+v, want restart-only change", d)
	}
	next = &config.Config{
		Storage:     old.Storage,
		Recognition: config.RecognitionConfig{Primary: config.ProviderEntry{Name: "whisper"}},
	}
	if !config.Compare(old, next).RestartRequired {
		t.Error("provider change not flagged")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "formvox.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, path, "dictation:\n  max_sessions: 4\n", base)

	changes := make(chan config.Diff, 4)
	w, err := config.NewWatcher(path, func(_, _ *config.Config, d config.Diff) { changes <- d },
		config.WithInterval(time.Hour), config.WithLoadOptions(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Same mtime and size: only a forced reload notices.
	writeConfig(t, path, "dictation:\n  max_sessions: 8\n", base)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case d := <-changes:
		if !d.MaxSessionsChanged || d.NewMaxSessions != 8 {
			t.Errorf("diff = %+v", d)
		}
	default:
		t.Fatal("Reload did not report the change")
	}

	if err := w.Reload(); err != nil {
		t.Fatalf("second Reload: %v", err)
	}
	select {
	case d := <-changes:
		t.Errorf("unchanged content reported: %+v", d)
	default:
	}

	writeConfig(t, path, "dictation:\n  max_sessions: -1\n", base)
	if err := w.Reload(); err == nil {
		t.Error("Reload accepted an invalid file")
	}
	if got := w.Current().Dictation.MaxSessions; got != 8 {
		t.Errorf("MaxSessions = %d, want 8", got)
	}

	w.Stop()
	w.Stop()
}
