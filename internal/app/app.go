// Package app wires the formvox subsystems into a running service.
//
// The App owns the record store, the shared speech backend and the session
// manager. New builds everything from the config, and Shutdown tears it
// down in reverse order.
//
// For testing, inject doubles via functional options (WithStore,
// WithAdapterFactory). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/formvox/internal/config"
	"github.com/MrWong99/formvox/internal/dictation"
	"github.com/MrWong99/formvox/internal/health"
	"github.com/MrWong99/formvox/internal/observe"
	"github.com/MrWong99/formvox/internal/recognizer"
	"github.com/MrWong99/formvox/internal/store"
	"github.com/MrWong99/formvox/internal/store/memory"
	"github.com/MrWong99/formvox/internal/store/postgres"
	"github.com/MrWong99/formvox/internal/store/sqlite"
	"github.com/MrWong99/formvox/pkg/provider/stt"
)

// Providers holds the configured backends. A nil STT disables speech input.
type Providers struct {
	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	store      store.Store
	newAdapter func(frames <-chan []byte) recognizer.Adapter
	sessions   *SessionManager

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithStore injects a record store instead of opening one from config.
// The App does not close an injected store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAdapterFactory replaces the recognizer built per session.
func WithAdapterFactory(f func(frames <-chan []byte) recognizer.Adapter) Option {
	return func(a *App) { a.newAdapter = f }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. providers comes from main.go, built through the
// config registry.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Record store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Recognizer ────────────────────────────────────────────────────
	a.initRecognizer()

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		MaxSessions: cfg.Dictation.MaxSessions,
		DoctorName:  cfg.Dictation.DoctorName,
		NewAdapter:  a.newAdapter,
		Store:       a.store,
		Interpreter: dictation.New(),
		Metrics:     a.metrics,
	})

	slog.Info("app initialised",
		"storage", cfg.Storage.Driver,
		"speech", a.newAdapter != nil,
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Storage
	switch sc.Driver {
	case config.StoragePostgres:
		s, err := postgres.Open(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
	case config.StorageSQLite:
		s, err := sqlite.Open(sc.SQLitePath)
		if err != nil {
			return err
		}
		a.store = s
	case config.StorageMemory, "":
		a.store = memory.New()
	default:
		return fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("record store ready", "driver", sc.Driver)
	return nil
}

// initRecognizer builds the per-session recognizer factory over the shared
// STT provider. The provider is closed once, by Shutdown.
func (a *App) initRecognizer() {
	if a.newAdapter != nil || a.providers.STT == nil {
		return
	}
	p := a.providers.STT
	rc := a.cfg.Recognition
	a.newAdapter = func(frames <-chan []byte) recognizer.Adapter {
		return recognizer.New(p, frames,
			recognizer.WithLanguage(rc.Language),
			recognizer.WithSampleRate(rc.SampleRate),
			recognizer.WithSnapThreshold(rc.EffectiveSnapThreshold()),
			recognizer.WithRetryInterval(rc.RetryInterval),
			recognizer.WithMetrics(a.metrics),
			recognizer.WithSharedProvider(),
		)
	}
	if c, ok := p.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Store returns the record store.
func (a *App) Store() store.Store { return a.store }

// Checkers returns the readiness checks of the App's dependencies. The
// speech check is optional: without it sessions still take typed input.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{health.Ping("store", a.store)}
	if p, ok := a.providers.STT.(stt.Preparer); ok {
		checks = append(checks, health.Checker{Name: "stt", Check: p.Prepare, Optional: true})
	}
	return checks
}

// ApplyConfig applies the hot-reloadable part of a config change.
func (a *App) ApplyConfig(d config.Diff) {
	if d.MaxSessionsChanged {
		a.sessions.SetMaxSessions(d.NewMaxSessions)
	}
	if d.DoctorNameChanged {
		a.sessions.SetDoctorName(d.NewDoctorName)
	}
	if d.RestartRequired {
		slog.Warn("configuration changes require a restart to take effect")
	}
}

// Shutdown closes every session and releases the store and providers. Safe
// to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.sessions.Shutdown(ctx)
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		slog.Info("app shut down")
	})
	return errors.Join(errs...)
}
