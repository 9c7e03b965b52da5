package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/formvox/internal/dictation"
	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/observe"
	"github.com/MrWong99/formvox/internal/recognizer"
	"github.com/MrWong99/formvox/internal/store"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("app: session not found")

	// ErrTooManySessions is returned by [SessionManager.Start] when the
	// session limit is reached.
	ErrTooManySessions = errors.New("app: too many active sessions")
)

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int

	// DoctorName is used when a session is started without one.
	DoctorName string

	// NewAdapter builds a recognizer per session. Nil means typed input only.
	NewAdapter func(frames <-chan []byte) recognizer.Adapter

	Store       store.Store
	Interpreter *dictation.Interpreter
	Metrics     *observe.Metrics
	Now         func() time.Time
}

// SessionManager owns the live dictation sessions. All exported methods are
// safe for concurrent use.
type SessionManager struct {
	newAdapter func(frames <-chan []byte) recognizer.Adapter
	store      store.Store
	interp     *dictation.Interpreter
	metrics    *observe.Metrics
	now        func() time.Time

	mu          sync.Mutex
	sessions    map[string]*Controller
	maxSessions int
	doctorName  string
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		newAdapter:  cfg.NewAdapter,
		store:       cfg.Store,
		interp:      cfg.Interpreter,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		sessions:    make(map[string]*Controller),
		maxSessions: cfg.MaxSessions,
		doctorName:  cfg.DoctorName,
	}
	if sm.interp == nil {
		sm.interp = dictation.New()
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.now == nil {
		sm.now = time.Now
	}
	return sm
}

// Start opens a new session for status. A blank doctorName falls back to
// the configured default.
func (sm *SessionManager) Start(ctx context.Context, status form.Status, doctorName string) (*Controller, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("app: invalid status %q", status)
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, sm.maxSessions)
	}
	if strings.TrimSpace(doctorName) == "" {
		doctorName = sm.doctorName
	}

	c := NewController(ctx, ControllerConfig{
		ID:          uuid.NewString(),
		Status:      status,
		DoctorName:  doctorName,
		NewAdapter:  sm.newAdapter,
		Interpreter: sm.interp,
		Metrics:     sm.metrics,
		Now:         sm.now,
	})
	sm.sessions[c.ID()] = c
	sm.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("dictation session started",
		"session_id", c.ID(),
		"status", status,
		"speech", c.HasSpeech(),
	)
	return c, nil
}

// Get returns the session with id.
func (sm *SessionManager) Get(id string) (*Controller, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	c, ok := sm.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return c, nil
}

// List returns snapshots of all sessions, oldest first.
func (sm *SessionManager) List() []Snapshot {
	sm.mu.Lock()
	ctrls := make([]*Controller, 0, len(sm.sessions))
	for _, c := range sm.sessions {
		ctrls = append(ctrls, c)
	}
	sm.mu.Unlock()

	out := make([]Snapshot, 0, len(ctrls))
	for _, c := range ctrls {
		out = append(out, c.Snapshot())
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Stop ends the session with id. With save set, the final draft is written
// to the store and the stored record is returned. A failed save still ends
// the session; the returned snapshot carries the draft.
func (sm *SessionManager) Stop(ctx context.Context, id string, save bool) (Snapshot, *store.Record, error) {
	sm.mu.Lock()
	c, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	if !ok {
		return Snapshot{}, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	snap := c.Close()
	sm.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("dictation session stopped", "session_id", id, "save", save)
	if !save {
		return snap, nil, nil
	}
	rec, err := sm.persist(ctx, snap)
	if err != nil {
		return snap, nil, err
	}
	return snap, &rec, nil
}

func (sm *SessionManager) persist(ctx context.Context, snap Snapshot) (store.Record, error) {
	if sm.store == nil {
		return store.Record{}, errors.New("app: no record store configured")
	}
	rec, err := store.NewRecord(snap.Draft, snap.DoctorName, sm.now())
	if err == nil {
		err = sm.store.Save(ctx, rec)
	}
	sm.metrics.RecordSave(ctx, string(snap.Status), err)
	log := observe.Logger(observe.WithSessionID(ctx, snap.ID))
	if err != nil {
		log.Error("failed to save form record", "err", err)
		return store.Record{}, fmt.Errorf("app: save session %s: %w", snap.ID, err)
	}
	log.Info("form record saved", "record_id", rec.ID)
	return rec, nil
}

// SetMaxSessions changes the session limit for future starts.
func (sm *SessionManager) SetMaxSessions(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.maxSessions = n
}

// SetDoctorName changes the default doctor name for future sessions.
func (sm *SessionManager) SetDoctorName(name string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.doctorName = name
}

// Shutdown closes every session without saving.
func (sm *SessionManager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	ctrls := sm.sessions
	sm.sessions = make(map[string]*Controller)
	sm.mu.Unlock()

	for id, c := range ctrls {
		c.Close()
		sm.metrics.ActiveSessions.Add(ctx, -1)
		slog.Info("dictation session closed on shutdown", "session_id", id)
	}
}
