// Package httpapi is the HTTP and WebSocket surface of formvox.
//
// Routes:
//
//	GET    /v1/grammar                   command grammar
//	POST   /v1/interpret                 stateless dictation step
//	GET    /v1/sessions                  live sessions
//	POST   /v1/sessions                  start a session
//	GET    /v1/sessions/{id}             snapshot
//	DELETE /v1/sessions/{id}?save=true   stop, optionally persist
//	POST   /v1/sessions/{id}/utterances  typed utterance
//	POST   /v1/sessions/{id}/status      switch casualty status
//	POST   /v1/sessions/{id}/listen      microphone on or off
//	GET    /v1/sessions/{id}/stream      WebSocket audio in, updates out
//	GET    /v1/records[/{id}]            stored records
//	GET    /healthz, /readyz, /metrics
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/formvox/internal/app"
	"github.com/MrWong99/formvox/internal/dictation"
	"github.com/MrWong99/formvox/internal/health"
	"github.com/MrWong99/formvox/internal/observe"
	"github.com/MrWong99/formvox/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Config holds the dependencies of a [Server].
type Config struct {
	Sessions    *app.SessionManager
	Records     store.Store
	Interpreter *dictation.Interpreter
	Health      *health.Handler
	Metrics     *observe.Metrics

	// MetricsHandler serves /metrics. Nil leaves the route out.
	MetricsHandler http.Handler

	// OriginPatterns are the cross-origin hosts allowed to open the audio
	// WebSocket. Same-origin requests are always accepted.
	OriginPatterns []string

	Now func() time.Time
}

// Server routes API requests.
type Server struct {
	sessions       *app.SessionManager
	records        store.Store
	interp         *dictation.Interpreter
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	originPatterns []string
	now            func() time.Time
}

// New creates a Server.
func New(cfg Config) *Server {
	s := &Server{
		sessions:       cfg.Sessions,
		records:        cfg.Records,
		interp:         cfg.Interpreter,
		health:         cfg.Health,
		metrics:        cfg.Metrics,
		metricsHandler: cfg.MetricsHandler,
		originPatterns: cfg.OriginPatterns,
		now:            cfg.Now,
	}
	if s.interp == nil {
		s.interp = dictation.New()
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/grammar", s.handleGrammar)
	mux.HandleFunc("POST /v1/interpret", s.handleInterpret)

	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /v1/sessions", s.handleStartSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleStopSession)
	mux.HandleFunc("POST /v1/sessions/{id}/utterances", s.handleUtterance)
	mux.HandleFunc("POST /v1/sessions/{id}/status", s.handleSwitchStatus)
	mux.HandleFunc("POST /v1/sessions/{id}/listen", s.handleListen)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", s.handleStream)

	mux.HandleFunc("GET /v1/records", s.handleListRecords)
	mux.HandleFunc("GET /v1/records/{id}", s.handleGetRecord)

	s.health.Register(mux)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleGrammar(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, dictation.Grammar())
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, app.ErrNoRecognizer):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
