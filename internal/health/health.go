// Package health serves the liveness and readiness probes of formvox.
//
//   - /healthz reports 200 while the process can serve HTTP.
//   - /readyz runs every registered [Checker] concurrently and reports 200
//     unless a required check fails. Failing optional checks only mark the
//     response "degraded".
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Response status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check. Check returns nil when the dependency
// is usable and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Optional checks degrade readiness instead of failing it. The speech
	// backend is optional: sessions still accept typed utterances.
	Optional bool
}

// Pinger is anything with a context-aware Ping, such as a record store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a required [Checker] that pings p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Optional   bool   `json:"optional,omitempty"`
}

// Report is the JSON body of both probes.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New returns a [Handler] evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz runs the checks and answers 200 for ok or degraded, 503 for fail.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	status := http.StatusOK
	if rep.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Evaluate runs every check concurrently, each under [checkTimeout].
func (h *Handler) Evaluate(ctx context.Context) Report {
	var (
		mu  sync.Mutex
		g   errgroup.Group
		rep = Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers))}
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{Status: StatusOK, DurationMS: time.Since(start).Milliseconds(), Optional: c.Optional}
			if err != nil {
				res.Status, res.Error = StatusFail, err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = res
			switch {
			case err == nil:
			case !c.Optional:
				rep.Status = StatusFail
			case rep.Status == StatusOK:
				rep.Status = StatusDegraded
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// Register adds both probes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
