package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/formvox/pkg/provider/stt"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was rejected by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and ordered fallbacks of one provider type,
// each behind its own [CircuitBreaker].
//
// Entries are registered during construction; AddFallback must not race
// with Execute.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     CircuitBreakerConfig
}

// NewFallbackGroup creates a group with primary as the first entry. cfg is
// the template for every per-entry breaker; its Name is replaced.
func NewFallbackGroup[T any](primaryName string, primary T, cfg CircuitBreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends an entry tried after all earlier ones.
func (g *FallbackGroup[T]) AddFallback(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, fallbackEntry[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Names returns the entry names in try order.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// ExecuteWithResult tries fn against each entry in order and returns the
// first success together with the entry name.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.entries {
		e := &g.entries[i]
		var res R
		err := e.breaker.Execute(func() error {
			var err error
			res, err = fn(e.value)
			return err
		})
		if err == nil {
			return res, e.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			g.logger().Debug("skipping provider, circuit open", "provider", e.name)
			continue
		}
		g.logger().Warn("provider failed, trying next", "provider", e.name, "err", err)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (g *FallbackGroup[T]) logger() *slog.Logger {
	if g.cfg.Logger != nil {
		return g.cfg.Logger
	}
	return slog.Default()
}

// STTFallback is an [stt.Provider] that opens streams on the first healthy
// provider of a [FallbackGroup].
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var (
	_ stt.Provider = (*STTFallback)(nil)
	_ stt.Preparer = (*STTFallback)(nil)
)

// NewSTTFallback creates an [STTFallback] preferring primary.
func NewSTTFallback(primaryName string, primary stt.Provider, cfg CircuitBreakerConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primaryName, primary, cfg)}
}

// AddFallback registers a provider tried after all earlier ones.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// StartStream opens a stream on the first provider that accepts it.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	h, name, err := ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	f.group.logger().Debug("stt stream opened", "provider", name, "constrained", cfg.Constrained())
	return h, nil
}

// Prepare warms up every provider that implements [stt.Preparer]. A provider
// whose preparation fails has its breaker tripped so streams go to the
// remaining entries. Prepare fails only when no entry is usable.
func (f *STTFallback) Prepare(ctx context.Context) error {
	var errs []error
	usable := 0
	for i := range f.group.entries {
		e := &f.group.entries[i]
		p, ok := e.value.(stt.Preparer)
		if !ok {
			usable++
			continue
		}
		if err := p.Prepare(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			for range e.breaker.cfg.MaxFailures {
				e.breaker.record(false, err)
			}
			continue
		}
		usable++
	}
	if usable == 0 {
		return fmt.Errorf("resilience: prepare: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		f.group.logger().Warn("stt provider unavailable", "err", err)
	}
	return nil
}
