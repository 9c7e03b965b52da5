package recognizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/formvox/internal/dictation"
	"github.com/MrWong99/formvox/internal/observe"
	"github.com/MrWong99/formvox/internal/resilience"
	"github.com/MrWong99/formvox/pkg/provider/stt"
)

// Diagnostics reported with [StateError]. They are shown to the user.
const (
	msgNotPrepared   = "Модель распознавания еще не загружена"
	msgPrepareFailed = "Не удалось загрузить модель распознавания: %v"
	msgStartFailed   = "Ошибка инициализации распознавания: %v"
	msgStreamFailed  = "Ошибка распознавания: %v"
)

// Option configures an [Engine].
type Option func(*Engine)

// WithGrammar replaces the command-mode grammar. Default: [dictation.Grammar].
func WithGrammar(grammar []string) Option {
	return func(e *Engine) { e.grammar = slices.Clone(grammar) }
}

// WithLanguage sets the recognition language. Default: "ru".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithSampleRate sets the PCM sample rate of incoming frames. Default: 16000.
func WithSampleRate(hz int) Option {
	return func(e *Engine) { e.sampleRate = hz }
}

// WithSnapThreshold sets the similarity a misheard command needs to be
// snapped onto the grammar. Zero disables snapping. Default: 0.85.
func WithSnapThreshold(threshold float64) Option {
	return func(e *Engine) { e.snapThreshold = threshold }
}

// WithRetryInterval sets the delay between stream reconnect attempts.
// Default: 2s.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) { e.retryInterval = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSharedProvider leaves the provider open on [Engine.Shutdown]. Use it
// when several engines share one provider.
func WithSharedProvider() Option {
	return func(e *Engine) { e.sharedProvider = true }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

type eventKind int

const (
	evState eventKind = iota
	evPartial
	evFinal
	evEnded
)

type event struct {
	kind  eventKind
	gen   uint64
	state State
	text  string
	err   error
}

// eventQueue is an unbounded FIFO so producers never block, including the
// delivery goroutine itself when a callback triggers a state report.
type eventQueue struct {
	mu    sync.Mutex
	items []event
	ready chan struct{}
}

func (q *eventQueue) push(ev event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Engine is the production [Adapter] over an [stt.Provider].
//
// Audio arrives on the frames channel given to [New] as 16-bit
// little-endian mono PCM. A single forwarder goroutine writes every frame
// to whichever STT stream is current and discards frames while idle.
// Switching the grammar swaps the stream under the forwarder's lock, so no
// frame is lost or split across a restart.
type Engine struct {
	provider       stt.Provider
	frames         <-chan []byte
	sharedProvider bool

	grammar       []string
	language      string
	sampleRate    int
	snapThreshold float64
	retryInterval time.Duration
	log           *slog.Logger
	metrics       *observe.Metrics

	detector *dictation.Detector
	filter   *grammarFilter
	breaker  *resilience.CircuitBreaker
	queue    eventQueue

	mu        sync.Mutex
	state     State
	onState   StateFunc
	onPartial TextFunc
	onFinal   TextFunc
	prepared  bool
	listening bool
	mode      ListenMode
	gen       uint64
	handle    stt.SessionHandle
	lastFinal string
	recovery  context.CancelFunc
	baseCtx   context.Context
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ Adapter = (*Engine)(nil)

// New creates an Engine reading audio from frames. The Engine owns two
// goroutines until [Engine.Shutdown] is called.
func New(provider stt.Provider, frames <-chan []byte, opts ...Option) *Engine {
	e := &Engine{
		provider:      provider,
		frames:        frames,
		grammar:       dictation.Grammar(),
		language:      "ru",
		sampleRate:    16000,
		snapThreshold: 0.85,
		retryInterval: 2 * time.Second,
		detector:      dictation.DefaultDetector(),
		queue:         eventQueue{ready: make(chan struct{}, 1)},
		baseCtx:       context.Background(),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.filter = newGrammarFilter(e.grammar, e.detector, e.snapThreshold)
	e.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "stt-stream",
		MaxFailures:  3,
		ResetTimeout: 4 * e.retryInterval,
		Logger:       e.log,
		OnStateChange: func(name string, _, to resilience.State) {
			e.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})

	e.wg.Add(2)
	go e.deliverLoop()
	go e.forwardLoop()
	return e
}

// State returns the last reported state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Mode returns the current listening mode.
func (e *Engine) Mode() ListenMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Prepare warms up the provider in the background when it implements
// [stt.Preparer] and reports READY or ERROR when done.
func (e *Engine) Prepare(ctx context.Context, onState StateFunc) {
	e.mu.Lock()
	e.onState = onState
	e.setState(StatePreparing, "")
	e.mu.Unlock()

	go func() {
		var err error
		if p, ok := e.provider.(stt.Preparer); ok {
			err = p.Prepare(ctx)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		if err != nil {
			e.log.Error("recognizer prepare failed", "err", err)
			e.setState(StateError, fmt.Sprintf(msgPrepareFailed, err))
			return
		}
		e.prepared = true
		e.setState(StateReady, "")
	}()
}

// Start opens a stream in mode. On failure it reports ERROR, returns false
// and keeps retrying in the background unless the engine is unprepared.
func (e *Engine) Start(ctx context.Context, mode ListenMode, onPartial, onFinal TextFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.onPartial, e.onFinal = onPartial, onFinal
	e.baseCtx = context.WithoutCancel(ctx)
	if !e.prepared {
		e.setState(StateError, msgNotPrepared)
		return false
	}
	e.cancelRecovery()
	e.closeStream()
	e.mode = mode
	e.listening = true
	if err := e.openStream(); err != nil {
		e.setState(StateError, fmt.Sprintf(msgStartFailed, err))
		e.startRecovery()
		return false
	}
	e.setState(StateListening, "")
	return true
}

// SwitchMode restarts the stream with the grammar of mode. When not
// listening it only records the mode for the next Start.
func (e *Engine) SwitchMode(mode ListenMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || mode == e.mode {
		return
	}
	e.mode = mode
	e.metrics.RecordModeSwitch(context.Background(), mode.String())
	if !e.listening || e.recovery != nil {
		return
	}
	e.closeStream()
	if err := e.openStream(); err != nil {
		e.setState(StateError, fmt.Sprintf(msgStreamFailed, err))
		e.startRecovery()
	}
}

// Stop ends listening and reports READY.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.listening = false
	e.cancelRecovery()
	e.closeStream()
	if e.prepared {
		e.setState(StateReady, "")
	}
}

// Shutdown stops listening, ends the engine goroutines and closes the
// provider when it implements [io.Closer] and is not shared.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.listening = false
	e.cancelRecovery()
	e.closeStream()
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()
	if e.sharedProvider {
		return
	}
	if c, ok := e.provider.(io.Closer); ok {
		if err := c.Close(); err != nil {
			e.log.Warn("recognizer: close provider", "err", err)
		}
	}
}

// setState records and enqueues a state report. Must be called with e.mu held.
func (e *Engine) setState(s State, msg string) {
	e.state = s
	e.metrics.RecordRecognizerState(context.Background(), s.String())
	e.queue.push(event{kind: evState, state: s, text: msg})
}

// openStream opens a stream for the current mode and starts its pump.
// Must be called with e.mu held.
func (e *Engine) openStream() error {
	cfg := stt.StreamConfig{
		SampleRate: e.sampleRate,
		Channels:   1,
		Language:   e.language,
	}
	if e.mode == ModeCommand {
		cfg.Grammar = slices.Clone(e.grammar)
	}
	h, err := e.provider.StartStream(e.baseCtx, cfg)
	e.metrics.RecordStreamStart(context.Background(), strings.ToLower(e.mode.String()), err)
	if err != nil {
		return err
	}
	e.gen++
	e.handle = h
	e.wg.Add(1)
	go e.pump(h, e.gen)
	return nil
}

// closeStream invalidates and closes the current stream. Must be called
// with e.mu held.
func (e *Engine) closeStream() {
	e.gen++
	if e.handle == nil {
		return
	}
	if err := e.handle.Close(); err != nil {
		e.log.Debug("recognizer: close stream", "err", err)
	}
	e.handle = nil
}

// startRecovery reopens the stream in the background. Must be called with
// e.mu held.
func (e *Engine) startRecovery() {
	if e.recovery != nil {
		return
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.recovery = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := resilience.Retry(ctx, e.breaker, e.retryInterval, func(context.Context) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return e.openStream()
		})
		e.mu.Lock()
		defer e.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		e.recovery = nil
		if err == nil {
			e.log.Info("recognizer stream recovered", "mode", e.mode.String())
			e.setState(StateListening, "")
		}
	}()
}

// cancelRecovery must be called with e.mu held.
func (e *Engine) cancelRecovery() {
	if e.recovery != nil {
		e.recovery()
		e.recovery = nil
	}
}

// pump moves transcripts of one stream onto the event queue.
func (e *Engine) pump(h stt.SessionHandle, gen uint64) {
	defer e.wg.Done()
	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			e.queue.push(event{kind: evPartial, gen: gen, text: t.Text})
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			e.queue.push(event{kind: evFinal, gen: gen, text: t.Text})
		}
	}
	e.queue.push(event{kind: evEnded, gen: gen, err: h.Err()})
}

func (e *Engine) forwardLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case frame, ok := <-e.frames:
			if !ok {
				return
			}
			// SendAudio may block on a stalled backend, so it runs
			// unlocked. A handle swapped out meanwhile just reports closed.
			e.mu.Lock()
			h := e.handle
			e.mu.Unlock()
			if h == nil {
				continue
			}
			if err := h.SendAudio(frame); err != nil {
				e.log.Debug("recognizer: send audio", "err", err)
			}
		}
	}
}

func (e *Engine) deliverLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.queue.ready:
			for _, ev := range e.queue.drain() {
				e.dispatch(ev)
			}
		}
	}
}

func (e *Engine) dispatch(ev event) {
	e.mu.Lock()
	if ev.kind != evState && (ev.gen != e.gen || !e.listening) {
		e.mu.Unlock()
		return
	}
	var call func()
	switch ev.kind {
	case evState:
		if cb := e.onState; cb != nil {
			call = func() { cb(ev.state, ev.text) }
		}
	case evPartial:
		text := strings.TrimSpace(ev.text)
		if cb := e.onPartial; cb != nil && text != "" {
			call = func() { cb(text) }
		}
	case evFinal:
		text := e.acceptFinal(ev.text)
		if cb := e.onFinal; cb != nil && text != "" {
			call = func() { cb(text) }
		}
	case evEnded:
		e.closeStream()
		msg := "stream ended"
		if ev.err != nil {
			msg = ev.err.Error()
		}
		e.log.Warn("recognizer stream lost", "mode", e.mode.String(), "err", ev.err)
		e.setState(StateError, fmt.Sprintf(msgStreamFailed, msg))
		e.startRecovery()
	}
	e.mu.Unlock()
	if call != nil {
		call()
	}
}

// acceptFinal returns the text to deliver, or "" when the final is blank,
// the out-of-vocabulary token, or a repeat of the previous delivery. Must
// be called with e.mu held.
func (e *Engine) acceptFinal(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" || text == dictation.UnknownToken {
		return ""
	}
	if e.mode == ModeCommand {
		text = e.filter.apply(text)
	}
	if text == e.lastFinal {
		return ""
	}
	e.lastFinal = text
	return text
}
