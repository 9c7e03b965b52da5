package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/formvox/internal/dictation"
	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/observe"
	"github.com/MrWong99/formvox/internal/recognizer"
)

// ErrNoRecognizer is returned by [Controller.Listen] for sessions without
// speech input.
var ErrNoRecognizer = errors.New("app: speech recognition is not configured")

// frameBuffer is the number of audio frames queued ahead of the recognizer.
const frameBuffer = 64

// UpdateKind tags an [Update].
type UpdateKind string

const (
	UpdatePartial  UpdateKind = "partial"
	UpdateFinal    UpdateKind = "final"
	UpdateSnapshot UpdateKind = "snapshot"
)

// Update is pushed to subscribers of a [Controller]. Snapshot is set for
// every kind except partial.
type Update struct {
	Kind     UpdateKind `json:"type"`
	Text     string     `json:"text,omitempty"`
	Snapshot *Snapshot  `json:"snapshot,omitempty"`
}

// Snapshot is the observable state of a dictation session.
type Snapshot struct {
	ID            string            `json:"id"`
	Status        form.Status       `json:"status"`
	DoctorName    string            `json:"doctor_name"`
	Draft         form.Draft        `json:"draft"`
	Session       dictation.Session `json:"session"`
	LastOutcome   dictation.Outcome `json:"last_outcome"`
	EngineState   string            `json:"engine_state"`
	EngineMessage string            `json:"engine_message,omitempty"`
	Listening     bool              `json:"listening"`
	StartedAt     time.Time         `json:"started_at"`
}

// ControllerConfig holds the dependencies of a [Controller].
type ControllerConfig struct {
	ID         string
	Status     form.Status
	DoctorName string

	// NewAdapter builds the recognizer over the controller's audio frames.
	// Nil disables speech input.
	NewAdapter func(frames <-chan []byte) recognizer.Adapter

	Interpreter *dictation.Interpreter
	Metrics     *observe.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// Controller drives one dictation session. Recognized finals and typed
// utterances go through the same serialized path: the interpreter runs
// under the controller lock, and the recognizer is switched to the grammar
// of the resulting dialogue mode before the lock is released.
//
// Recognizer callbacks carry the listening pass they belong to, so
// utterances that arrive after Stop or a restart are ignored.
type Controller struct {
	id      string
	interp  *dictation.Interpreter
	adapter recognizer.Adapter
	frames  chan []byte
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time
	baseCtx context.Context

	mu          sync.Mutex
	status      form.Status
	doctorName  string
	draft       form.Draft
	sess        dictation.Session
	lastOutcome dictation.Outcome
	engineState recognizer.State
	engineMsg   string
	wantListen  bool
	listening   bool
	// starting is set while a Start that returned false may still be
	// recovered by the adapter in the background.
	starting bool
	pass        uint64
	closed      bool
	startedAt   time.Time

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int
}

// NewController creates a controller and, when speech input is configured,
// starts preparing its recognizer.
func NewController(ctx context.Context, cfg ControllerConfig) *Controller {
	c := &Controller{
		id:          cfg.ID,
		interp:      cfg.Interpreter,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		now:         cfg.Now,
		baseCtx:     observe.WithSessionID(context.WithoutCancel(ctx), cfg.ID),
		status:      cfg.Status,
		doctorName:  cfg.DoctorName,
		sess:        dictation.NewSession(),
		engineState: recognizer.StatePreparing,
		subs:        make(map[int]chan Update),
	}
	if c.interp == nil {
		c.interp = dictation.New()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.log = c.log.With("session_id", c.id)
	c.startedAt = c.now()
	c.draft = form.NewDraft(c.status, c.startedAt)

	if cfg.NewAdapter != nil {
		c.frames = make(chan []byte, frameBuffer)
		c.adapter = cfg.NewAdapter(c.frames)
		c.adapter.Prepare(c.baseCtx, c.onState)
	}
	return c
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// HasSpeech reports whether the session has a recognizer.
func (c *Controller) HasSpeech() bool { return c.adapter != nil }

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	state := ""
	if c.adapter != nil {
		state = c.engineState.String()
	}
	return Snapshot{
		ID:            c.id,
		Status:        c.status,
		DoctorName:    c.doctorName,
		Draft:         c.draft.Clone(),
		Session:       c.sess,
		LastOutcome:   c.lastOutcome,
		EngineState:   state,
		EngineMessage: c.engineMsg,
		Listening:     c.listening,
		StartedAt:     c.startedAt,
	}
}

// Utterance applies a typed final utterance.
func (c *Controller) Utterance(ctx context.Context, text string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.handleLocked(ctx, text)
	}
	return c.snapshotLocked()
}

// SwitchStatus discards the draft and dialogue and starts over for status.
// Switching to the current status is a no-op.
func (c *Controller) SwitchStatus(status form.Status) (Snapshot, error) {
	if !status.IsValid() {
		return Snapshot{}, fmt.Errorf("app: invalid status %q", status)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || status == c.status {
		return c.snapshotLocked(), nil
	}
	c.status = status
	c.draft = form.NewDraft(status, c.now())
	c.sess = dictation.NewSession()
	c.lastOutcome = dictation.OutcomeIgnored
	c.switchModeLocked()
	c.log.Info("dictation status switched", "status", status)
	snap := c.snapshotLocked()
	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
	return snap, nil
}

// Listen turns the microphone on. Listening starts only from READY or
// LISTENING; while the recognizer is preparing or in ERROR the request is
// kept and honoured when it reports READY.
func (c *Controller) Listen() error {
	if c.adapter == nil {
		return ErrNoRecognizer
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.wantListen = true
	if !c.listening && c.engineState.CanListen() {
		c.startLocked()
	}
	return nil
}

// StopListening turns the microphone off. The draft is kept and listening
// can be resumed.
func (c *Controller) StopListening() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wantListen = false
	c.stopLocked()
}

// Feed queues one PCM frame for the recognizer. It reports false when the
// frame was dropped because the queue is full or there is no recognizer.
func (c *Controller) Feed(frame []byte) bool {
	if c.frames == nil {
		return false
	}
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

// Subscribe registers for updates. Slow subscribers lose updates rather
// than blocking the session. The returned func unsubscribes.
func (c *Controller) Subscribe(buffer int) (<-chan Update, func()) {
	ch := make(chan Update, max(buffer, 1))
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// Close shuts the recognizer down and ends every subscription. It returns
// the final snapshot.
func (c *Controller) Close() Snapshot {
	c.mu.Lock()
	if c.closed {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap
	}
	c.closed = true
	c.wantListen = false
	c.listening, c.starting = false, false
	c.pass++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if c.adapter != nil {
		c.adapter.Shutdown()
	}
	c.subMu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subMu.Unlock()
	return snap
}

// handleLocked runs one final utterance through the dialogue. Must be
// called with c.mu held.
func (c *Controller) handleLocked(ctx context.Context, text string) {
	if c.sess.Mode == dictation.ModeWaitCommand && dictation.IsStopWord(text) {
		c.log.Info("stop word received")
		c.wantListen = false
		c.stopLocked()
		return
	}

	ctx, span := observe.StartSpan(observe.WithSessionID(ctx, c.id), "dictation.apply")
	defer span.End()

	start := time.Now()
	res := c.interp.Apply(c.status, text, c.draft, c.sess)
	c.metrics.RecordUtterance(ctx, res.Outcome.String(), time.Since(start).Seconds())

	c.draft, c.sess, c.lastOutcome = res.Draft, res.Session, res.Outcome
	c.log.Debug("utterance applied", "outcome", res.Outcome, "mode", res.Session.Mode)
	c.switchModeLocked()

	snap := c.snapshotLocked()
	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
}

// switchModeLocked keeps the recognizer grammar in step with the dialogue.
func (c *Controller) switchModeLocked() {
	if c.adapter != nil && c.listening {
		c.adapter.SwitchMode(recognizer.ModeFor(c.sess.Mode))
	}
}

func (c *Controller) startLocked() {
	c.pass++
	pass := c.pass
	c.listening = c.adapter.Start(c.baseCtx, recognizer.ModeFor(c.sess.Mode),
		func(text string) { c.onPartial(pass, text) },
		func(text string) { c.onFinal(pass, text) },
	)
	c.starting = !c.listening
	if !c.listening {
		c.log.Warn("recognizer did not start listening")
	}
}

func (c *Controller) stopLocked() {
	if !c.listening && !c.starting {
		return
	}
	c.listening, c.starting = false, false
	c.pass++
	c.adapter.Stop()
}

func (c *Controller) onState(state recognizer.State, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.engineState, c.engineMsg = state, msg
	if state == recognizer.StateError {
		c.log.Warn("recognizer error", "message", msg)
	}
	switch {
	case state == recognizer.StateReady && c.wantListen && !c.listening:
		c.startLocked()
	case state == recognizer.StateListening && c.starting:
		// The adapter recovered the stream of a failed Start.
		c.listening, c.starting = true, false
	}
	snap := c.snapshotLocked()
	c.publish(Update{Kind: UpdateSnapshot, Snapshot: &snap})
}

func (c *Controller) onPartial(pass uint64, text string) {
	c.mu.Lock()
	current := pass == c.pass && c.listening && !c.closed
	c.mu.Unlock()
	if current {
		c.publish(Update{Kind: UpdatePartial, Text: text})
	}
}

func (c *Controller) onFinal(pass uint64, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pass != c.pass || !c.listening || c.closed {
		return
	}
	c.publish(Update{Kind: UpdateFinal, Text: text})
	c.handleLocked(c.baseCtx, text)
}

func (c *Controller) publish(u Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
			c.log.Debug("subscriber lagging, update dropped", "type", u.Kind)
		}
	}
}
