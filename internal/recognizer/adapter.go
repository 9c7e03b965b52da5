// Package recognizer adapts a streaming STT backend to the listening
// contract the dictation controller consumes.
//
// An [Adapter] moves through PREPARING, READY and LISTENING, with ERROR
// reachable from every state. Listening happens in one of two grammar
// modes: COMMAND constrains recognition to the command vocabulary, FREE is
// unconstrained dictation. Final utterances are delivered in order on a
// single goroutine and never twice in a row with the same text.
package recognizer

import (
	"context"
	"errors"

	"github.com/MrWong99/formvox/internal/dictation"
)

// ErrNotPrepared is reported when listening is requested before the
// backend finished preparing.
var ErrNotPrepared = errors.New("recognizer: model not loaded")

// State is the engine state reported through a [StateFunc].
type State int

const (
	StatePreparing State = iota
	StateReady
	StateListening
	StateError
)

func (s State) String() string {
	switch s {
	case StatePreparing:
		return "PREPARING"
	case StateReady:
		return "READY"
	case StateListening:
		return "LISTENING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state name for JSON status payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CanListen reports whether a listening start may be requested in s.
func (s State) CanListen() bool { return s == StateReady || s == StateListening }

// ListenMode selects the recognition grammar.
type ListenMode int

const (
	// ModeCommand constrains recognition to the command grammar.
	ModeCommand ListenMode = iota
	// ModeFree is unconstrained dictation.
	ModeFree
)

func (m ListenMode) String() string {
	if m == ModeFree {
		return "FREE"
	}
	return "COMMAND"
}

// MarshalText encodes the mode name for JSON status payloads.
func (m ListenMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ModeFor returns the listening mode a dialogue mode needs: free dictation
// while a value is awaited, the command grammar otherwise.
func ModeFor(m dictation.Mode) ListenMode {
	if m == dictation.ModeWaitValue {
		return ModeFree
	}
	return ModeCommand
}

// StateFunc receives state reports. message is empty except for
// [StateError], where it carries a human-readable diagnostic.
type StateFunc func(state State, message string)

// TextFunc receives partial or final utterance text.
type TextFunc func(text string)

// Adapter is the recognition contract consumed by the dictation controller.
//
// Callbacks run on one delivery goroutine in order and never from inside
// an Adapter method, so callers may hold their own locks while calling in.
// Callbacks may call SwitchMode and Stop.
type Adapter interface {
	// Prepare starts asynchronous preparation. onState receives every state
	// report from now on.
	Prepare(ctx context.Context, onState StateFunc)

	// Start opens a listening pass in mode. It reports false and an ERROR
	// state when listening cannot start.
	Start(ctx context.Context, mode ListenMode, onPartial, onFinal TextFunc) bool

	// SwitchMode restarts listening with the grammar of mode. It is a no-op
	// when mode is already current.
	SwitchMode(mode ListenMode)

	// Stop ends listening and reports READY. Utterances of the stopped pass
	// that have not been dispatched yet are dropped; a callback already
	// running is not interrupted.
	Stop()

	// Shutdown stops listening and releases the backend.
	Shutdown()

	// State returns the last reported state.
	State() State
}
