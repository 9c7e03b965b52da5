// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider wraps a transcription service (Deepgram streaming, a local
// whisper.cpp server or model, the OpenAI transcription API) behind one
// streaming shape: a SessionHandle accepts raw PCM frames and emits
// low-latency partials and authoritative finals.
//
// A session is opened for one listening grammar. Changing the grammar means
// closing the session and opening a new one; sessions never change their
// vocabulary mid-stream.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition constraints for a
// new STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Dictation audio is 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "ru").
	// An empty string uses the provider default.
	Language string

	// Grammar is the closed phrase list recognition should be constrained to.
	// Empty means free dictation. Backends without hard grammar support use it
	// as a bias (keyterms, keyword boosts or a decoding prompt).
	Grammar []string
}

// Constrained reports whether cfg asks for a closed vocabulary.
func (cfg StreamConfig) Constrained() bool {
	return len(cfg.Grammar) > 0
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM audio matching
	// the StreamConfig. Calling SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Err returns the error that ended the session, or nil when it ended
	// through Close or is still running. Valid once Finals is closed.
	Err() error

	// Close terminates the session and releases its resources. After Close
	// returns, Partials and Finals are closed. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Preparer is implemented by providers with an expensive warm-up step such
// as loading a local model. Prepare is called once before the first stream.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Phrases returns the spoken entries of cfg.Grammar, dropping bracketed
// control tokens such as "[unk]".
func (cfg StreamConfig) Phrases() []string {
	out := make([]string, 0, len(cfg.Grammar))
	for _, g := range cfg.Grammar {
		if g == "" || (g[0] == '[' && g[len(g)-1] == ']') {
			continue
		}
		out = append(out, g)
	}
	return out
}
