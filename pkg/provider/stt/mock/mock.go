// Package mock provides test doubles for the stt package interfaces.
//
// Provider opens a fresh Session for every StartStream call and records the
// StreamConfig, so tests can assert which grammar each stream was opened
// with. Session lets tests push partials and finals, or end the stream with
// an error.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.StartStream(ctx, cfg)
//	p.LastSession().EmitFinal("фио")
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/formvox/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider and stt.Preparer.
type Provider struct {
	mu sync.Mutex

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// PrepareErr, if non-nil, is returned from Prepare.
	PrepareErr error

	// PrepareCalls counts Prepare invocations.
	PrepareCalls int

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	sessions []*Session
	opened   chan *Session
}

// StartStream records the call and returns a new Session or StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg.Grammar = slices.Clone(cfg.Grammar)
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	if p.opened != nil {
		select {
		case p.opened <- s:
		default:
		}
	}
	return s, nil
}

// Prepare records the call and returns PrepareErr.
func (p *Provider) Prepare(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PrepareCalls++
	return p.PrepareErr
}

// SetStartStreamErr replaces StartStreamErr. Thread-safe.
func (p *Provider) SetStartStreamErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamErr = err
}

// Opened returns a channel that receives every session opened after the call.
func (p *Provider) Opened() <-chan *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened == nil {
		p.opened = make(chan *Session, 16)
	}
	return p.opened
}

// Sessions returns all sessions opened so far. Thread-safe.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sessions)
}

// LastSession returns the most recently opened session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Calls returns a copy of the recorded StartStream calls. Thread-safe.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.StartStreamCalls)
}

var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Preparer = (*Provider)(nil)
)

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	partials chan stt.Transcript
	finals   chan stt.Transcript
	done     chan struct{}
	once     sync.Once
	err      error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	audio      [][]byte
	closeCalls int
}

// NewSession returns an open Session with buffered output channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	s.audio = append(s.audio, slices.Clone(chunk))
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript { return s.partials }
func (s *Session) Finals() <-chan stt.Transcript   { return s.finals }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the output channels.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.end(nil)
	return nil
}

// EmitPartial pushes an interim transcript. No-op after the session ended.
func (s *Session) EmitPartial(text string) {
	s.emit(s.partials, stt.Transcript{Text: text})
}

// EmitFinal pushes a committed transcript. No-op after the session ended.
func (s *Session) EmitFinal(text string) {
	s.emit(s.finals, stt.Transcript{Text: text, IsFinal: true})
}

// Fail ends the session with err, as a dropped connection would.
func (s *Session) Fail(err error) {
	s.end(err)
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// CloseCalls returns how often Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Audio returns copies of every chunk received so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audio)
}

func (s *Session) emit(ch chan stt.Transcript, t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	ch <- t
}

func (s *Session) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.err = err
		close(s.done)
		close(s.partials)
		close(s.finals)
	})
}

var _ stt.SessionHandle = (*Session)(nil)
