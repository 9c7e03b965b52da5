package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/formvox/pkg/audio"
)

// Defaults for energy-based utterance segmentation.
const (
	DefaultRMSThreshold        = 300.0
	DefaultSilenceThresholdMs  = 500
	DefaultMaxBufferDurationMs = 10_000
	DefaultMaxConsecutiveFails = 3
)

// TranscribeFunc transcribes one complete utterance of PCM audio.
type TranscribeFunc func(ctx context.Context, pcm []byte) (string, error)

// Segmentation configures how a batch session cuts the audio stream into
// utterances. Zero fields take the package defaults.
type Segmentation struct {
	Format              audio.Format
	RMSThreshold        float64
	SilenceThresholdMs  int
	MaxBufferDurationMs int

	// MaxConsecutiveFails ends the session with the last transcription
	// error after this many failures in a row.
	MaxConsecutiveFails int
}

func (s Segmentation) withDefaults() Segmentation {
	if s.Format.SampleRate <= 0 {
		s.Format.SampleRate = audio.STTFormat.SampleRate
	}
	if s.Format.Channels <= 0 {
		s.Format.Channels = 1
	}
	if s.RMSThreshold <= 0 {
		s.RMSThreshold = DefaultRMSThreshold
	}
	if s.SilenceThresholdMs <= 0 {
		s.SilenceThresholdMs = DefaultSilenceThresholdMs
	}
	if s.MaxBufferDurationMs <= 0 {
		s.MaxBufferDurationMs = DefaultMaxBufferDurationMs
	}
	if s.MaxConsecutiveFails <= 0 {
		s.MaxConsecutiveFails = DefaultMaxConsecutiveFails
	}
	return s
}

// NewBatchSession returns a SessionHandle for batch (non-streaming)
// backends. Incoming audio is buffered; once speech is followed by enough
// silence, or the buffer reaches its cap, the utterance is passed to fn and
// the text is emitted as a partial and a final.
func NewBatchSession(ctx context.Context, seg Segmentation, fn TranscribeFunc) SessionHandle {
	s := &batchSession{
		seg:      seg.withDefaults(),
		fn:       fn,
		audioCh:  make(chan []byte, 256),
		partials: make(chan Transcript, 64),
		finals:   make(chan Transcript, 64),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s
}

type batchSession struct {
	seg Segmentation
	fn  TranscribeFunc

	audioCh  chan []byte
	partials chan Transcript
	finals   chan Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *batchSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *batchSession) Partials() <-chan Transcript { return s.partials }
func (s *batchSession) Finals() <-chan Transcript   { return s.finals }

func (s *batchSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *batchSession) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

func (s *batchSession) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// processLoop owns all buffering state.
func (s *batchSession) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
		fails     int
	)
	maxBytes := s.seg.MaxBufferDurationMs * s.seg.Format.BytesPerMs()

	flush := func(fctx context.Context) {
		pcm, speech := buffer, hadSpeech
		buffer, hadSpeech, silenceMs = nil, false, 0
		if len(pcm) == 0 || !speech {
			return
		}
		text, err := s.fn(fctx, pcm)
		if err != nil {
			fails++
			slog.Warn("stt: batch transcription failed", "err", err, "consecutive", fails)
			if fails >= s.seg.MaxConsecutiveFails {
				s.fail(fmt.Errorf("stt: %d consecutive transcription failures: %w", fails, err))
			}
			return
		}
		fails = 0
		if text == "" {
			return
		}
		select {
		case s.partials <- Transcript{Text: text}:
		default:
		}
		final := Transcript{Text: text, IsFinal: true}
		select {
		case s.finals <- final:
			return
		default:
		}
		select {
		case s.finals <- final:
		case <-fctx.Done():
		case <-s.done:
		}
	}

	// Final flush runs on its own deadline; ctx may already be cancelled.
	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			if s.Err() == nil {
				finalFlush()
			}
			return
		case chunk := <-s.audioCh:
			if audio.RMS(chunk) < s.seg.RMSThreshold {
				if !hadSpeech {
					continue
				}
				silenceMs += audio.DurationMs(chunk, s.seg.Format)
				buffer = append(buffer, chunk...)
				if silenceMs >= s.seg.SilenceThresholdMs {
					flush(ctx)
				}
				continue
			}
			hadSpeech = true
			silenceMs = 0
			buffer = append(buffer, chunk...)
			if maxBytes > 0 && len(buffer) >= maxBytes {
				flush(ctx)
			}
		}
	}
}
