// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/formvox/pkg/audio"
	"github.com/MrWong99/formvox/pkg/provider/stt"
)

var (
	_ stt.Provider = (*NativeProvider)(nil)
	_ stt.Preparer = (*NativeProvider)(nil)
)

// ErrModelNotLoaded is returned by StartStream before Prepare succeeded.
var ErrModelNotLoaded = errors.New("whisper: model not loaded")

// NativeProvider implements stt.Provider with an in-process whisper.cpp
// model. The model is loaded by Prepare and shared by all sessions; each
// utterance gets its own decoding context.
type NativeProvider struct {
	modelPath  string
	language   string
	sampleRate int
	seg        stt.Segmentation

	mu    sync.Mutex
	model whisperlib.Model
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default recognition language. Defaults to "ru".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate sets the default audio sample rate in Hz.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.sampleRate = rate }
}

// WithNativeSilenceThresholdMs sets the silence after speech that ends an
// utterance.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.seg.SilenceThresholdMs = ms }
}

// NewNative returns a NativeProvider for the model file at modelPath. The
// model is not loaded until Prepare.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &NativeProvider{
		modelPath:  modelPath,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Prepare loads the model. Calling it again after success is a no-op.
func (p *NativeProvider) Prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return nil
	}
	model, err := whisperlib.New(p.modelPath)
	if err != nil {
		return fmt.Errorf("whisper: load model %q: %w", p.modelPath, err)
	}
	p.model = model
	slog.Info("whisper: model loaded", "path", p.modelPath)
	return nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// StartStream opens a new transcription session on the loaded model.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		return nil, ErrModelNotLoaded
	}

	lang := firstNonEmpty(cfg.Language, p.language)
	prompt := Prompt(cfg)
	seg := p.seg
	seg.Format = streamFormat(cfg, p.sampleRate)

	return stt.NewBatchSession(ctx, seg, func(_ context.Context, pcm []byte) (string, error) {
		return infer(model, lang, prompt, audio.Float32Mono(pcm, seg.Format.Channels))
	}), nil
}

// infer decodes samples with a fresh context. Contexts are not safe for
// concurrent use; the model is.
func infer(model whisperlib.Model, lang, prompt string, samples []float32) (string, error) {
	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
