// Package openai provides an STT provider backed by the OpenAI audio
// transcription API. Utterances are segmented locally and uploaded as WAV.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/formvox/pkg/audio"
	"github.com/MrWong99/formvox/pkg/provider/stt"
)

const (
	defaultModel    = oai.AudioModelWhisper1
	defaultLanguage = "ru"
)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client   oai.Client
	model    string
	language string
	seg      stt.Segmentation
}

type config struct {
	baseURL    string
	model      string
	language   string
	timeout    time.Duration
	silence    int
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the transcription model (default "whisper-1").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the default recognition language (default "ru").
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient sets the HTTP client used for uploads. It takes precedence
// over WithTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) { cfg.httpClient = c }
}

// WithSilenceThresholdMs sets the silence after speech that ends an
// utterance.
func WithSilenceThresholdMs(ms int) Option {
	return func(c *config) { c.silence = ms }
}

// New constructs an OpenAI STT provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{model: string(defaultModel), language: defaultLanguage}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
		seg:      stt.Segmentation{SilenceThresholdMs: cfg.silence},
	}, nil
}

// StartStream opens a segmenting session that uploads each utterance.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai: context already cancelled: %w", err)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	seg := p.seg
	seg.Format = audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if seg.Format.SampleRate <= 0 {
		seg.Format = audio.STTFormat
	}
	if seg.Format.Channels <= 0 {
		seg.Format.Channels = 1
	}
	prompt := strings.Join(cfg.Phrases(), ", ")

	return stt.NewBatchSession(ctx, seg, func(ctx context.Context, pcm []byte) (string, error) {
		return p.transcribe(ctx, audio.EncodeWAV(pcm, seg.Format), lang, prompt)
	}), nil
}

func (p *Provider) transcribe(ctx context.Context, wav []byte, lang, prompt string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:     oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model:    oai.AudioModel(p.model),
		Language: oai.String(lang),
	}
	if prompt != "" {
		params.Prompt = oai.String(prompt)
	}
	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

var _ stt.Provider = (*Provider)(nil)
