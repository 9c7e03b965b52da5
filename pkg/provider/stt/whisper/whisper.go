// Package whisper provides whisper.cpp-backed STT providers.
//
// Provider talks to a running whisper-server (POST /inference). NativeProvider
// runs the model in-process through the CGO bindings. whisper.cpp is a batch
// engine, so both cut the incoming audio into utterances with
// [stt.NewBatchSession] and transcribe each one as a whole.
//
// A constrained StreamConfig is passed to whisper as the decoding prompt,
// which biases recognition toward the command phrases.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/formvox/pkg/audio"
	"github.com/MrWong99/formvox/pkg/provider/stt"
)

const (
	defaultLanguage   = "ru"
	defaultSampleRate = 16000
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server.
// When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language. Defaults to "ru".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the default audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets the silence after speech that ends an
// utterance. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.seg.SilenceThresholdMs = ms }
}

// WithMaxBufferDurationMs caps the length of one utterance. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.seg.MaxBufferDurationMs = ms }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	sampleRate int
	seg        stt.Segmentation
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new transcription session. No connection is made
// until the first utterance is complete.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	req := inferRequest{
		language: firstNonEmpty(cfg.Language, p.language),
		model:    p.model,
		prompt:   Prompt(cfg),
		format:   streamFormat(cfg, p.sampleRate),
	}
	seg := p.seg
	seg.Format = req.format
	return stt.NewBatchSession(ctx, seg, func(ctx context.Context, pcm []byte) (string, error) {
		return p.infer(ctx, req, pcm)
	}), nil
}

type inferRequest struct {
	language string
	model    string
	prompt   string
	format   audio.Format
}

// infer POSTs one utterance to /inference as multipart/form-data.
func (p *Provider) infer(ctx context.Context, r inferRequest, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, r.format)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := [][2]string{
		{"language", r.language},
		{"model", r.model},
		{"prompt", r.prompt},
		{"response_format", "json"},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// Prompt renders the grammar of cfg as a whisper decoding prompt. Free
// dictation streams get no prompt.
func Prompt(cfg stt.StreamConfig) string {
	return strings.Join(cfg.Phrases(), ", ")
}

func streamFormat(cfg stt.StreamConfig, defaultRate int) audio.Format {
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = defaultRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
