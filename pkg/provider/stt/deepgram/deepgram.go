// Package deepgram streams PCM to the Deepgram live transcription API over
// a WebSocket and implements [stt.Provider].
//
// Deepgram has no hard grammar mode. The phrases of a constrained
// [stt.StreamConfig] are sent as keyterm prompts on nova-3 models and as
// keyword boosts on older ones.
package deepgram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/formvox/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	defaultLanguage   = "ru"
	defaultSampleRate = 16000
	defaultKeepAlive  = 5 * time.Second

	keywordBoost = 2.0
	closeTimeout = 2 * time.Second
)

var (
	msgKeepAlive   = []byte(`{"type":"KeepAlive"}`)
	msgCloseStream = []byte(`{"type":"CloseStream"}`)
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Deepgram model, e.g. "nova-3".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when a stream does not name one.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the sample rate used when a stream does not name one.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpoint overrides the live transcription URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithEndpointing sets how many milliseconds of silence end an utterance.
// Zero keeps the Deepgram default.
func WithEndpointing(ms int) Option {
	return func(p *Provider) { p.endpointingMS = ms }
}

// WithKeepAlive sets how long the stream may go without audio before a
// KeepAlive message is sent. Deepgram drops streams idle for about ten
// seconds, which a medic pausing between fields easily exceeds. Zero or a
// negative value disables keep-alives.
func WithKeepAlive(d time.Duration) Option {
	return func(p *Provider) { p.keepAlive = d }
}

// Provider opens Deepgram live transcription streams.
type Provider struct {
	apiKey        string
	endpoint      string
	model         string
	language      string
	sampleRate    int
	endpointingMS int
	keepAlive     time.Duration
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		keepAlive:  defaultKeepAlive,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram. The stream lives until Close even when ctx
// is cancelled earlier; ctx only bounds the dial.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	target, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	s := &stream{
		conn:      conn,
		keepAlive: p.keepAlive,
		ctx:       gctx,
		cancel:    cancel,
		group:     g,
		audio:     make(chan []byte, 256),
		partials:  make(chan stt.Transcript, 64),
		finals:    make(chan stt.Transcript, 64),
		closing:   make(chan struct{}),
	}
	g.Go(func() error { return s.pumpAudio(gctx) })
	g.Go(func() error { return s.pumpResults(gctx) })
	return s, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cmp.Or(cfg.Language, p.language)
	rate := cmp.Or(cfg.SampleRate, p.sampleRate)

	q := url.Values{
		"model":           {p.model},
		"language":        {lang},
		"encoding":        {"linear16"},
		"sample_rate":     {strconv.Itoa(rate)},
		"interim_results": {"true"},
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if p.endpointingMS > 0 {
		q.Set("endpointing", strconv.Itoa(p.endpointingMS))
	}

	phrases := cfg.Phrases()
	if strings.HasPrefix(p.model, "nova-3") {
		q["keyterm"] = phrases
	} else {
		for _, phrase := range phrases {
			q.Add("keywords", phrase+":"+strconv.FormatFloat(keywordBoost, 'g', -1, 64))
		}
	}
	for k, v := range u.Query() {
		if _, set := q[k]; !set {
			q[k] = v
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// liveResult is the subset of a Deepgram "Results" message formvox reads.
type liveResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse extracts the best alternative of a Results message.
// ok is false for anything without speech.
func parseDeepgramResponse(data []byte) (t stt.Transcript, ok bool) {
	var res liveResult
	if json.Unmarshal(data, &res) != nil || res.Type != "Results" || len(res.Channel.Alternatives) == 0 {
		return t, false
	}
	best := res.Channel.Alternatives[0]
	if strings.TrimSpace(best.Transcript) == "" {
		return t, false
	}
	return stt.Transcript{Text: best.Transcript, IsFinal: res.IsFinal, Confidence: best.Confidence}, true
}

// stream is one live connection. Audio goes out through pumpAudio while
// pumpResults fans transcripts into partials and finals.
type stream struct {
	conn      *websocket.Conn
	keepAlive time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	closing   chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func (s *stream) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.closing:
		return stt.ErrSessionClosed
	case <-s.ctx.Done():
		if err := s.Err(); err != nil {
			return err
		}
		return stt.ErrSessionClosed
	}
}

func (s *stream) Partials() <-chan stt.Transcript { return s.partials }
func (s *stream) Finals() <-chan stt.Transcript   { return s.finals }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends CloseStream so Deepgram flushes, then tears the connection
// down. Results still in flight after the flush are dropped.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		_ = s.conn.Write(ctx, websocket.MessageText, msgCloseStream)
		cancel()
		s.cancel()
		_ = s.group.Wait()
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

// fail records the first error seen before Close and returns it.
func (s *stream) fail(err error) error {
	select {
	case <-s.closing:
		return nil
	default:
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	return err
}

func (s *stream) pumpAudio(ctx context.Context) error {
	var tick <-chan time.Time
	if s.keepAlive > 0 {
		t := time.NewTicker(s.keepAlive)
		defer t.Stop()
		tick = t.C
	}
	lastWrite := time.Now()

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return s.fail(fmt.Errorf("deepgram: write audio: %w", err))
			}
			lastWrite = time.Now()
		case <-tick:
			if time.Since(lastWrite) < s.keepAlive {
				continue
			}
			if err := s.conn.Write(ctx, websocket.MessageText, msgKeepAlive); err != nil {
				return s.fail(fmt.Errorf("deepgram: keep-alive: %w", err))
			}
			lastWrite = time.Now()
		case <-s.closing:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *stream) pumpResults(ctx context.Context) error {
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return s.fail(fmt.Errorf("deepgram: read: %w", err))
		}
		tr, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		out := s.partials
		if tr.IsFinal {
			out = s.finals
		}
		select {
		case out <- tr:
		case <-s.closing:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

var _ stt.Provider = (*Provider)(nil)
