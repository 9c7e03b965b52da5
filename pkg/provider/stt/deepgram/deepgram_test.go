package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/formvox/pkg/provider/stt"
)

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}

func queryFor(t *testing.T, p *Provider, cfg stt.StreamConfig) url.Values {
	t.Helper()
	raw, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	return u.Query()
}

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q := queryFor(t, p, stt.StreamConfig{SampleRate: 16000, Channels: 1})

	assertEqual(t, "model", "nova-2", q.Get("model"))
	assertEqual(t, "language", "ru", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if _, ok := q["keywords"]; ok {
		t.Error("free dictation stream should carry no keywords")
	}
}

func TestBuildURL_LanguageOverriddenByCfg(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithLanguage("ru"))
	q := queryFor(t, p, stt.StreamConfig{Language: "uk"})
	assertEqual(t, "language", "uk", q.Get("language"))
}

func TestBuildURL_GrammarAsKeywords(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	q := queryFor(t, p, stt.StreamConfig{Grammar: []string{"фио", "позывной", "стоп", "[unk]"}})

	kws := q["keywords"]
	want := []string{"фио:2", "позывной:2", "стоп:2"}
	if strings.Join(kws, ",") != strings.Join(want, ",") {
		t.Errorf("keywords = %v, want %v", kws, want)
	}
}

func TestBuildURL_GrammarAsKeyterms(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithModel("nova-3"))
	q := queryFor(t, p, stt.StreamConfig{Grammar: []string{"номер жетона", "[unk]"}})

	if got := q["keyterm"]; len(got) != 1 || got[0] != "номер жетона" {
		t.Errorf("keyterm = %v, want [номер жетона]", got)
	}
	if _, ok := q["keywords"]; ok {
		t.Error("nova-3 should not use keywords")
	}
}

func TestParseDeepgramResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantOK  bool
		want    string
		isFinal bool
	}{
		{"final", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"фио иванов","confidence":0.9}]}}`, true, "фио иванов", true},
		{"partial", `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"фио"}]}}`, true, "фио", false},
		{"blank transcript", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" "}]}}`, false, "", false},
		{"metadata", `{"type":"Metadata"}`, false, "", false},
		{"no alternatives", `{"type":"Results","channel":{"alternatives":[]}}`, false, "", false},
		{"invalid json", `{not json`, false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseDeepgramResponse([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got.Text != tt.want || got.IsFinal != tt.isFinal {
				t.Errorf("got %+v, want text %q final %v", got, tt.want, tt.isFinal)
			}
		})
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestStartStream_RoundTrip(t *testing.T) {
	t.Parallel()

	authSeen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authSeen <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		msg := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"позывной"}]}}`
		_ = conn.Write(ctx, websocket.MessageText, []byte(msg))
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	if got := <-authSeen; got != "Token secret" {
		t.Errorf("Authorization = %q, want %q", got, "Token secret")
	}
	if err := h.SendAudio(make([]byte, 320)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != "позывной" || !tr.IsFinal {
			t.Errorf("final = %+v", tr)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for final")
	}

	if err := h.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := h.SendAudio([]byte{0, 0}); err == nil {
		t.Error("SendAudio after Close succeeded")
	}
}

func TestBuildURL_Endpointing(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithEndpointing(300), WithEndpoint("wss://dg.example/v1/listen?tier=enhanced"))
	q := queryFor(t, p, stt.StreamConfig{})
	assertEqual(t, "endpointing", "300", q.Get("endpointing"))
	assertEqual(t, "tier", "enhanced", q.Get("tier"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
}

func TestStartStream_KeepAliveWhileIdle(t *testing.T) {
	t.Parallel()

	got := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			typ, msg, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if typ == websocket.MessageText {
				select {
				case got <- string(msg):
				default:
				}
			}
		}
	}))
	defer srv.Close()

	p, _ := New("key",
		WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")),
		WithKeepAlive(20*time.Millisecond),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	select {
	case msg := <-got:
		if msg != `{"type":"KeepAlive"}` {
			t.Errorf("first control message = %s", msg)
		}
	case <-ctx.Done():
		t.Fatal("no keep-alive sent")
	}
}
