package openai

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/formvox/pkg/provider/stt"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestStartStream_UploadsUtteranceWithPrompt(t *testing.T) {
	t.Parallel()

	type upload struct {
		model, language, prompt string
		fileSize                int64
	}
	uploads := make(chan upload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		uploads <- upload{
			model:    r.FormValue("model"),
			language: r.FormValue("language"),
			prompt:   r.FormValue("prompt"),
			fileSize: hdr.Size,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "диагноз"})
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL), WithSilenceThresholdMs(100))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := p.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Grammar:    []string{"диагноз", "стоп", "[unk]"},
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	tone := make([]byte, 1600*2)
	for i := range 1600 {
		v := int16(8000 * math.Sin(2*math.Pi*300*float64(i)/16000))
		binary.LittleEndian.PutUint16(tone[i*2:], uint16(v))
	}
	_ = h.SendAudio(tone)
	_ = h.SendAudio(make([]byte, 1600*2))

	select {
	case tr := <-h.Finals():
		if tr.Text != "диагноз" {
			t.Errorf("final = %q, want %q", tr.Text, "диагноз")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final")
	}

	u := <-uploads
	if u.model != "whisper-1" || u.language != "ru" {
		t.Errorf("upload model/language = %q/%q", u.model, u.language)
	}
	if u.prompt != "диагноз, стоп" {
		t.Errorf("prompt = %q", u.prompt)
	}
	if u.fileSize != int64(44+len(tone)*2) {
		t.Errorf("file size = %d, want %d", u.fileSize, 44+len(tone)*2)
	}
}
