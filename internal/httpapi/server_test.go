package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/formvox/internal/app"
	"github.com/MrWong99/formvox/internal/httpapi"
	"github.com/MrWong99/formvox/internal/recognizer"
	"github.com/MrWong99/formvox/internal/store/memory"
	sttmock "github.com/MrWong99/formvox/pkg/provider/stt/mock"
)

type testEnv struct {
	srv      *httptest.Server
	sessions *app.SessionManager
	provider *sttmock.Provider
}

func newTestEnv(t *testing.T, speech bool, maxSessions int) *testEnv {
	t.Helper()
	env := &testEnv{provider: &sttmock.Provider{}}
	records := memory.New()
	cfg := app.SessionManagerConfig{MaxSessions: maxSessions, Store: records}
	if speech {
		cfg.NewAdapter = func(frames <-chan []byte) recognizer.Adapter {
			return recognizer.New(env.provider, frames, recognizer.WithSharedProvider(), recognizer.WithRetryInterval(5*time.Millisecond))
		}
	}
	env.sessions = app.NewSessionManager(cfg)
	api := httpapi.New(httpapi.Config{
		Sessions: env.sessions,
		Records:  records,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	})
	env.srv = httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		env.srv.Close()
		env.sessions.Shutdown(context.Background())
	})
	return env
}

// do sends a JSON request and decodes the JSON response into out.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp
}

type sessionJSON struct {
	Mode          string `json:"mode"`
	ActiveCommand string `json:"active_command"`
	StatusText    string `json:"status_text"`
}

type draftJSON struct {
	Status    string `json:"status"`
	FullName  string `json:"fullName"`
	Callsign  string `json:"callsign"`
	Diagnosis string `json:"diagnosis"`
}

type snapshotJSON struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	DoctorName  string      `json:"doctor_name"`
	Draft       draftJSON   `json:"draft"`
	Session     sessionJSON `json:"session"`
	LastOutcome string      `json:"last_outcome"`
	EngineState string      `json:"engine_state"`
	Listening   bool        `json:"listening"`
}

func TestGrammar(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false, 0)
	var grammar []string
	resp := env.do(t, http.MethodGet, "/v1/grammar", nil, &grammar)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{"фио", "позывной", "стоп"} {
		if !slices.Contains(grammar, want) {
			t.Errorf("grammar misses %q", want)
		}
	}
}

func TestInterpret(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false, 0)

	var out struct {
		Draft   draftJSON   `json:"draft"`
		Session sessionJSON `json:"session"`
		Outcome string      `json:"outcome"`
	}
	resp := env.do(t, http.MethodPost, "/v1/interpret",
		map[string]any{"status": "WOUNDED", "utterance": "фио иванов иван"}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out.Draft.FullName != "Иванов Иван" || out.Outcome != "filled" || out.Session.Mode != "WAIT_COMMAND" {
		t.Errorf("response = %+v", out)
	}

	resp = env.do(t, http.MethodPost, "/v1/interpret", map[string]any{
		"status":    "WOUNDED",
		"utterance": "сокол",
		"draft":     map[string]any{"fullName": "Иванов Иван"},
		"session":   map[string]any{"mode": "WAIT_VALUE", "active_command": "CALLSIGN"},
	}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if out.Draft.Callsign != "сокол" || out.Draft.FullName != "Иванов Иван" || out.Draft.Status != "WOUNDED" {
		t.Errorf("chained draft = %+v", out.Draft)
	}

	tests := []struct {
		name string
		body any
	}{
		{"invalid status", map[string]any{"status": "ALIVE", "utterance": "фио"}},
		{"unknown field", map[string]any{"status": "WOUNDED", "text": "фио"}},
		{"bad command", map[string]any{"status": "WOUNDED", "session": map[string]any{"active_command": "NOPE"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e struct{ Error string }
			if resp := env.do(t, http.MethodPost, "/v1/interpret", tt.body, &e); resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if e.Error == "" {
				t.Error("error body missing")
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false, 0)

	var snap snapshotJSON
	resp := env.do(t, http.MethodPost, "/v1/sessions", map[string]any{"status": "WOUNDED", "doctor_name": "Петров П.П."}, &snap)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/v1/sessions/"+snap.ID {
		t.Errorf("Location = %q", resp.Header.Get("Location"))
	}
	base := "/v1/sessions/" + snap.ID

	env.do(t, http.MethodPost, base+"/utterances", map[string]any{"text": "диагноз"}, &snap)
	if snap.Session.Mode != "WAIT_VALUE" || snap.Session.ActiveCommand != "DIAGNOSIS" {
		t.Fatalf("after command: %+v", snap.Session)
	}
	env.do(t, http.MethodPost, base+"/utterances", map[string]any{"text": "перелом"}, &snap)
	if snap.Draft.Diagnosis != "перелом" || snap.LastOutcome != "filled" {
		t.Errorf("after value: %+v", snap)
	}

	env.do(t, http.MethodPost, base+"/status", map[string]any{"status": "FATALITY"}, &snap)
	if snap.Status != "FATALITY" || snap.Draft.Diagnosis != "" {
		t.Errorf("status switch did not reset: %+v", snap)
	}
	if resp := env.do(t, http.MethodPost, base+"/status", map[string]any{"status": "X"}, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status switch = %d", resp.StatusCode)
	}
	env.do(t, http.MethodPost, base+"/utterances", map[string]any{"text": "позывной сокол"}, &snap)

	var list []snapshotJSON
	env.do(t, http.MethodGet, "/v1/sessions", nil, &list)
	if len(list) != 1 || list[0].Draft.Callsign != "сокол" {
		t.Errorf("list = %+v", list)
	}

	if resp := env.do(t, http.MethodDelete, base+"?save=maybe", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad save flag = %d", resp.StatusCode)
	}

	var stopped struct {
		Session snapshotJSON `json:"session"`
		Record  *struct {
			ID   string `json:"id"`
			Form struct {
				DoctorName string `json:"doctor_name"`
				Callsign   string `json:"callsign"`
				EventLabel string `json:"event_label"`
			} `json:"form"`
		} `json:"record"`
	}
	if resp := env.do(t, http.MethodDelete, base+"?save=true", nil, &stopped); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	if stopped.Record == nil {
		t.Fatal("no record in stop response")
	}
	if f := stopped.Record.Form; f.DoctorName != "Петров П.П." || f.Callsign != "сокол" || f.EventLabel != "Время смерти" {
		t.Errorf("record form = %+v", f)
	}

	if resp := env.do(t, http.MethodGet, base, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get stopped session = %d", resp.StatusCode)
	}

	var records []struct {
		ID string `json:"id"`
	}
	env.do(t, http.MethodGet, "/v1/records", nil, &records)
	if len(records) != 1 || records[0].ID != stopped.Record.ID {
		t.Errorf("records = %+v", records)
	}
	if resp := env.do(t, http.MethodGet, "/v1/records/"+stopped.Record.ID, nil, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("get record = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/v1/records/missing", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get missing record = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/v1/records?limit=-1", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative limit = %d", resp.StatusCode)
	}
}

func TestStartSession_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false, 1)
	if resp := env.do(t, http.MethodPost, "/v1/sessions", map[string]any{"status": "ALIVE"}, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status = %d", resp.StatusCode)
	}
	var snap snapshotJSON
	if resp := env.do(t, http.MethodPost, "/v1/sessions", nil, &snap); resp.StatusCode != http.StatusCreated {
		t.Fatalf("default start = %d", resp.StatusCode)
	}
	if snap.Status != "WOUNDED" {
		t.Errorf("default status = %q", snap.Status)
	}
	if resp := env.do(t, http.MethodPost, "/v1/sessions", nil, nil); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("over limit = %d, want 429", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/v1/sessions/"+snap.ID+"/listen", map[string]any{"on": true}, nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("listen without recognizer = %d, want 409", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/v1/sessions/nope/utterances", map[string]any{"text": "фио"}, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session = %d", resp.StatusCode)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false, 0)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := env.do(t, http.MethodGet, path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s = %d", path, resp.StatusCode)
		}
	}
	resp := env.do(t, http.MethodGet, "/v1/grammar", nil, nil)
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
}
