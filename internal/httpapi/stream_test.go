package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	sttmock "github.com/MrWong99/formvox/pkg/provider/stt/mock"
)

type updateJSON struct {
	Type     string        `json:"type"`
	Text     string        `json:"text"`
	Error    string        `json:"error"`
	Snapshot *snapshotJSON `json:"snapshot"`
}

func dialStream(t *testing.T, env *testEnv, id, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/sessions/" + id + "/stream" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) updateJSON {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var u updateJSON
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return u
}

// readUntil reads updates until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(updateJSON) bool) updateJSON {
	t.Helper()
	for range 50 {
		if u := readUpdate(t, conn); match(u) {
			return u
		}
	}
	t.Fatal("expected update never arrived")
	return updateJSON{}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, _ := json.Marshal(v)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func startSession(t *testing.T, env *testEnv) string {
	t.Helper()
	var snap snapshotJSON
	if resp := env.do(t, http.MethodPost, "/v1/sessions", map[string]any{"status": "WOUNDED"}, &snap); resp.StatusCode != http.StatusCreated {
		t.Fatalf("start = %d", resp.StatusCode)
	}
	return snap.ID
}

func TestStream_SpeechDictation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true, 0)
	opened := env.provider.Opened()
	id := startSession(t, env)
	conn := dialStream(t, env, id, "")

	if u := readUpdate(t, conn); u.Type != "snapshot" || u.Snapshot == nil || u.Snapshot.ID != id {
		t.Fatalf("first update = %+v", u)
	}

	var sess *sttmock.Session
	select {
	case sess = <-opened:
	case <-time.After(3 * time.Second):
		t.Fatal("recognizer stream never opened")
	}
	readUntil(t, conn, func(u updateJSON) bool { return u.Snapshot != nil && u.Snapshot.EngineState == "LISTENING" })

	frame := make([]byte, 320)
	if err := conn.Write(context.Background(), websocket.MessageBinary, frame); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(sess.Audio()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("audio never reached the recognizer")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sess.EmitPartial("фи")
	if u := readUntil(t, conn, func(u updateJSON) bool { return u.Type == "partial" }); u.Text != "фи" {
		t.Errorf("partial = %q", u.Text)
	}
	sess.EmitFinal("фио")
	u := readUntil(t, conn, func(u updateJSON) bool {
		return u.Type == "snapshot" && u.Snapshot.Session.Mode == "WAIT_VALUE"
	})
	if u.Snapshot.Session.ActiveCommand != "FULL_NAME" {
		t.Errorf("active command = %q", u.Snapshot.Session.ActiveCommand)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")
	deadline = time.Now().Add(3 * time.Second)
	for {
		var snap snapshotJSON
		env.do(t, http.MethodGet, "/v1/sessions/"+id, nil, &snap)
		if !snap.Listening {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("still listening after the socket closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStream_TypedControl(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false, 0)
	id := startSession(t, env)
	conn := dialStream(t, env, id, "?codec=pcm")
	readUpdate(t, conn)

	sendJSON(t, conn, map[string]string{"type": "utterance", "text": "позывной"})
	if u := readUpdate(t, conn); u.Snapshot == nil || u.Snapshot.Session.Mode != "WAIT_VALUE" {
		t.Errorf("utterance update = %+v", u)
	}

	sendJSON(t, conn, map[string]string{"type": "bogus"})
	if u := readUpdate(t, conn); u.Type != "error" || u.Error == "" {
		t.Errorf("bogus reply = %+v", u)
	}
	sendJSON(t, conn, map[string]string{"type": "listen"})
	if u := readUpdate(t, conn); u.Type != "error" {
		t.Errorf("listen without recognizer reply = %+v", u)
	}

	env.do(t, http.MethodDelete, "/v1/sessions/"+id, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("close err = %v, want normal closure", err)
	}
}

func TestStream_Rejects(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false, 0)
	id := startSession(t, env)
	if resp := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/stream?codec=mp3", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad codec = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/stream?codec=opus&channels=6", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad channels = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/v1/sessions/nope/stream", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session = %d", resp.StatusCode)
	}
}
