package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/formvox/internal/app"
	"github.com/MrWong99/formvox/internal/observe"
	"github.com/MrWong99/formvox/pkg/audio"
	"github.com/MrWong99/formvox/pkg/audio/opus"
)

const (
	// streamReadLimit bounds one inbound WebSocket message.
	streamReadLimit = 1 << 20

	// streamUpdateBuffer is the per-socket update backlog.
	streamUpdateBuffer = 64
)

var errSessionEnded = errors.New("session ended")

// controlMessage is a text frame sent by the client.
//
//	{"type":"listen"}                    microphone on
//	{"type":"stop"}                      microphone off
//	{"type":"utterance","text":"фио"}    typed utterance
type controlMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// streamError is pushed to the client for protocol problems.
type streamError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// frameDecoder turns one binary message into 16 kHz mono PCM.
type frameDecoder func([]byte) ([]byte, error)

func newFrameDecoder(r *http.Request) (frameDecoder, error) {
	q := r.URL.Query()
	switch codec := q.Get("codec"); codec {
	case "", "pcm":
		return func(b []byte) ([]byte, error) { return b, nil }, nil
	case "opus":
		channels := 1
		if v := q.Get("channels"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, errors.New("channels must be 1 or 2")
			}
			channels = n
		}
		dec, err := opus.NewDecoder(channels, audio.STTFormat.SampleRate)
		if err != nil {
			return nil, err
		}
		return dec.Decode, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
}

// handleStream upgrades to a WebSocket. Binary messages carry audio, text
// messages carry [controlMessage]s, and every session [app.Update] is
// pushed back as JSON. Listening starts on connect and stops when the
// socket closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	decode, err := newFrameDecoder(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(streamReadLimit)

	log := observe.Logger(observe.WithSessionID(r.Context(), c.ID()))
	updates, unsubscribe := c.Subscribe(streamUpdateBuffer)
	defer unsubscribe()

	if err := c.Listen(); err != nil && !errors.Is(err, app.ErrNoRecognizer) {
		log.Warn("stream: listen failed", "err", err)
	}
	defer c.StopListening()

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		snap := c.Snapshot()
		if err := writeMessage(ctx, conn, app.Update{Kind: app.UpdateSnapshot, Snapshot: &snap}); err != nil {
			return err
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case u, ok := <-updates:
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "session ended")
					return errSessionEnded
				}
				if err := writeMessage(ctx, conn, u); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		dropped := 0
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				if dropped > 0 {
					log.Debug("stream: frames dropped", "count", dropped)
				}
				return err
			}
			if typ == websocket.MessageBinary {
				pcm, err := decode(data)
				if err != nil {
					log.Debug("stream: bad audio frame", "err", err)
					continue
				}
				if !c.Feed(pcm) {
					dropped++
				}
				continue
			}
			if err := s.handleControl(ctx, conn, c, data); err != nil {
				return err
			}
		}
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errSessionEnded),
		websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
	default:
		log.Debug("stream closed", "err", err)
	}
}

func (s *Server) handleControl(ctx context.Context, conn *websocket.Conn, c *app.Controller, data []byte) error {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return writeMessage(ctx, conn, streamError{Type: "error", Error: "invalid control message"})
	}
	switch msg.Type {
	case "listen":
		if err := c.Listen(); err != nil {
			return writeMessage(ctx, conn, streamError{Type: "error", Error: err.Error()})
		}
	case "stop":
		c.StopListening()
	case "utterance":
		c.Utterance(ctx, msg.Text)
	default:
		return writeMessage(ctx, conn, streamError{Type: "error", Error: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
	return nil
}

func writeMessage(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
