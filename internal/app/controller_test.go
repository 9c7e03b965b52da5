package app_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/formvox/internal/app"
	"github.com/MrWong99/formvox/internal/dictation"
	"github.com/MrWong99/formvox/internal/form"
	"github.com/MrWong99/formvox/internal/recognizer"
)

var fixedNow = time.Date(2024, 6, 1, 14, 5, 0, 0, time.UTC)

func newSpeechController(t *testing.T) (*app.Controller, *fakeAdapter) {
	t.Helper()
	ff := &fakeFactory{}
	c := app.NewController(context.Background(), app.ControllerConfig{
		ID:         "s1",
		Status:     form.StatusWounded,
		DoctorName: "Петров П.П.",
		NewAdapter: ff.New,
		Now:        func() time.Time { return fixedNow },
	})
	t.Cleanup(func() { c.Close() })
	return c, ff.last()
}

func TestController_TypedDictation(t *testing.T) {
	t.Parallel()

	c := app.NewController(context.Background(), app.ControllerConfig{
		ID:     "typed",
		Status: form.StatusWounded,
		Now:    func() time.Time { return fixedNow },
	})
	defer c.Close()

	snap := c.Snapshot()
	if snap.Draft.FilledAt != "01.06.2024 14:05" || snap.Draft.EventAt != snap.Draft.FilledAt {
		t.Errorf("draft timestamps = %q / %q", snap.Draft.FilledAt, snap.Draft.EventAt)
	}
	if snap.EngineState != "" || c.HasSpeech() {
		t.Errorf("typed-only session reports engine state %q", snap.EngineState)
	}

	snap = c.Utterance(context.Background(), "позывной")
	if snap.Session.Mode != dictation.ModeWaitValue || snap.Session.Active != dictation.CommandCallsign {
		t.Fatalf("session = %+v", snap.Session)
	}
	snap = c.Utterance(context.Background(), "сокол")
	if snap.Draft.Callsign != "сокол" || snap.LastOutcome != dictation.OutcomeFilled {
		t.Errorf("after value: callsign %q, outcome %v", snap.Draft.Callsign, snap.LastOutcome)
	}

	if err := c.Listen(); !errors.Is(err, app.ErrNoRecognizer) {
		t.Errorf("Listen err = %v, want ErrNoRecognizer", err)
	}
	if c.Feed([]byte{0, 0}) {
		t.Error("Feed accepted a frame without a recognizer")
	}
}

func TestController_ListenWaitsForReady(t *testing.T) {
	t.Parallel()

	c, fa := newSpeechController(t)
	if got := c.Snapshot().EngineState; got != "PREPARING" {
		t.Errorf("engine state = %q, want PREPARING", got)
	}
	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if starts, _, _, _ := fa.calls(); len(starts) != 0 {
		t.Fatalf("started while preparing: %v", starts)
	}

	fa.report(recognizer.StateReady, "")
	starts, _, _, _ := fa.calls()
	if !slices.Equal(starts, []recognizer.ListenMode{recognizer.ModeCommand}) {
		t.Errorf("starts = %v, want [COMMAND]", starts)
	}
	if !c.Snapshot().Listening {
		t.Error("not listening after READY")
	}
}

func TestController_ListenWaitsOutError(t *testing.T) {
	t.Parallel()

	c, fa := newSpeechController(t)
	fa.report(recognizer.StateError, "Модель не загружена")
	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if starts, _, _, _ := fa.calls(); len(starts) != 0 {
		t.Fatalf("started while in ERROR: %v", starts)
	}
	if snap := c.Snapshot(); snap.Listening || snap.EngineState != "ERROR" {
		t.Errorf("snapshot = listening %v, engine %q", snap.Listening, snap.EngineState)
	}

	fa.report(recognizer.StateReady, "")
	starts, _, _, _ := fa.calls()
	if !slices.Equal(starts, []recognizer.ListenMode{recognizer.ModeCommand}) {
		t.Errorf("starts = %v, want exactly [COMMAND]", starts)
	}
	if !c.Snapshot().Listening {
		t.Error("not listening after recovery to READY")
	}
}

func TestController_FailedStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		then func(c *app.Controller, fa *fakeAdapter)
		// wantListening after then; wantStops counts adapter Stop calls.
		wantListening bool
		wantStops     int
	}{
		{
			name:          "stream recovered",
			then:          func(_ *app.Controller, fa *fakeAdapter) { fa.report(recognizer.StateListening, "") },
			wantListening: true,
		},
		{
			name:      "stopped while recovering",
			then:      func(c *app.Controller, _ *fakeAdapter) { c.StopListening() },
			wantStops: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, fa := newSpeechController(t)
			fa.report(recognizer.StateReady, "")
			fa.setFailStarts(true)
			_ = c.Listen()
			fa.report(recognizer.StateError, "Ошибка распознавания: dial")
			if c.Snapshot().Listening {
				t.Fatal("listening after a failed Start")
			}

			tt.then(c, fa)
			if got := c.Snapshot().Listening; got != tt.wantListening {
				t.Errorf("listening = %v, want %v", got, tt.wantListening)
			}
			starts, _, stops, _ := fa.calls()
			if len(starts) != 1 || stops != tt.wantStops {
				t.Errorf("starts = %v, stops = %d, want 1 start and %d stops", starts, stops, tt.wantStops)
			}
			if tt.wantListening {
				fa.final("фио")
				if got := c.Snapshot().Session.Mode; got != dictation.ModeWaitValue {
					t.Errorf("final after recovery ignored, mode = %v", got)
				}
			}
		})
	}
}

func TestController_SpeechFollowsDialogueMode(t *testing.T) {
	t.Parallel()

	c, fa := newSpeechController(t)
	fa.report(recognizer.StateReady, "")
	if err := c.Listen(); err != nil {
		t.Fatal(err)
	}

	fa.final("диагноз")
	if snap := c.Snapshot(); snap.Session.Mode != dictation.ModeWaitValue {
		t.Fatalf("mode = %v, want WAIT_VALUE", snap.Session.Mode)
	}
	fa.final("перелом бедра")
	snap := c.Snapshot()
	if snap.Draft.Diagnosis == "" || snap.Session.Mode != dictation.ModeWaitCommand {
		t.Errorf("after value: %+v", snap)
	}

	_, switches, _, _ := fa.calls()
	want := []recognizer.ListenMode{recognizer.ModeFree, recognizer.ModeCommand}
	if !slices.Equal(switches, want) {
		t.Errorf("switches = %v, want %v", switches, want)
	}
}

func TestController_StopWordEndsListening(t *testing.T) {
	t.Parallel()

	c, fa := newSpeechController(t)
	fa.report(recognizer.StateReady, "")
	_ = c.Listen()
	stale := fa.finalFunc()

	fa.final("стоп")
	snap := c.Snapshot()
	if snap.Listening {
		t.Error("still listening after stop word")
	}
	if _, _, stops, _ := fa.calls(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}

	stale("фио")
	if got := c.Snapshot().Session.Mode; got != dictation.ModeWaitCommand {
		t.Error("utterance after stop was applied")
	}

	// A READY report after the stop must not restart listening.
	fa.report(recognizer.StateReady, "")
	if starts, _, _, _ := fa.calls(); len(starts) != 1 {
		t.Errorf("starts = %v, want exactly one", starts)
	}

	// Listening resumes on request.
	_ = c.Listen()
	fa.final("фио")
	if got := c.Snapshot().Session.Mode; got != dictation.ModeWaitValue {
		t.Errorf("mode after resume = %v, want WAIT_VALUE", got)
	}
}

func TestController_IgnoresPreviousPass(t *testing.T) {
	t.Parallel()

	c, fa := newSpeechController(t)
	fa.report(recognizer.StateReady, "")
	_ = c.Listen()
	old := fa.finalFunc()
	c.StopListening()
	_ = c.Listen()

	old("позывной")
	if got := c.Snapshot().Session.Mode; got != dictation.ModeWaitCommand {
		t.Errorf("stale final applied, mode = %v", got)
	}
	fa.final("позывной")
	if got := c.Snapshot().Session.Mode; got != dictation.ModeWaitValue {
		t.Errorf("current final ignored, mode = %v", got)
	}
}

func TestController_SwitchStatus(t *testing.T) {
	t.Parallel()

	c, fa := newSpeechController(t)
	fa.report(recognizer.StateReady, "")
	_ = c.Listen()
	fa.final("фио")

	if _, err := c.SwitchStatus("UNKNOWN"); err == nil {
		t.Error("invalid status accepted")
	}
	same, err := c.SwitchStatus(form.StatusWounded)
	if err != nil || same.Session.Mode != dictation.ModeWaitValue {
		t.Errorf("same-status switch reset the session: %+v, %v", same.Session, err)
	}

	snap, err := c.SwitchStatus(form.StatusFatality)
	if err != nil {
		t.Fatalf("SwitchStatus: %v", err)
	}
	if snap.Status != form.StatusFatality || snap.Draft.Status != form.StatusFatality {
		t.Errorf("status = %v / %v", snap.Status, snap.Draft.Status)
	}
	if snap.Session.Mode != dictation.ModeWaitCommand || snap.Draft.FullName != "" {
		t.Errorf("session not reset: %+v", snap.Session)
	}
	_, switches, _, _ := fa.calls()
	if len(switches) == 0 || switches[len(switches)-1] != recognizer.ModeCommand {
		t.Errorf("switches = %v, want trailing COMMAND", switches)
	}
}

func TestController_Subscribe(t *testing.T) {
	t.Parallel()

	c, fa := newSpeechController(t)
	updates, cancel := c.Subscribe(16)
	defer cancel()

	fa.report(recognizer.StateReady, "")
	_ = c.Listen()
	fa.partial("фи")
	fa.final("фио")

	var kinds []app.UpdateKind
	for len(kinds) < 4 {
		select {
		case u := <-updates:
			kinds = append(kinds, u.Kind)
			if u.Kind != app.UpdatePartial && u.Snapshot == nil {
				t.Errorf("%s update without snapshot", u.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("got %v, want 4 updates", kinds)
		}
	}
	want := []app.UpdateKind{app.UpdateSnapshot, app.UpdatePartial, app.UpdateFinal, app.UpdateSnapshot}
	if !slices.Equal(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}

	cancel()
	if _, ok := <-updates; ok {
		t.Error("channel open after unsubscribe")
	}
}

func TestController_ErrorStateIsReported(t *testing.T) {
	t.Parallel()

	c, fa := newSpeechController(t)
	fa.report(recognizer.StateError, "Ошибка распознавания: eof")
	snap := c.Snapshot()
	if snap.EngineState != "ERROR" || snap.EngineMessage != "Ошибка распознавания: eof" {
		t.Errorf("engine = %q %q", snap.EngineState, snap.EngineMessage)
	}
}

func TestController_FeedAndClose(t *testing.T) {
	t.Parallel()

	c, fa := newSpeechController(t)
	if !c.Feed([]byte{1, 2}) {
		t.Fatal("Feed dropped a frame")
	}
	select {
	case f := <-fa.frames:
		if !slices.Equal(f, []byte{1, 2}) {
			t.Errorf("frame = %v", f)
		}
	default:
		t.Fatal("frame not queued for the recognizer")
	}

	updates, _ := c.Subscribe(1)
	c.Close()
	c.Close()
	if _, _, _, shutdowns := fa.calls(); shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", shutdowns)
	}
	if _, ok := <-updates; ok {
		t.Error("subscription open after Close")
	}
	if snap := c.Utterance(context.Background(), "фио"); snap.Session.Mode != dictation.ModeWaitCommand {
		t.Error("utterance applied after Close")
	}
}
