package app_test

import (
	"context"
	"sync"

	"github.com/MrWong99/formvox/internal/recognizer"
)

// fakeAdapter records calls and lets tests fire callbacks from the test
// goroutine, never from inside an adapter method.
type fakeAdapter struct {
	frames <-chan []byte

	mu        sync.Mutex
	onState   recognizer.StateFunc
	onPartial recognizer.TextFunc
	onFinal   recognizer.TextFunc
	state     recognizer.State
	starts    []recognizer.ListenMode
	switches  []recognizer.ListenMode
	stops     int
	shutdowns int

	// failStarts makes Start report failure, as an engine whose stream
	// could not be opened does.
	failStarts bool
}

func (f *fakeAdapter) Prepare(_ context.Context, onState recognizer.StateFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = onState
	f.state = recognizer.StatePreparing
}

func (f *fakeAdapter) Start(_ context.Context, mode recognizer.ListenMode, onPartial, onFinal recognizer.TextFunc) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, mode)
	f.onPartial, f.onFinal = onPartial, onFinal
	return !f.failStarts
}

func (f *fakeAdapter) SwitchMode(mode recognizer.ListenMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switches = append(f.switches, mode)
}

func (f *fakeAdapter) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeAdapter) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
}

func (f *fakeAdapter) State() recognizer.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAdapter) setFailStarts(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStarts = fail
}

func (f *fakeAdapter) report(s recognizer.State, msg string) {
	f.mu.Lock()
	f.state = s
	cb := f.onState
	f.mu.Unlock()
	cb(s, msg)
}

func (f *fakeAdapter) final(text string) {
	f.mu.Lock()
	cb := f.onFinal
	f.mu.Unlock()
	cb(text)
}

func (f *fakeAdapter) partial(text string) {
	f.mu.Lock()
	cb := f.onPartial
	f.mu.Unlock()
	cb(text)
}

// finalFunc returns the final callback of the current pass.
func (f *fakeAdapter) finalFunc() recognizer.TextFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onFinal
}

func (f *fakeAdapter) calls() (starts, switches []recognizer.ListenMode, stops, shutdowns int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recognizer.ListenMode(nil), f.starts...),
		append([]recognizer.ListenMode(nil), f.switches...),
		f.stops, f.shutdowns
}

// fakeFactory hands out fakeAdapters and remembers them.
type fakeFactory struct {
	mu       sync.Mutex
	adapters []*fakeAdapter
}

func (ff *fakeFactory) New(frames <-chan []byte) recognizer.Adapter {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	a := &fakeAdapter{frames: frames}
	ff.adapters = append(ff.adapters, a)
	return a
}

func (ff *fakeFactory) last() *fakeAdapter {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.adapters[len(ff.adapters)-1]
}
