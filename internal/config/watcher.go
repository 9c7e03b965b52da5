package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives the previous and new config plus what differs.
type ChangeFunc func(old, new *Config, d Diff)

// fingerprint identifies one version of the file on disk. The stat fields
// are a cheap pre-check; sum decides whether the content really changed.
type fingerprint struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

func (f fingerprint) sameStat(info os.FileInfo) bool {
	return f.modTime.Equal(info.ModTime()) && f.size == info.Size()
}

// Watcher keeps a config file's last valid version current. It polls on an
// interval and reloads on demand via [Watcher.Reload]. Edits that fail to
// parse or validate are logged and skipped.
type Watcher struct {
	path     string
	interval time.Duration
	opts     []LoadOption
	onChange ChangeFunc

	// reloadMu serialises reloads so onChange sees changes in order.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    fingerprint

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLoadOptions passes opts to every load.
func WithLoadOptions(opts ...LoadOption) WatcherOption {
	return func(w *Watcher) { w.opts = opts }
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, fp

	go w.run()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload reads the file now, bypassing the stat pre-check. It returns the
// load error for an invalid file, in which case the current config stays.
func (w *Watcher) Reload() error {
	return w.reload(true)
}

// Stop ends polling and waits for an in-flight reload to finish. It is
// safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) run() {
	defer close(w.stopped)
	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-tick.C:
			if err := w.reload(false); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

var errUnchanged = errors.New("unchanged")

func (w *Watcher) reload(force bool) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return err
		}
		w.mu.Lock()
		same := w.seen.sameStat(info)
		w.mu.Unlock()
		if same {
			return nil
		}
	}

	cfg, fp, err := w.read()
	if err != nil {
		return err
	}
	old, err := w.swap(cfg, fp)
	if errors.Is(err, errUnchanged) {
		return nil
	}

	d := Compare(old, cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"hot_reload", d.Any(),
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return nil
}

// swap installs cfg unless its content matches the current one, in which
// case only the stat part of the fingerprint is refreshed.
func (w *Watcher) swap(cfg *Config, fp fingerprint) (*Config, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if fp.sum == w.seen.sum {
		w.seen = fp
		return nil, errUnchanged
	}
	old := w.current
	w.current, w.seen = cfg, fp
	return old, nil
}

func (w *Watcher) read() (*Config, fingerprint, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fingerprint{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(buf.Bytes()), w.opts...)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(buf.Bytes())}, nil
}
