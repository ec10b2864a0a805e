package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultPollInterval is how often a [Watcher] checks the config file.
const DefaultPollInterval = 5 * time.Second

// Watcher keeps the config file and the running process in step. It polls the
// file's modification time and can be asked to re-read it on demand through
// [Watcher.Reload] (main wires this to SIGHUP). A reload that yields a
// different valid config calls the change callback. An invalid file is
// reported and the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reloadMu serialises reloads so callbacks observe changes in order.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	digest  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. A negative interval disables
// polling, leaving [Watcher.Reload] as the only way to pick up edits.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d != 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it. onChange may be
// nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.digest, w.mtime = snap.cfg, snap.digest, snap.mtime

	if w.interval > 0 {
		w.wg.Add(1)
		go w.poll()
	}
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file regardless of its modification time. It reports
// whether a different config was installed. On error the current config is
// kept.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	snap, err := readSnapshot(w.path)
	if err != nil {
		return false, fmt.Errorf("config: reload %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.mtime = snap.mtime
	if snap.digest == w.digest {
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.digest = snap.cfg, snap.digest
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
	return true, nil
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) poll() {
	defer w.wg.Done()
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-t.C:
		}
		if !w.modified() {
			continue
		}
		if _, err := w.Reload(); err != nil {
			slog.Warn("config watcher: keeping previous config", "err", err)
		}
	}
}

func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.mtime)
}

type snapshot struct {
	cfg    *Config
	digest [sha256.Size]byte
	mtime  time.Time
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, digest: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
