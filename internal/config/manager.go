package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Editors often write a file in several steps; reloads wait for writes to settle.
const settleDelay = 500 * time.Millisecond

// Status describes the file behind the active configuration.
type Status struct {
	Path        string    `json:"path"`
	Checksum    string    `json:"checksum"`
	LoadedAt    time.Time `json:"loaded_at"`
	ReloadCount int64     `json:"reload_count"`
	LastError   string    `json:"last_error,omitempty"`
}

// Manager owns the active Config and swaps it atomically on reload, so
// readers never take a lock.
type Manager struct {
	path   string
	logger *slog.Logger // nil follows slog.Default

	current atomic.Pointer[Config]
	status  atomic.Pointer[Status]

	mu        sync.Mutex // serializes reloads and guards listeners
	listeners []func(*Config)

	watcher *fsnotify.Watcher
}

// NewManager reads path once and fails if it is missing or invalid.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	m := &Manager{path: path, logger: logger}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Get returns the active configuration. Callers must not mutate it.
func (m *Manager) Get() *Config { return m.current.Load() }

// Status reports the last load attempt.
func (m *Manager) Status() Status { return *m.status.Load() }

// OnChange adds fn to the listeners run after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Reload re-reads the file. An invalid file leaves the active configuration
// in place and is recorded in Status().LastError.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		st := m.Status()
		st.LastError = err.Error()
		m.status.Store(&st)
		m.log().Error("config reload rejected", "path", m.path, "error", err)
		return err
	}

	cfg := m.Get()
	m.log().Info("config reloaded", "path", m.path, "checksum", m.Status().Checksum)
	for _, fn := range m.listeners {
		fn(cfg)
	}
	return nil
}

func (m *Manager) load() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return err
	}

	next := Status{Path: m.path, LoadedAt: time.Now(), ReloadCount: 1}
	sum := sha256.Sum256(raw)
	next.Checksum = hex.EncodeToString(sum[:])
	if prev := m.status.Load(); prev != nil {
		next.ReloadCount = prev.ReloadCount + 1
	}

	m.current.Store(cfg)
	m.status.Store(&next)
	return nil
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so that atomic rename-into-place saves are seen too.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", m.path, err)
	}
	m.watcher = w
	go m.watch(ctx, w)
	return nil
}

func (m *Manager) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer func() { _ = w.Close() }()

	target := filepath.Clean(m.path)
	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				settle.Reset(settleDelay)
			}
		case <-settle.C:
			_ = m.Reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.log().Error("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher started by Watch.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Close()
}
