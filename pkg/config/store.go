package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/types"
)

// reloadDelay coalesces the burst of events an editor save produces
const reloadDelay = 100 * time.Millisecond

// Store holds the current configuration and swaps it atomically on reload
type Store struct {
	path    string
	current atomic.Pointer[Config]
	broker  *events.Broker

	mu        sync.Mutex
	listeners []func(old, updated Config)
}

// NewStore wraps an already loaded configuration. path is the file Reload
// and Watch read; it may be empty.
func NewStore(path string, cfg Config, broker *events.Broker) *Store {
	s := &Store{path: path, broker: broker}
	s.current.Store(&cfg)
	return s
}

// Config returns the current configuration
func (s *Store) Config() Config {
	return *s.current.Load()
}

// Snapshot returns the current binary settings
func (s *Store) Snapshot() types.Settings {
	return s.current.Load().Settings()
}

// Path returns the watched file
func (s *Store) Path() string {
	return s.path
}

// OnChange registers fn to run after every successful reload
func (s *Store) OnChange(fn func(old, updated Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload reads the file again. On error the current configuration is kept.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	old := s.current.Swap(&cfg)

	s.mu.Lock()
	listeners := append([]func(old, updated Config){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(*old, cfg)
	}

	s.broker.Emit(events.EventSettingsReloaded, "settings reloaded", map[string]string{
		"path":          s.path,
		"binary_source": string(cfg.BinarySource),
	})
	return nil
}

// Watch reloads whenever the file changes until ctx is done. The parent
// directory is watched so editors that replace the file are noticed.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	logger := log.WithComponent("config")
	name := filepath.Clean(s.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(reloadDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("Config watcher error")

		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				logger.Error().Err(err).Str("path", s.path).Msg("Config reload failed, keeping previous settings")
				continue
			}
			logger.Info().Str("path", s.path).Msg("Config reloaded")
		}
	}
}
