package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads the config file whenever it changes. A valid reload is
// swapped into Live, if set, and then handed to OnReload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	live     *Live
	path     string
	debounce time.Duration
	onReload func(*Config)

	done     chan struct{}
	timer    *time.Timer
	timerMu  sync.Mutex
	stopOnce sync.Once
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	Loader   *Loader
	Live     *Live
	Debounce time.Duration
	OnReload func(*Config)
}

// NewWatcher creates a config watcher
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.Live == nil && cfg.OnReload == nil {
		return nil, fmt.Errorf("live config or reload callback is required")
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 100 * time.Millisecond
	}

	path := cfg.Loader.GetConfigPath()
	if path == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		loader:   cfg.Loader,
		live:     cfg.Live,
		path:     filepath.Clean(path),
		debounce: cfg.Debounce,
		onReload: cfg.OnReload,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched so that editors
// replacing the file by rename are still observed.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.path).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("Config reload failed, keeping previous config")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("Reloaded config is invalid, keeping previous config")
		return
	}

	if w.live != nil {
		w.live.Swap(cfg)
	}
	log.Info().Str("path", w.path).Msg("Config reloaded")

	if w.onReload != nil {
		w.onReload(cfg)
	}
}
