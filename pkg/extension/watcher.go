package extension

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher monitors the extensions directory and fires a single callback
// after a burst of file events settles. The daemon wires the callback to
// Registry.Reload when auto-reload is configured.
type Watcher struct {
	logger             zerolog.Logger
	watcher            *fsnotify.Watcher
	dir                string
	stabilityThreshold time.Duration
	onSettled          func()

	done     chan struct{}
	stopOnce sync.Once

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	Dir                string
	StabilityThreshold time.Duration
	OnSettled          func()
}

// NewWatcher creates a watcher over the extensions directory
func NewWatcher(logger zerolog.Logger, config WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if config.StabilityThreshold == 0 {
		config.StabilityThreshold = 500 * time.Millisecond
	}

	return &Watcher{
		logger:             logger.With().Str("component", "extension-watcher").Logger(),
		watcher:            fsw,
		dir:                config.Dir,
		stabilityThreshold: config.StabilityThreshold,
		onSettled:          config.OnSettled,
		done:               make(chan struct{}),
	}, nil
}

// Start begins watching the extensions directory
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch extensions directory: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().Str("dir", w.dir).Msg("Extension watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.logger.Info().Msg("Extension watcher stopped")
	return nil
}

// eventLoop processes file system events
func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

// handleEvent debounces a file system event into the settle timer
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.shouldIgnore(event.Name) {
		return
	}

	w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Extensions directory changed")

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.stabilityThreshold, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if w.onSettled != nil {
			w.onSettled()
		}
	})
}

// shouldIgnore filters editor droppings and hidden files
func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, "~") {
		return true
	}
	return false
}
