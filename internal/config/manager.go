package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"nexus/pkg/logging"
)

// Watcher reloads NexusConfig from a config.yaml whenever the file changes,
// debouncing bursts of writes the way editors and config-map syncers tend to
// produce them.
type Watcher struct {
	mu         sync.RWMutex
	configPath string
	current    NexusConfig
	onChange   func(NexusConfig)
	watcher    *fsnotify.Watcher
	stopCh     chan struct{}
	debounce   time.Duration
}

// NewWatcher loads the initial configuration and prepares (without starting)
// a filesystem watch on configPath/config.yaml.
func NewWatcher(configPath string, debounce time.Duration) (*Watcher, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := fw.Add(configPath); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", configPath, err)
	}

	return &Watcher{
		configPath: configPath,
		current:    cfg,
		watcher:    fw,
		stopCh:     make(chan struct{}),
		debounce:   debounce,
	}, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() NexusConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after every successful reload.
// Only one callback is kept; later registrations replace earlier ones.
func (w *Watcher) OnChange(fn func(NexusConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start runs the watch loop until Stop is called. It is meant to run in its
// own goroutine.
func (w *Watcher) Start() {
	var debounceTimer *time.Timer
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Config", err, "filesystem watch error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		logging.Error("Config", err, "reload failed, keeping previous configuration")
		return
	}

	w.mu.Lock()
	w.current = cfg
	cb := w.onChange
	w.mu.Unlock()

	logging.Info("Config", "reloaded configuration from %s", w.configPath)
	if cb != nil {
		cb(cfg)
	}
}

// Stop terminates the watch loop and releases the underlying inotify/kqueue
// handle.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}
