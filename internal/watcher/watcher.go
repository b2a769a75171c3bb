// Package watcher watches the config file and hot reloads it.
// It supports cross-platform fsnotify event handling.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/alien-org/alien-sso-go/internal/config"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const configReloadDebounce = 150 * time.Millisecond

// ReloadFunc receives the previous and the freshly loaded configuration.
type ReloadFunc func(old, updated *config.Config)

// Watcher reloads the configuration when the file changes on disk.
type Watcher struct {
	configPath string
	debounce   time.Duration
	load       func(string) (*config.Config, error)

	mu             sync.RWMutex
	config         *config.Config
	lastConfigHash string

	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer

	reloadCallback ReloadFunc
	watcher        *fsnotify.Watcher
	done           chan struct{}
}

// NewWatcher creates a watcher for configPath. reloadCallback runs after every successful
// reload whose content differs from the last one seen.
func NewWatcher(configPath string, reloadCallback ReloadFunc) (*Watcher, error) {
	fw, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	abs, errAbs := filepath.Abs(configPath)
	if errAbs != nil {
		abs = configPath
	}
	return &Watcher{
		configPath:     abs,
		debounce:       configReloadDebounce,
		load:           config.LoadConfig,
		reloadCallback: reloadCallback,
		watcher:        fw,
		done:           make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched so that editors replacing the
// file through a rename are noticed too.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if errAdd := w.watcher.Add(dir); errAdd != nil {
		log.Errorf("failed to watch config directory %s: %v", dir, errAdd)
		return errAdd
	}
	log.Debugf("watching config file: %s", w.configPath)
	if hash, err := fileHash(w.configPath); err == nil {
		w.mu.Lock()
		w.lastConfigHash = hash
		w.mu.Unlock()
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.stopConfigReloadTimer()
	return w.watcher.Close()
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}
