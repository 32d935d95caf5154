package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"wayfarer/internal/logging"
)

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	onChange  func(*Config)
	logger    *logging.Logger
}

// NewWatcher creates a watcher for the given config file. onChange is invoked
// with the freshly loaded configuration after every successful reload; a
// config that fails to load or validate is ignored and the previous one
// stays in effect.
func NewWatcher(path string, onChange func(*Config), logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	return &Watcher{
		fsWatcher: fsw,
		path:      path,
		onChange:  onChange,
		logger:    logger,
	}, nil
}

// Start runs the event loop until ctx is cancelled. Writes are debounced
// briefly since editors emit several events per save.
func (w *Watcher) Start(ctx context.Context) {
	defer w.fsWatcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.WithContext("error", err.Error()).Warn("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithContext("error", err.Error()).Warn("ignoring invalid config change")
		return
	}
	w.logger.Info("configuration reloaded from %s", w.path)
	w.onChange(cfg)
}
