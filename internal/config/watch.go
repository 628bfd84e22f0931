package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Config from disk whenever the underlying YAML file
// changes, and hands the new value to onChange. Only tunables safe to
// change at runtime (queue timings, buffer windows, rate limits) should be
// read from the latest value returned by Current; callers that need a
// stable snapshot for the lifetime of a request should copy it.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	current  *Config
	onChange func(*Config)
}

// NewWatcher loads the config once and starts watching its file for writes.
// If path is empty, watching is a no-op and Current always returns the
// initial load.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, current: cfg, onChange: onChange}
	if path == "" {
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
				continue
			}
			w.current = cfg
			slog.Info("config reloaded", "path", w.path)
			if w.onChange != nil {
				w.onChange(cfg)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config { return w.current }

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}
