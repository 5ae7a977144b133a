package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watch reloads non-secret tuning values (queue poll intervals, batch caps)
// whenever path changes on disk, invoking onReload with the freshly parsed
// config. Callers are responsible for only copying over the fields they
// consider safe to hot-swap; database and cache URLs are read once at
// startup and never hot-reloaded.
func Watch(path string, log logr.Logger, onReload func(*Config)) (func() error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Error(err, "config reload failed, keeping previous configuration")
					continue
				}
				log.Info("configuration reloaded")
				onReload(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error(err, "config watcher error")
			}
		}
	}()

	return w.Close, nil
}
