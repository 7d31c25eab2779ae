// Package watcher reloads the configuration file when it changes on disk.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"scanbridge/internal/config"
	"scanbridge/internal/logging"
)

const debounceInterval = 500 * time.Millisecond

// ReloadCallback receives every successfully loaded configuration.
type ReloadCallback func(cfg config.Config)

// Watcher monitors a config file. The parent directory is watched so that
// editors replacing the file on save are still noticed.
type Watcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	callback  ReloadCallback
	cancel    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry

	mu    sync.Mutex
	timer *time.Timer
}

// New starts watching path and calls callback after each change settles.
func New(path string, callback ReloadCallback) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsW.Add(filepath.Dir(abs)); err != nil {
		fsW.Close()
		return nil, err
	}

	w := &Watcher{
		path:      abs,
		fsWatcher: fsW,
		callback:  callback,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
		log:       logging.NewLogger("watcher").WithField("path", abs),
	}

	go w.watchLoop()
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop() {
	defer close(w.done)

	for {
		select {
		case <-w.cancel:
			w.stopTimer()
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(debounceInterval, w.reload)
			w.mu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watch error")
		}
	}
}

// reload loads the file and hands it to the callback. A file that fails to
// load leaves the running configuration untouched.
func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.log.WithError(err).Warn("config reload rejected")
		return
	}

	w.log.WithFields(logrus.Fields{
		"tolerance":   cfg.Scan.Tolerance,
		"symbologies": cfg.Scan.Symbologies,
	}).Info("config reloaded")

	if w.callback != nil {
		w.callback(cfg)
	}
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

// Close stops watching. Pending reloads are dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.cancel)
		err = w.fsWatcher.Close()
		<-w.done
	})
	return err
}
