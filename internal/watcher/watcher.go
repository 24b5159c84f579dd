// Package watcher reports debounced file changes in a directory, used to drop
// cached candidate sources edited outside the service.
package watcher

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/formulary/internal/log"
)

// Watcher monitors one directory and emits the base names that changed.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	match     func(name string) bool
	debounce  time.Duration
	changes   chan []string
	done      chan struct{}
	stopped   chan struct{}
	started   bool
}

// Config holds watcher options. A nil Match accepts every file.
type Config struct {
	Dir         string
	Match       func(name string) bool
	DebounceDur time.Duration
}

// DefaultConfig watches dir with a 250ms debounce.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		DebounceDur: 250 * time.Millisecond,
	}
}

// New creates a watcher. Call Start to begin receiving changes.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	match := cfg.Match
	if match == nil {
		match = func(string) bool { return true }
	}
	return &Watcher{
		fsWatcher: fsw,
		dir:       cfg.Dir,
		match:     match,
		debounce:  cfg.DebounceDur,
		changes:   make(chan []string, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Start watches the directory. Each value received is the sorted set of base
// names touched during one quiet period.
func (w *Watcher) Start() (<-chan []string, error) {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.dir, err)
	}
	w.started = true
	go w.loop()
	return w.changes, nil
}

// Stop terminates the watcher and waits for its goroutine to exit. It must be
// called once.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.fsWatcher.Close()
	if w.started {
		<-w.stopped
	}
	return err
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending = map[string]struct{}{}
	)
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		}
		fire = timer.C
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			pending[filepath.Base(event.Name)] = struct{}{}
			arm()

		case <-fire:
			fire = nil
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			sort.Strings(names)
			select {
			case w.changes <- names:
				pending = map[string]struct{}{}
			default:
				// Consumer is behind; keep the batch and retry after another quiet period.
				arm()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWatcher, "File watcher error", "dir", w.dir, "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return w.match(filepath.Base(event.Name))
}
