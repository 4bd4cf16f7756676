package config

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/webitel/corehub/internal/corerr"
)

// ReloadEvent is sent on a Watcher's channel whenever the backing config
// file changes. Per spec §9's Open Question resolution, this is a
// notification only: it never carries the new Config, and it never
// mutates anything in place. Interested components are responsible for
// calling Load again and re-reading what they care about.
type ReloadEvent struct{}

// Watcher drives OnConfigReload notifications off a fsnotify watch on the
// config file passed to Load. A Config built from flags/env only (no
// config_file) has nothing to watch; NewWatcher returns a Watcher whose
// channel simply never fires in that case, rather than erroring, since
// "no file to reload" isn't a failure.
type Watcher struct {
	mu      sync.Mutex
	events  chan ReloadEvent
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewWatcher watches configFile (if non-empty) and emits a ReloadEvent on
// its channel for every write, create or rename event fsnotify reports.
// Events that arrive while an earlier notification is still undrained
// coalesce into it (editors commonly emit rename+create pairs for a single
// logical save).
func NewWatcher(configFile string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{events: make(chan ReloadEvent, 1), logger: logger}
	if configFile == "" {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, corerr.Wrap(corerr.KindInternal, "create fsnotify watcher", err)
	}
	if err := fw.Add(configFile); err != nil {
		fw.Close()
		return nil, corerr.Wrap(corerr.KindArg, "watch config file: "+configFile, err)
	}
	w.watcher = fw

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.notify()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", "error", err)
		}
	}
}

// notify delivers a ReloadEvent without blocking: a reader that hasn't
// drained the previous notification simply coalesces with it, since the
// event carries no payload to lose.
func (w *Watcher) notify() {
	select {
	case w.events <- ReloadEvent{}:
	default:
	}
}

// Events returns the channel OnConfigReload notifications arrive on.
func (w *Watcher) Events() <-chan ReloadEvent { return w.events }

// Close stops the underlying fsnotify watch, if any.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
