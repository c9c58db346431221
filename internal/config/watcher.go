package config

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher debounces fsnotify events on a single config file and invokes a
// reload callback. Grounded in mercator-hq-jupiter's FileWatcher/Debouncer
// pair, trimmed to the single-file case Spire needs (the config path given
// on the CLI, not a directory of policy files).
type Watcher struct {
	path     string
	log      *logrus.Logger
	debounce time.Duration

	fs     *fsnotify.Watcher
	mu     sync.Mutex
	timer  *time.Timer
	stopCh chan struct{}
}

func NewWatcher(path string, log *logrus.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the containing directory: editors often replace the file via
	// rename, which fsnotify only reports against the directory entry.
	dir := dirOf(path)
	if err := fs.Add(dir); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		log:      log,
		debounce: 150 * time.Millisecond,
		fs:       fs,
		stopCh:   make(chan struct{}),
	}, nil
}

// Run blocks, invoking onReload (debounced) whenever the watched file
// changes, until Stop is called.
func (w *Watcher) Run(onReload func()) {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, baseOf(w.path)) {
				continue
			}
			w.trigger(onReload)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) trigger(onReload func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, onReload)
}

func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.fs.Close()
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return "."
}

func baseOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
