package monitor

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"guardiand/internal/logging"
)

// rulesWatcher reloads the rule table when the rules file changes.
// Editors replace files rather than rewrite them, so the parent
// directory is watched and events are debounced.
type rulesWatcher struct {
	fsw    *fsnotify.Watcher
	path   string
	reload func()
	log    *logging.Logger

	mu      sync.Mutex
	pending *time.Timer
	done    chan struct{}
	wg      sync.WaitGroup
}

const rulesDebounce = 500 * time.Millisecond

func watchRules(path string, reload func()) (*rulesWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &rulesWatcher{
		fsw:    fsw,
		path:   abs,
		reload: reload,
		log:    logging.Default().WithComponent("rules-watch"),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *rulesWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("rules watch error", "error", err)
		}
	}
}

func (w *rulesWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(rulesDebounce, func() {
		w.log.Info("rules file changed", "path", w.path)
		w.reload()
	})
}

func (w *rulesWatcher) close() {
	close(w.done)
	w.fsw.Close()
	w.wg.Wait()
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
}
