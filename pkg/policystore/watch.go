package policystore

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher wraps an fsnotify.Watcher bound to a Store's backing file,
// triggering Reload on every write or create event (spec.md §4.7
// "hot-reload: watches the backing file, re-parses on change, publishes a
// new snapshot without dropping in-flight requests" — grounded on the
// teacher's own polling-free watch pattern generalized from Kubernetes
// informers to a plain fsnotify watch on one file).
type Watcher struct {
	fsw   *fsnotify.Watcher
	store *Store
	done  chan struct{}
}

// Watch starts watching store's backing file for changes, calling
// store.Reload on every write or create event. Reload and watch errors
// are logged with the standard log package.
func Watch(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(store.path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, store: store, done: make(chan struct{})}
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
			// Editors commonly replace a file via rename-into-place, which
			// does not arrive as a Write; on Remove the watch is re-added so
			// we don't silently stop watching. No Reload runs for a Remove.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := w.store.Reload(); err != nil {
					log.Printf("policystore: reload after %s failed: %v", event.Op, err)
				}
			}
			if event.Op&fsnotify.Remove != 0 {
				_ = w.fsw.Add(w.store.path)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("policystore: watch error: %v", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
