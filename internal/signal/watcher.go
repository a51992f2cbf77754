package signal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const defaultDebounce = 500 * time.Millisecond

// FileWatcher is a Source backed by a YAML state file. The host (or an
// operator, by hand) writes the file; the watcher re-reads it on change
// and publishes transitions. A missing or unreadable file degrades to
// DefaultState and is logged, never fatal.
type FileWatcher struct {
	*broadcaster

	path     string
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFileWatcher creates a watcher for the state file at path. A debounce
// of zero selects the default. Call Start to begin watching.
func NewFileWatcher(path string, debounce time.Duration) *FileWatcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w := &FileWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
	}
	w.broadcaster = newBroadcaster(w.read())
	return w
}

// Start begins watching the state file's directory. Editors and mobile
// hosts typically replace the file atomically, so the watch is on the
// parent directory to survive rename-over-write.
func (w *FileWatcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.watcher = fw

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(ctx)

	log.WithField("path", w.path).Debug("Capability state watcher started")
	return nil
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *FileWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *FileWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				dirty = true
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Capability state watcher error")

		case <-ticker.C:
			if dirty {
				dirty = false
				w.publish(w.read())
			}
		}
	}
}

// read loads the state file, falling back to the conservative default on
// any failure so a broken signal never strands the engine offline.
func (w *FileWatcher) read() State {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).WithField("path", w.path).Warn("Failed to read capability state file")
		}
		return DefaultState()
	}

	s := DefaultState()
	if err := yaml.Unmarshal(data, &s); err != nil {
		log.WithError(err).WithField("path", w.path).Warn("Malformed capability state file")
		return DefaultState()
	}
	if s.Connection == "" {
		s.Connection = ConnectionUnknown
	}
	return s
}
