package source

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/wurstmineberg/api/internal/logging"
)

// Watcher marks the source set dirty when any underlying file changes, so
// a refresh can be skipped entirely when nothing was appended. It starts
// dirty so the first refresh always reads.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	mu    sync.Mutex
	dirty bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher watches the given paths: directories directly, files via
// their parent directory. Watching directories rather than the files
// themselves survives rotation, where a file is replaced under the same
// name.
func NewWatcher(paths []string, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: fsw,
		logger:  logger.WithComponent("watcher"),
		dirty:   true,
		done:    make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, path := range paths {
		if stat, err := os.Stat(path); err == nil && stat.IsDir() {
			dirs[path] = true
			continue
		}
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory")
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.MarkDirty()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")
			// On watcher errors assume the worst and re-read.
			w.MarkDirty()
		case <-w.done:
			return
		}
	}
}

// Dirty reports whether any source may have changed since MarkClean. A nil
// Watcher is always dirty, so a failed watcher setup degrades to reading
// every refresh rather than serving stale data forever.
func (w *Watcher) Dirty() bool {
	if w == nil {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

// MarkDirty flags the source set as changed
func (w *Watcher) MarkDirty() {
	w.mu.Lock()
	w.dirty = true
	w.mu.Unlock()
}

// MarkClean clears the dirty flag, typically right before a read pass
func (w *Watcher) MarkClean() {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.dirty = false
	w.mu.Unlock()
}

// Close stops the watcher
func (w *Watcher) Close() {
	if w == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()
}
