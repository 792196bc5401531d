// Package watch triggers soft refreshes when repository metadata changes on disk.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/vcslog/internal/debounce"
)

// Watcher calls onChange once per burst of changes under the watched roots.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	debounce *debounce.Debouncer
	closed   bool
	done     chan struct{}
}

// maxWaitFactor bounds how long a continuous burst of events can postpone onChange.
const maxWaitFactor = 8

// New watches the git metadata of every root. onChange runs on a timer goroutine after
// delay without further events, and at least every maxWaitFactor*delay during a burst.
func New(roots []string, delay time.Duration, onChange func()) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	for _, root := range roots {
		for path := range watchPaths(root) {
			slog.Debug("adding path to FS watcher", slog.String("path", path))
			if err := watcher.Add(path); err != nil {
				err := errors.Join(err, watcher.Close())
				return nil, fmt.Errorf("watch %s: %w", path, err)
			}
		}
	}
	w := &Watcher{
		watcher:  watcher,
		debounce: debounce.New(delay, maxWaitFactor*delay, onChange),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if shouldIgnoreWatchPath(ev.Name) {
				continue
			}
			slog.Debug("fsnotify event",
				slog.String("op", ev.Op.String()),
				slog.String("path", ev.Name),
			)
			if ev.Op&fsnotify.Create != 0 {
				w.addIfDir(ev.Name)
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

// addIfDir follows directories created under refs/, such as a new remote.
func (w *Watcher) addIfDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		slog.Debug("watch new directory", slog.String("path", path), slog.Any("error", err))
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	slog.Debug("auto refresh scheduled")
	w.debounce.Trigger()
}

// Close stops watching; a pending refresh is dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.debounce.Stop()
	w.mu.Unlock()

	err := w.watcher.Close()
	<-w.done
	return err
}

// watchPaths yields the .git directory of root and every directory below .git/refs, or
// root itself when it has no .git directory (bare repositories).
func watchPaths(root string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if root == "" {
			return
		}
		gitDir := filepath.Join(root, ".git")
		info, err := os.Stat(gitDir)
		if err != nil || !info.IsDir() {
			yield(root)
			return
		}
		if !yield(gitDir) {
			return
		}
		refsDir := filepath.Join(gitDir, "refs")
		_ = filepath.WalkDir(refsDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if !yield(path) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

func shouldIgnoreWatchPath(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".lock" || ext == ".ipc"
}
