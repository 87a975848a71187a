// Package watcher pushes file-count changes of draft directories while a
// session's agent edits them.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"skill-forge/internal/draft"
)

const debounceInterval = 500 * time.Millisecond

// excludedDirs are directories excluded from file counting and watching.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
}

// visibleHidden are dot-directories that belong to the artifact.
var visibleHidden = map[string]bool{
	".claude-plugin": true,
}

// UpdateCallback is called when the file count of a watched draft changes.
type UpdateCallback func(sessionID, dir string, fileCount int)

// Watcher monitors draft directories for file changes, one per session.
type Watcher struct {
	mu       sync.RWMutex
	watchers map[string]*sessionWatcher // sessionID → watcher
	debounce time.Duration
	callback UpdateCallback
}

type sessionWatcher struct {
	sessionID string
	dir       string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}

	mu        sync.Mutex
	lastCount int
}

// New creates a new file system watcher.
func New(callback UpdateCallback) *Watcher {
	return &Watcher{
		watchers: make(map[string]*sessionWatcher),
		debounce: debounceInterval,
		callback: callback,
	}
}

// Watch starts watching dir for a session, replacing any directory watched
// for it before.
func (w *Watcher) Watch(sessionID, dir string) error {
	w.Unwatch(sessionID)

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("watch draft: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch draft: not a directory: %s", dir)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	sw := &sessionWatcher{
		sessionID: sessionID,
		dir:       dir,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
		lastCount: -1, // Force initial update.
	}

	// Add directories recursively.
	if err := addDirsRecursive(fsW, dir); err != nil {
		fsW.Close()
		return err
	}

	w.mu.Lock()
	w.watchers[sessionID] = sw
	w.mu.Unlock()

	go w.watchLoop(sw)
	go w.recount(sw)

	log.Debug().Str("sessionId", sessionID).Str("dir", dir).Msg("Watching draft")
	return nil
}

// Unwatch stops watching a session's directory.
func (w *Watcher) Unwatch(sessionID string) {
	w.mu.Lock()
	sw, ok := w.watchers[sessionID]
	if ok {
		delete(w.watchers, sessionID)
	}
	w.mu.Unlock()

	if ok {
		close(sw.cancel)
		sw.fsWatcher.Close()
	}
}

// Watching reports the directory watched for a session.
func (w *Watcher) Watching(sessionID string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sw, ok := w.watchers[sessionID]
	if !ok {
		return "", false
	}
	return sw.dir, true
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(sw *sessionWatcher) {
	var timer *time.Timer

	for {
		select {
		case <-sw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-sw.fsWatcher.Events:
			if !ok {
				return
			}

			// If a new directory is created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !skipDir(filepath.Base(event.Name)) {
						if err := addDirsRecursive(sw.fsWatcher, event.Name); err != nil {
							log.Debug().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
						}
					}
				}
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				w.recount(sw)
			})

		case err, ok := <-sw.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("sessionId", sw.sessionID).Msg("Draft watcher error")
		}
	}
}

// recount recalculates the file count and notifies if it changed.
func (w *Watcher) recount(sw *sessionWatcher) {
	select {
	case <-sw.cancel:
		return
	default:
	}

	count := CountFiles(sw.dir)

	sw.mu.Lock()
	changed := count != sw.lastCount
	sw.lastCount = count
	sw.mu.Unlock()

	if changed && w.callback != nil {
		w.callback(sw.sessionID, sw.dir, count)
	}
}

// CountFiles counts the artifact files of a draft directory. The draft
// metadata file and excluded or hidden directories are not counted.
func CountFiles(dir string) int {
	count := 0
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths.
		}

		name := d.Name()
		if d.IsDir() {
			if path != dir && skipDir(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if path == filepath.Join(dir, draft.MetaFile) {
			return nil
		}
		if isHidden(name) {
			return nil
		}

		count++
		return nil
	})
	return count
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.watchers))
	for id := range w.watchers {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		w.Unwatch(id)
	}
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func skipDir(name string) bool {
	if excludedDirs[name] {
		return true
	}
	return isHidden(name) && !visibleHidden[name]
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
