package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kandev/diffview/internal/common/logger"
)

// DefaultDebounce is how long a path must stay quiet before its event fires.
const DefaultDebounce = 100 * time.Millisecond

// target is one watched file and the directory currently observed for it.
type target struct {
	path     string
	watchDir string
	emit     func(Event)
	timer    *time.Timer
}

// FSNotifyBackend watches the parent directory of each target and filters
// events down to the target itself. A missing parent is handled by watching
// the nearest existing ancestor and moving down as directories appear.
type FSNotifyBackend struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	debounce time.Duration
	targets  map[string]*target
	dirs     map[string]int
	logger   *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewFSNotifyBackend creates the backend and starts its event loop.
func NewFSNotifyBackend(debounce time.Duration, log *logger.Logger) (*FSNotifyBackend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce < 0 {
		debounce = 0
	}

	b := &FSNotifyBackend{
		watcher:  w,
		debounce: debounce,
		targets:  make(map[string]*target),
		dirs:     make(map[string]int),
		logger:   log.WithFields(zap.String("component", "fsnotify")),
		stopCh:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.watchLoop()
	return b, nil
}

// Add implements Backend.
func (b *FSNotifyBackend) Add(path string, emit func(Event)) error {
	path = filepath.Clean(path)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.targets[path]; ok {
		return nil
	}

	dir := nearestExistingDir(filepath.Dir(path))
	if err := b.addDir(dir); err != nil {
		return err
	}

	t := &target{path: path, watchDir: dir, emit: emit}
	b.targets[path] = t
	b.settle(t)

	if _, err := os.Stat(path); err == nil {
		b.schedule(t, EventDiscovered)
	}
	return nil
}

// Remove implements Backend.
func (b *FSNotifyBackend) Remove(path string) error {
	path = filepath.Clean(path)

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.targets[path]
	if !ok {
		return nil
	}
	delete(b.targets, path)
	if t.timer != nil {
		t.timer.Stop()
	}
	return b.releaseDir(t.watchDir)
}

// Close implements Backend.
func (b *FSNotifyBackend) Close() error {
	close(b.stopCh)
	err := b.watcher.Close()
	b.wg.Wait()

	b.mu.Lock()
	for path, t := range b.targets {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(b.targets, path)
	}
	b.mu.Unlock()
	return err
}

func (b *FSNotifyBackend) watchLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.handleEvent(event)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Debug("filesystem watcher error", zap.Error(err))
		}
	}
}

func (b *FSNotifyBackend) handleEvent(event fsnotify.Event) {
	// Chmod, Remove and rename-away do not change what a viewer would see next.
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	name := filepath.Clean(event.Name)

	b.mu.Lock()
	defer b.mu.Unlock()

	if event.Has(fsnotify.Create) {
		b.descend(name)
	}
	if t, ok := b.targets[name]; ok {
		b.schedule(t, EventChanged)
	}
}

// descend moves targets waiting on an ancestor of name down to the deepest
// directory that now exists.
func (b *FSNotifyBackend) descend(name string) {
	for _, t := range b.targets {
		if filepath.Dir(name) != t.watchDir || !strings.HasPrefix(t.path, name+string(filepath.Separator)) {
			continue
		}

		if !b.settle(t) {
			continue
		}

		// The file may have been created before the new watch was in place.
		if _, err := os.Stat(t.path); err == nil {
			b.schedule(t, EventChanged)
		}
	}
}

// settle moves the watch of t to the deepest existing directory on its path,
// repeating until no deeper directory appeared while the watch was being
// added. It reports whether the watch moved.
func (b *FSNotifyBackend) settle(t *target) bool {
	moved := false
	for {
		dir := nearestExistingDir(filepath.Dir(t.path))
		if dir == t.watchDir {
			return moved
		}
		if err := b.addDir(dir); err != nil {
			b.logger.Debug("failed to watch directory", zap.String("dir", dir), zap.Error(err))
			return moved
		}
		if err := b.releaseDir(t.watchDir); err != nil {
			b.logger.Debug("failed to unwatch directory", zap.String("dir", t.watchDir), zap.Error(err))
		}
		t.watchDir = dir
		moved = true
	}
}

// schedule (re)starts the debounce timer of t. Must be called with b.mu held.
func (b *FSNotifyBackend) schedule(t *target, kind EventKind) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(b.debounce, func() {
		b.mu.Lock()
		current := b.targets[t.path] == t
		if current {
			t.timer = nil
		}
		b.mu.Unlock()

		if current {
			t.emit(Event{Path: t.path, Kind: kind})
		}
	})
}

func (b *FSNotifyBackend) addDir(dir string) error {
	if b.dirs[dir] == 0 {
		if err := b.watcher.Add(dir); err != nil {
			return err
		}
	}
	b.dirs[dir]++
	return nil
}

func (b *FSNotifyBackend) releaseDir(dir string) error {
	b.dirs[dir]--
	if b.dirs[dir] > 0 {
		return nil
	}
	delete(b.dirs, dir)
	if err := b.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}
	return nil
}

func nearestExistingDir(dir string) string {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
