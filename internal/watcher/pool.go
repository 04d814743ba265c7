// Package watcher keeps at most one filesystem watcher per path and routes
// its change events to a single handler.
package watcher

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/diffview/internal/common/logger"
)

// EventKind describes why a watcher fired.
type EventKind int

const (
	// EventDiscovered is emitted once when the watched file already exists at acquire time.
	EventDiscovered EventKind = iota
	// EventChanged is emitted when the file is created or written.
	EventChanged
)

func (k EventKind) String() string {
	if k == EventDiscovered {
		return "discovered"
	}
	return "changed"
}

// Event is a change notification for one watched path.
type Event struct {
	Path string
	Kind EventKind
}

// Handler receives the events of one watched path.
type Handler func(Event)

// Backend is the filesystem notification mechanism behind a Pool.
// Implementations must deliver events from their own goroutines, never from
// inside Add or Remove.
type Backend interface {
	Add(path string, emit func(Event)) error
	Remove(path string) error
	Close() error
}

// Pool owns the set of live watchers, keyed by absolute path.
type Pool struct {
	mu       sync.Mutex
	backend  Backend
	handlers map[string]Handler
	logger   *logger.Logger
}

// NewPool creates a pool over backend.
func NewPool(backend Backend, log *logger.Logger) *Pool {
	return &Pool{
		backend:  backend,
		handlers: make(map[string]Handler),
		logger:   log.WithFields(zap.String("component", "watcher-pool")),
	}
}

// Acquire starts watching path with h as its only handler. It is a no-op when
// path is already watched. If the backend fails the path is still recorded as
// acquired, so Release stays paired with Acquire, and the error is returned.
func (p *Pool) Acquire(path string, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.handlers[path]; ok {
		return nil
	}
	p.handlers[path] = h

	if err := p.backend.Add(path, p.dispatch); err != nil {
		p.logger.Warn("failed to start watcher", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("watch %s: %w", path, err)
	}
	p.logger.Debug("watcher acquired", zap.String("path", path))
	return nil
}

// Release stops watching path. Events already in flight for it are dropped.
func (p *Pool) Release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.handlers[path]; !ok {
		return
	}
	delete(p.handlers, path)

	if err := p.backend.Remove(path); err != nil {
		p.logger.Debug("failed to stop watcher", zap.String("path", path), zap.Error(err))
	}
	p.logger.Debug("watcher released", zap.String("path", path))
}

// Has reports whether path is currently acquired.
func (p *Pool) Has(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handlers[path]
	return ok
}

// Len returns the number of acquired paths.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

// Close releases every watcher and closes the backend.
func (p *Pool) Close() error {
	p.mu.Lock()
	for path := range p.handlers {
		delete(p.handlers, path)
		if err := p.backend.Remove(path); err != nil {
			p.logger.Debug("failed to stop watcher", zap.String("path", path), zap.Error(err))
		}
	}
	p.mu.Unlock()
	return p.backend.Close()
}

func (p *Pool) dispatch(ev Event) {
	p.mu.Lock()
	h := p.handlers[ev.Path]
	p.mu.Unlock()

	if h == nil {
		return
	}
	h(ev)
}
