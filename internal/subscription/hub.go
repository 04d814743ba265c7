// Package subscription maps watched paths to the viewers subscribed to them,
// drives the watcher pool from those subscriptions and pushes file updates to
// exactly the sessions that asked for them.
package subscription

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/diff"
	"github.com/kandev/diffview/internal/events"
	"github.com/kandev/diffview/internal/events/bus"
	"github.com/kandev/diffview/internal/watcher"
	ws "github.com/kandev/diffview/pkg/websocket"
)

// ErrHubClosed is returned when an operation is submitted after the hub stopped.
var ErrHubClosed = errors.New("subscription hub is closed")

// Computer produces a diff result for a path.
type Computer interface {
	Compute(ctx context.Context, path string, spec diff.Spec) *diff.Result
}

// Stats is a point-in-time view of the hub, served by the health endpoint.
type Stats struct {
	Sessions     int `json:"sessions"`
	WatchedPaths int `json:"watched_paths"`
	Watchers     int `json:"watchers"`
	Computing    int `json:"computing"`
}

// entry is a watched path. It exists only while subscribers is non-empty.
type entry struct {
	path        string
	spec        diff.Spec
	gen         uint64
	subscribers map[*Session]struct{}
}

// job is one requested computation: a broadcast to all subscribers, or a
// replay to a single session. Watch and refresh replays are only delivered
// while target still subscribes; connect replays go to a session that
// subscribes to nothing yet.
type job struct {
	target  *Session
	connect bool
}

// pathQueue serializes computations of one path.
type pathQueue struct {
	running   bool
	jobs      []job
	broadcast bool // a broadcast job is queued
}

type computeResult struct {
	path   string
	gen    uint64
	job    job
	result *diff.Result
}

// Hub is the process-scoped subscription table, session registry and
// broadcast router. All state is owned by the Run goroutine.
type Hub struct {
	computer Computer
	pool     *watcher.Pool
	eventBus bus.EventBus
	logger   *logger.Logger

	sessions map[*Session]struct{}
	entries  map[string]*entry
	queues   map[string]*pathQueue
	gen      uint64

	commands chan func()
	changes  chan string
	results  chan computeResult

	ctx       context.Context
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a hub. eventBus may be nil.
func NewHub(computer Computer, pool *watcher.Pool, eventBus bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		computer: computer,
		pool:     pool,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "subscription_hub")),
		sessions: make(map[*Session]struct{}),
		entries:  make(map[string]*entry),
		queues:   make(map[string]*pathQueue),
		commands: make(chan func(), 256),
		changes:  make(chan string, 256),
		results:  make(chan computeResult, 64),
		ctx:      context.Background(),
		done:     make(chan struct{}),
	}
}

// Run starts the hub's main processing loop and blocks until ctx is done.
// On return every watcher has been released.
func (h *Hub) Run(ctx context.Context) {
	h.ctx = ctx
	h.logger.Info("subscription hub started")
	defer h.logger.Info("subscription hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case cmd := <-h.commands:
			cmd()
		case path := <-h.changes:
			h.pathChanged(path)
		case res := <-h.results:
			h.computeDone(res)
		}
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) shutdown() {
	for path := range h.entries {
		h.pool.Release(path)
	}
	h.entries = make(map[string]*entry)
	h.queues = make(map[string]*pathQueue)
	h.sessions = make(map[*Session]struct{})
	h.closeOnce.Do(func() { close(h.done) })
}

// submit queues cmd for the loop. Commands run in submission order.
func (h *Hub) submit(cmd func()) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Connect registers a new session for sink and replays every watched path to it.
// The session is disconnected automatically when sink.Closed() fires.
func (h *Hub) Connect(sink Sink) (*Session, error) {
	s := newSession(sink)
	if err := h.submit(func() { h.connect(s) }); err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-sink.Closed():
			_ = h.Disconnect(s)
		case <-h.done:
		}
	}()
	return s, nil
}

// Disconnect unwatches every path of s and forgets it. Repeated calls are no-ops.
func (h *Hub) Disconnect(s *Session) error {
	return h.submit(func() { h.disconnect(s) })
}

// Watch subscribes s to path. The spec only applies when path is not yet watched.
func (h *Hub) Watch(s *Session, path string, spec diff.Spec) error {
	return h.submit(func() { h.watch(s, path, spec) })
}

// Unwatch removes the subscription of s to path.
func (h *Hub) Unwatch(s *Session, path string) error {
	return h.submit(func() { h.unwatch(s, path) })
}

// Refresh recomputes every path s watches and sends the results to s only.
func (h *Hub) Refresh(s *Session) error {
	return h.submit(func() { h.refresh(s) })
}

// HandleMessage decodes one client frame and applies it. Malformed frames and
// unknown types are logged and dropped.
func (h *Hub) HandleMessage(s *Session, data []byte) {
	log := h.logger.WithSessionID(s.id)

	msg, err := ws.ParseClientMessage(data)
	switch {
	case errors.Is(err, ws.ErrUnknownType):
		log.Warn("ignoring unknown message type", zap.String("type", string(msg.Type)))
		return
	case err != nil:
		log.Warn("dropping malformed message", zap.Error(err))
		return
	}

	switch msg.Type {
	case ws.MessageTypeWatch:
		err = h.Watch(s, msg.AbsolutePath, diff.NewSpec(msg.PrevBranch, msg.CurrBranch))
	case ws.MessageTypeUnwatch:
		err = h.Unwatch(s, msg.AbsolutePath)
	case ws.MessageTypeRefresh:
		err = h.Refresh(s)
	}
	if err != nil {
		log.Debug("message not applied", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

// Stats returns current counters. A stopped hub reports zeros.
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	err := h.submit(func() {
		computing := 0
		for _, q := range h.queues {
			if q.running {
				computing++
			}
		}
		reply <- Stats{
			Sessions:     len(h.sessions),
			WatchedPaths: len(h.entries),
			Watchers:     h.pool.Len(),
			Computing:    computing,
		}
	})
	if err != nil {
		return Stats{}
	}
	select {
	case st := <-reply:
		return st
	case <-h.done:
		return Stats{}
	}
}

func (h *Hub) connect(s *Session) {
	h.sessions[s] = struct{}{}
	h.logger.Debug("session connected", zap.String("session_id", s.id), zap.Int("watched_paths", len(h.entries)))

	for path := range h.entries {
		h.enqueue(path, job{target: s, connect: true})
	}
	h.publish(events.SubjectSessionConnected, events.SessionConnected, map[string]any{
		"session_id": s.id,
	})
}

func (h *Hub) disconnect(s *Session) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	// Forget the session first so removal broadcasts skip it.
	delete(h.sessions, s)
	for path := range s.paths {
		h.unwatch(s, path)
	}
	h.logger.Debug("session disconnected", zap.String("session_id", s.id))
	h.publish(events.SubjectSessionDisconnected, events.SessionDisconnected, map[string]any{
		"session_id": s.id,
	})
}

func (h *Hub) watch(s *Session, path string, spec diff.Spec) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	log := h.logger.WithSessionID(s.id).WithPath(path)

	e, ok := h.entries[path]
	if !ok {
		h.gen++
		e = &entry{
			path:        path,
			spec:        spec,
			gen:         h.gen,
			subscribers: make(map[*Session]struct{}),
		}
		h.entries[path] = e
		// A failed watcher stays registered so ref-counting is unaffected; the
		// pool has already logged it.
		_ = h.pool.Acquire(path, h.pathHandler(path))
		log.Info("watching path", zap.String("mode", spec.Mode().String()))
	} else if e.spec != spec {
		log.Debug("path already watched with another comparison, keeping the original",
			zap.String("mode", e.spec.Mode().String()))
	}

	e.subscribers[s] = struct{}{}
	s.paths[path] = struct{}{}
	h.enqueue(path, job{target: s})
}

func (h *Hub) unwatch(s *Session, path string) {
	delete(s.paths, path)

	e, ok := h.entries[path]
	if !ok {
		return
	}
	delete(e.subscribers, s)
	if len(e.subscribers) > 0 {
		return
	}

	delete(h.entries, path)
	h.pool.Release(path)
	if q, ok := h.queues[path]; ok {
		q.jobs = nil
		q.broadcast = false
		if !q.running {
			delete(h.queues, path)
		}
	}
	h.logger.WithPath(path).Info("path no longer watched")

	h.sendAll(ws.NewFileRemoved(path), nil)
	h.publish(events.SubjectFileRemoved, events.FileRemoved, map[string]any{
		"path": path,
	})
}

func (h *Hub) refresh(s *Session) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	for path := range s.paths {
		h.enqueue(path, job{target: s})
	}
}

func (h *Hub) pathHandler(path string) watcher.Handler {
	return func(ev watcher.Event) {
		// The watch step already produced the initial snapshot.
		if ev.Kind == watcher.EventDiscovered {
			return
		}
		select {
		case h.changes <- path:
		case <-h.done:
		}
	}
}

func (h *Hub) pathChanged(path string) {
	if _, ok := h.entries[path]; !ok {
		return
	}
	h.enqueue(path, job{})
}

// enqueue adds j to the queue of path. Broadcast jobs coalesce; replays do not.
func (h *Hub) enqueue(path string, j job) {
	q, ok := h.queues[path]
	if !ok {
		q = &pathQueue{}
		h.queues[path] = q
	}
	if j.target == nil {
		if q.broadcast {
			return
		}
		q.broadcast = true
	}
	q.jobs = append(q.jobs, j)
	if !q.running {
		h.startNext(path, q)
	}
}

func (h *Hub) startNext(path string, q *pathQueue) {
	e, ok := h.entries[path]
	if !ok || len(q.jobs) == 0 {
		delete(h.queues, path)
		return
	}

	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	if j.target == nil {
		q.broadcast = false
	}
	q.running = true

	ctx, gen, spec := h.ctx, e.gen, e.spec
	go func() {
		res := h.computer.Compute(ctx, path, spec)
		select {
		case h.results <- computeResult{path: path, gen: gen, job: j, result: res}:
		case <-h.done:
		}
	}()
}

func (h *Hub) computeDone(r computeResult) {
	if e, ok := h.entries[r.path]; ok && e.gen == r.gen {
		h.deliver(e, r.job, r.result)
	}

	q, ok := h.queues[r.path]
	if !ok {
		return
	}
	q.running = false
	h.startNext(r.path, q)
}

func (h *Hub) deliver(e *entry, j job, res *diff.Result) {
	msg := ws.NewFileUpdate(e.path, res.Content, res.Diff, res.OriginalContent, res.ModifiedContent, res.Error)

	if j.target != nil {
		if _, ok := h.sessions[j.target]; !ok {
			return
		}
		if _, ok := e.subscribers[j.target]; !ok && !j.connect {
			return
		}
		h.sendAll(msg, map[*Session]struct{}{j.target: {}})
		return
	}

	sent := h.sendAll(msg, e.subscribers)
	h.publish(events.SubjectFileUpdated, events.FileUpdated, map[string]any{
		"path":       e.path,
		"mode":       e.spec.Mode().String(),
		"error":      res.Error,
		"recipients": sent,
	})
}

// sendAll encodes msg once and sends it to every ready session in targets,
// or to every session when targets is nil. It returns the number of sends.
func (h *Hub) sendAll(msg any, targets map[*Session]struct{}) int {
	data, err := ws.Encode(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return 0
	}
	if targets == nil {
		targets = h.sessions
	}

	sent := 0
	for s := range targets {
		if !s.sink.Ready() {
			continue
		}
		if err := s.sink.Send(data); err != nil {
			h.logger.Debug("send failed", zap.String("session_id", s.id), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) publish(subject, eventType string, data map[string]any) {
	if h.eventBus == nil {
		return
	}
	if err := h.eventBus.Publish(h.ctx, subject, bus.NewEvent(eventType, events.Source, data)); err != nil {
		h.logger.Debug("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
