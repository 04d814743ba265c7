package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/diff"
	"github.com/kandev/diffview/internal/events/bus"
	"github.com/kandev/diffview/internal/history"
	"github.com/kandev/diffview/internal/watcher"
)

// fakeSink records every frame it is sent.
type fakeSink struct {
	mu        sync.Mutex
	frames    [][]byte
	notReady  bool
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSink() *fakeSink {
	return &fakeSink{closed: make(chan struct{})}
}

func (s *fakeSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), data...))
	return nil
}

func (s *fakeSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.notReady
}

func (s *fakeSink) Closed() <-chan struct{} { return s.closed }

func (s *fakeSink) close() {
	s.mu.Lock()
	s.notReady = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSink) messages(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]map[string]any, 0, len(s.frames))
	for _, f := range s.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (s *fakeSink) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range s.messages(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// waitFrames waits until sink has received at least n frames.
func waitFrames(t *testing.T, sink *fakeSink, n int) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool { return sink.count() >= n }, 3*time.Second, 5*time.Millisecond,
		"expected %d frames", n)
	return sink.messages(t)
}

// expectNoMoreFrames asserts sink stays at n frames for a short while.
func expectNoMoreFrames(t *testing.T, sink *fakeSink, n int) {
	t.Helper()
	require.Never(t, func() bool { return sink.count() > n }, 150*time.Millisecond, 10*time.Millisecond)
}

// fakeBackend is a watcher backend driven by the test.
type fakeBackend struct {
	mu       sync.Mutex
	emitters map[string]func(watcher.Event)
	adds     map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		emitters: make(map[string]func(watcher.Event)),
		adds:     make(map[string]int),
	}
}

func (b *fakeBackend) Add(path string, emit func(watcher.Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adds[path]++
	b.emitters[path] = emit
	return nil
}

func (b *fakeBackend) Remove(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.emitters, path)
	return nil
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) addCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adds[path]
}

func (b *fakeBackend) fire(path string, kind watcher.EventKind) {
	b.mu.Lock()
	emit := b.emitters[path]
	b.mu.Unlock()
	if emit != nil {
		emit(watcher.Event{Path: path, Kind: kind})
	}
}

// fakeHistory answers every query with a string naming the query.
type fakeHistory struct{}

func (fakeHistory) Name() string { return "fake" }

func (fakeHistory) Diff(_ context.Context, _, from, to, _ string) (string, error) {
	if from == "missing" {
		return "", errors.New("unknown revision")
	}
	if to == history.WorkingTree {
		to = "worktree"
	}
	return "diff " + from + ".." + to, nil
}

func (fakeHistory) Show(_ context.Context, _, ref, _ string) (string, error) {
	if ref == "missing" {
		return "", errors.New("unknown revision")
	}
	return "content@" + ref, nil
}

// countingComputer wraps a Computer and counts calls.
type countingComputer struct {
	inner Computer
	calls int32
	gate  chan struct{} // when non-nil every call waits for it to close
}

func (c *countingComputer) Compute(ctx context.Context, path string, spec diff.Spec) *diff.Result {
	atomic.AddInt32(&c.calls, 1)
	if c.gate != nil {
		<-c.gate
	}
	return c.inner.Compute(ctx, path, spec)
}

func (c *countingComputer) count() int {
	return int(atomic.LoadInt32(&c.calls))
}

type testHub struct {
	*Hub
	backend  *fakeBackend
	pool     *watcher.Pool
	computer *countingComputer
	bus      *bus.MemoryEventBus
	cancel   context.CancelFunc
}

func newTestHub(t *testing.T, gate chan struct{}) *testHub {
	t.Helper()

	log := logger.Nop()
	backend := newFakeBackend()
	pool := watcher.NewPool(backend, log)
	computer := &countingComputer{inner: diff.NewEngine(fakeHistory{}, log), gate: gate}
	memBus := bus.NewMemoryEventBus(log)

	h := NewHub(computer, pool, memBus, log)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
		memBus.Close()
	})

	return &testHub{Hub: h, backend: backend, pool: pool, computer: computer, bus: memBus, cancel: cancel}
}

func (th *testHub) connect(t *testing.T) (*Session, *fakeSink) {
	t.Helper()
	sink := newFakeSink()
	s, err := th.Connect(sink)
	require.NoError(t, err)
	return s, sink
}

// inspect runs fn on the hub loop and waits for it.
func (th *testHub) inspect(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, th.submit(func() {
		fn()
		close(done)
	}))
	<-done
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
