package subscription

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/diffview/internal/diff"
	"github.com/kandev/diffview/internal/events"
	"github.com/kandev/diffview/internal/events/bus"
	"github.com/kandev/diffview/internal/watcher"
)

func TestHub_WatchTwiceSharesWatcher(t *testing.T) {
	th := newTestHub(t, nil)
	path := writeTemp(t, "a.txt", "hello\n")
	s, sink := th.connect(t)

	require.NoError(t, th.Watch(s, path, diff.Spec{}))
	require.NoError(t, th.Watch(s, path, diff.Spec{}))

	msgs := waitFrames(t, sink, 2)
	expectNoMoreFrames(t, sink, 2)

	for _, m := range msgs {
		assert.Equal(t, "fileUpdate", m["type"])
		assert.Equal(t, path, m["absolutePath"])
		assert.Equal(t, "a.txt", m["filename"])
		assert.Equal(t, "hello\n", m["content"])
	}
	assert.Equal(t, 1, th.backend.addCount(path))
	assert.Equal(t, 1, th.pool.Len())
	assert.Equal(t, 2, th.computer.count())
}

func TestHub_ReferenceCountedLifecycle(t *testing.T) {
	th := newTestHub(t, nil)
	path := writeTemp(t, "a.txt", "x")

	var sessions []*Session
	var sinks []*fakeSink
	for i := 0; i < 3; i++ {
		s, sink := th.connect(t)
		require.NoError(t, th.Watch(s, path, diff.Spec{}))
		waitFrames(t, sink, 1)
		sessions = append(sessions, s)
		sinks = append(sinks, sink)
	}
	assert.Equal(t, 1, th.backend.addCount(path))

	require.NoError(t, th.Unwatch(sessions[0], path))
	require.NoError(t, th.Unwatch(sessions[1], path))
	th.inspect(t, func() {})

	assert.True(t, th.pool.Has(path), "watcher stays while one subscriber remains")
	for _, sink := range sinks {
		assert.Empty(t, sink.ofType(t, "fileRemoved"))
	}

	require.NoError(t, th.Unwatch(sessions[2], path))
	th.inspect(t, func() {})

	assert.False(t, th.pool.Has(path))
	assert.Equal(t, 0, th.Stats().WatchedPaths)
	for _, sink := range sinks {
		removed := sink.ofType(t, "fileRemoved")
		require.Len(t, removed, 1, "removal goes to every ready session")
		assert.Equal(t, path, removed[0]["absolutePath"])
	}
}

func TestHub_UnwatchUnknownPathIsNoop(t *testing.T) {
	th := newTestHub(t, nil)
	s, sink := th.connect(t)

	require.NoError(t, th.Unwatch(s, "/not/watched"))
	th.inspect(t, func() {})

	assert.Equal(t, 0, sink.count())
}

func TestHub_PathIsolation(t *testing.T) {
	th := newTestHub(t, nil)
	pathA := writeTemp(t, "a.txt", "a")
	pathB := writeTemp(t, "b.txt", "b")

	sA, sinkA := th.connect(t)
	sB, sinkB := th.connect(t)
	require.NoError(t, th.Watch(sA, pathA, diff.Spec{}))
	require.NoError(t, th.Watch(sB, pathB, diff.Spec{}))
	waitFrames(t, sinkA, 1)
	waitFrames(t, sinkB, 1)

	th.backend.fire(pathA, watcher.EventChanged)

	msgs := waitFrames(t, sinkA, 2)
	assert.Equal(t, pathA, msgs[1]["absolutePath"])
	expectNoMoreFrames(t, sinkB, 1)
	for _, m := range sinkA.messages(t) {
		assert.Equal(t, pathA, m["absolutePath"])
	}
}

func TestHub_ChangeBroadcastsToAllSubscribers(t *testing.T) {
	th := newTestHub(t, nil)
	path := writeTemp(t, "a.txt", "v1")

	s1, sink1 := th.connect(t)
	s2, sink2 := th.connect(t)
	_, sink3 := th.connect(t)
	require.NoError(t, th.Watch(s1, path, diff.Spec{}))
	require.NoError(t, th.Watch(s2, path, diff.Spec{}))
	waitFrames(t, sink1, 1)
	waitFrames(t, sink2, 1)

	require.NoError(t, writeFile(path, "v2"))
	th.backend.fire(path, watcher.EventChanged)

	m1 := waitFrames(t, sink1, 2)
	m2 := waitFrames(t, sink2, 2)
	assert.Equal(t, "v2", m1[1]["content"])
	assert.Equal(t, "v2", m2[1]["content"])
	expectNoMoreFrames(t, sink3, 0)
}

func TestHub_DiscoveredEventIsIgnored(t *testing.T) {
	th := newTestHub(t, nil)
	path := writeTemp(t, "a.txt", "a")
	s, sink := th.connect(t)

	require.NoError(t, th.Watch(s, path, diff.Spec{}))
	waitFrames(t, sink, 1)

	th.backend.fire(path, watcher.EventDiscovered)
	expectNoMoreFrames(t, sink, 1)
}

func TestHub_DisconnectCleanup(t *testing.T) {
	th := newTestHub(t, nil)
	pathA := writeTemp(t, "a.txt", "a")
	pathB := writeTemp(t, "b.txt", "b")

	leaving, leavingSink := th.connect(t)
	staying, stayingSink := th.connect(t)
	require.NoError(t, th.Watch(leaving, pathA, diff.Spec{}))
	require.NoError(t, th.Watch(leaving, pathB, diff.Spec{}))
	require.NoError(t, th.Watch(staying, pathB, diff.Spec{}))
	waitFrames(t, leavingSink, 2)
	waitFrames(t, stayingSink, 1)

	leavingSink.close()

	require.Eventually(t, func() bool { return th.Stats().Sessions == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.False(t, th.pool.Has(pathA), "sole subscriber left")
	assert.True(t, th.pool.Has(pathB))

	st := th.Stats()
	assert.Equal(t, 1, st.WatchedPaths)
	assert.Equal(t, 1, st.Watchers)

	removed := stayingSink.ofType(t, "fileRemoved")
	require.Len(t, removed, 1)
	assert.Equal(t, pathA, removed[0]["absolutePath"])

	var subscribers int
	th.inspect(t, func() { subscribers = len(th.entries[pathB].subscribers) })
	assert.Equal(t, 1, subscribers, "decremented exactly once")

	// A second disconnect of the same session changes nothing.
	require.NoError(t, th.Disconnect(leaving))
	assert.Equal(t, 1, th.Stats().WatchedPaths)
}

func TestHub_ComparisonModes(t *testing.T) {
	th := newTestHub(t, nil)
	s, sink := th.connect(t)

	unspecified := writeTemp(t, "u.txt", "live-u")
	single := writeTemp(t, "s.txt", "live-s")
	ranged := writeTemp(t, "r.txt", "live-r")

	th.HandleMessage(s, []byte(fmt.Sprintf(`{"type":"watch","absolutePath":%q}`, unspecified)))
	waitFrames(t, sink, 1)
	th.HandleMessage(s, []byte(fmt.Sprintf(`{"type":"watch","absolutePath":%q,"prevBranch":"v1"}`, single)))
	waitFrames(t, sink, 2)
	th.HandleMessage(s, []byte(fmt.Sprintf(`{"type":"watch","absolutePath":%q,"prevBranch":"v1","currBranch":"v2"}`, ranged)))
	msgs := waitFrames(t, sink, 3)

	byPath := map[string]map[string]any{}
	for _, m := range msgs {
		byPath[m["absolutePath"].(string)] = m
	}

	u := byPath[unspecified]
	assert.Equal(t, "diff HEAD..worktree", u["diff"])
	assert.Equal(t, "content@HEAD", u["originalContent"])
	assert.Equal(t, "live-u", u["modifiedContent"])
	assert.Equal(t, "live-u", u["content"])

	sg := byPath[single]
	assert.Equal(t, "diff v1..worktree", sg["diff"])
	assert.Equal(t, "content@v1", sg["originalContent"])
	assert.Equal(t, "live-s", sg["modifiedContent"])
	assert.Equal(t, "live-s", sg["content"])

	r := byPath[ranged]
	assert.Equal(t, "diff v1..v2", r["diff"])
	assert.Equal(t, "content@v1", r["originalContent"])
	assert.Equal(t, "content@v2", r["modifiedContent"])
	assert.Equal(t, "live-r", r["content"], "content stays live in range mode")
}

func TestHub_SpecFixedForEntryLifetime(t *testing.T) {
	th := newTestHub(t, nil)
	path := writeTemp(t, "a.txt", "a")
	s1, sink1 := th.connect(t)
	s2, sink2 := th.connect(t)

	require.NoError(t, th.Watch(s1, path, diff.NewSpec("v1", "")))
	waitFrames(t, sink1, 1)
	require.NoError(t, th.Watch(s2, path, diff.NewSpec("v7", "v8")))
	msgs := waitFrames(t, sink2, 1)

	assert.Equal(t, "diff v1..worktree", msgs[0]["diff"])
}

func TestHub_ErrorContainment(t *testing.T) {
	th := newTestHub(t, nil)
	s, sink := th.connect(t)
	missing := filepath.Join(t.TempDir(), "nope.txt")

	require.NoError(t, th.Watch(s, missing, diff.Spec{}))
	msgs := waitFrames(t, sink, 1)

	assert.Equal(t, "fileUpdate", msgs[0]["type"])
	assert.True(t, strings.HasPrefix(msgs[0]["error"].(string), "Error reading file: "))
	assert.Equal(t, "", msgs[0]["content"])
	assert.Equal(t, "", msgs[0]["diff"])
	assert.True(t, th.pool.Has(missing), "subscription stays registered for a late-created file")

	// The session keeps working.
	ok := writeTemp(t, "ok.txt", "fine")
	require.NoError(t, th.Watch(s, ok, diff.Spec{}))
	msgs = waitFrames(t, sink, 2)
	assert.Equal(t, "fine", msgs[1]["content"])

	// Once the file appears a change event delivers it.
	require.NoError(t, writeFile(missing, "now here"))
	th.backend.fire(missing, watcher.EventChanged)
	msgs = waitFrames(t, sink, 3)
	assert.Equal(t, "now here", msgs[2]["content"])
	_, hasError := msgs[2]["error"]
	assert.False(t, hasError)
}

func TestHub_HistoryFailureIsSoft(t *testing.T) {
	th := newTestHub(t, nil)
	s, sink := th.connect(t)
	path := writeTemp(t, "a.txt", "a")

	require.NoError(t, th.Watch(s, path, diff.NewSpec("missing", "")))
	msgs := waitFrames(t, sink, 1)

	assert.Equal(t, "Error generating git diff: unknown revision", msgs[0]["diff"])
	assert.Equal(t, "", msgs[0]["originalContent"])
	assert.Equal(t, "a", msgs[0]["content"])
}

func TestHub_RefreshRecomputes(t *testing.T) {
	th := newTestHub(t, nil)
	pathA := writeTemp(t, "a.txt", "a")
	pathB := writeTemp(t, "b.txt", "b")

	s, sink := th.connect(t)
	other, otherSink := th.connect(t)
	require.NoError(t, th.Watch(s, pathA, diff.Spec{}))
	require.NoError(t, th.Watch(s, pathB, diff.Spec{}))
	require.NoError(t, th.Watch(other, pathA, diff.Spec{}))
	waitFrames(t, sink, 2)
	waitFrames(t, otherSink, 1)
	before := th.computer.count()

	th.HandleMessage(s, []byte(`{"type":"refresh"}`))

	msgs := waitFrames(t, sink, 4)
	assert.Equal(t, before+2, th.computer.count())
	refreshed := map[string]bool{}
	for _, m := range msgs[2:] {
		refreshed[m["absolutePath"].(string)] = true
	}
	assert.Equal(t, map[string]bool{pathA: true, pathB: true}, refreshed)
	expectNoMoreFrames(t, otherSink, 1)
}

func TestHub_ReplayOnConnect(t *testing.T) {
	th := newTestHub(t, nil)
	pathA := writeTemp(t, "a.txt", "a")
	pathB := writeTemp(t, "b.txt", "b")

	s, sink := th.connect(t)
	require.NoError(t, th.Watch(s, pathA, diff.Spec{}))
	require.NoError(t, th.Watch(s, pathB, diff.Spec{}))
	waitFrames(t, sink, 2)

	_, lateSink := th.connect(t)
	msgs := waitFrames(t, lateSink, 2)

	got := map[string]string{}
	for _, m := range msgs {
		got[m["absolutePath"].(string)] = m["content"].(string)
	}
	assert.Equal(t, map[string]string{pathA: "a", pathB: "b"}, got)
	expectNoMoreFrames(t, sink, 2)
}

func TestHub_MalformedAndUnknownMessages(t *testing.T) {
	th := newTestHub(t, nil)
	s, sink := th.connect(t)

	for _, frame := range []string{
		`not json`,
		`{"absolutePath":"/a"}`,
		`{"type":"watch"}`,
		`{"type":"watch","absolutePath":"relative/a.txt"}`,
		`{"type":"subscribe","absolutePath":"/a"}`,
	} {
		th.HandleMessage(s, []byte(frame))
	}
	th.inspect(t, func() {})

	assert.Equal(t, 0, sink.count())
	st := th.Stats()
	assert.Equal(t, 0, st.WatchedPaths)
	assert.Equal(t, 1, st.Sessions, "connection stays open")
}

func TestHub_NotReadySessionsAreSkipped(t *testing.T) {
	th := newTestHub(t, nil)
	path := writeTemp(t, "a.txt", "a")

	s, sink := th.connect(t)
	_, idle := th.connect(t)
	idle.mu.Lock()
	idle.notReady = true
	idle.mu.Unlock()

	require.NoError(t, th.Watch(s, path, diff.Spec{}))
	waitFrames(t, sink, 1)
	require.NoError(t, th.Unwatch(s, path))

	msgs := waitFrames(t, sink, 2)
	assert.Equal(t, "fileRemoved", msgs[len(msgs)-1]["type"])
	assert.Equal(t, 0, idle.count())
}

func TestHub_BroadcastsCoalesceWhileComputing(t *testing.T) {
	gate := make(chan struct{})
	th := newTestHub(t, gate)
	path := writeTemp(t, "a.txt", "a")
	s, sink := th.connect(t)

	require.NoError(t, th.Watch(s, path, diff.Spec{}))
	require.Eventually(t, func() bool { return th.computer.count() == 1 }, 3*time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		th.backend.fire(path, watcher.EventChanged)
	}
	require.Eventually(t, func() bool {
		var pending int
		var drained bool
		th.inspect(t, func() {
			drained = len(th.changes) == 0
			if q, ok := th.queues[path]; ok {
				pending = len(q.jobs)
			}
		})
		return drained && pending == 1
	}, 3*time.Second, 5*time.Millisecond)

	close(gate)

	waitFrames(t, sink, 2)
	expectNoMoreFrames(t, sink, 2)
	assert.Equal(t, 2, th.computer.count(), "one replay plus one coalesced broadcast")
}

func TestHub_RepeatedWatchesAreNotCoalesced(t *testing.T) {
	gate := make(chan struct{})
	th := newTestHub(t, gate)
	path := writeTemp(t, "a.txt", "a")
	s, sink := th.connect(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, th.Watch(s, path, diff.Spec{}))
	}
	th.inspect(t, func() {})
	close(gate)

	waitFrames(t, sink, 3)
	expectNoMoreFrames(t, sink, 3)
}

func TestHub_StaleResultDroppedAfterRemoval(t *testing.T) {
	gate := make(chan struct{})
	th := newTestHub(t, gate)
	path := writeTemp(t, "a.txt", "a")
	s, sink := th.connect(t)

	require.NoError(t, th.Watch(s, path, diff.Spec{}))
	require.Eventually(t, func() bool { return th.computer.count() == 1 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, th.Unwatch(s, path))
	waitFrames(t, sink, 1)

	close(gate)
	expectNoMoreFrames(t, sink, 1)
	assert.Equal(t, "fileRemoved", sink.messages(t)[0]["type"])

	var queues int
	require.Eventually(t, func() bool {
		th.inspect(t, func() { queues = len(th.queues) })
		return queues == 0
	}, 3*time.Second, 5*time.Millisecond)
}

func TestHub_ReplayDroppedAfterSessionUnwatches(t *testing.T) {
	gate := make(chan struct{})
	th := newTestHub(t, gate)
	path := writeTemp(t, "a.txt", "a")
	sa, sinkA := th.connect(t)
	sb, sinkB := th.connect(t)

	require.NoError(t, th.Watch(sa, path, diff.Spec{}))
	require.Eventually(t, func() bool { return th.computer.count() == 1 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, th.Watch(sb, path, diff.Spec{}))
	require.NoError(t, th.Unwatch(sa, path))
	th.inspect(t, func() {})

	close(gate)

	frames := waitFrames(t, sinkB, 1)
	assert.Equal(t, "fileUpdate", frames[0]["type"])
	expectNoMoreFrames(t, sinkB, 1)
	expectNoMoreFrames(t, sinkA, 0)
}

func TestHub_RefreshReplayDroppedAfterUnwatch(t *testing.T) {
	gate := make(chan struct{})
	th := newTestHub(t, gate)
	path := writeTemp(t, "a.txt", "a")
	sa, sinkA := th.connect(t)
	sb, _ := th.connect(t)

	require.NoError(t, th.Watch(sb, path, diff.Spec{}))
	require.NoError(t, th.Watch(sa, path, diff.Spec{}))
	require.NoError(t, th.Refresh(sa))
	require.NoError(t, th.Unwatch(sa, path))
	th.inspect(t, func() {})

	close(gate)

	require.Eventually(t, func() bool { return th.computer.count() == 3 }, 3*time.Second, 5*time.Millisecond)
	expectNoMoreFrames(t, sinkA, 0)
}

func TestHub_PublishesEvents(t *testing.T) {
	th := newTestHub(t, nil)
	path := writeTemp(t, "a.txt", "a")

	received := make(chan *bus.Event, 16)
	_, err := th.bus.Subscribe(events.SubjectAll, func(_ context.Context, e *bus.Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	s, sink := th.connect(t)
	require.NoError(t, th.Watch(s, path, diff.Spec{}))
	waitFrames(t, sink, 1)
	th.backend.fire(path, watcher.EventChanged)
	waitFrames(t, sink, 2)
	require.NoError(t, th.Unwatch(s, path))

	seen := map[string]bool{}
	deadline := time.After(3 * time.Second)
	for len(seen) < 3 {
		select {
		case e := <-received:
			seen[e.Type] = true
		case <-deadline:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
	assert.True(t, seen[events.SessionConnected])
	assert.True(t, seen[events.FileUpdated])
	assert.True(t, seen[events.FileRemoved])
}

func TestHub_StoppedHubRejectsOperations(t *testing.T) {
	th := newTestHub(t, nil)
	path := writeTemp(t, "a.txt", "a")
	s, sink := th.connect(t)
	require.NoError(t, th.Watch(s, path, diff.Spec{}))
	waitFrames(t, sink, 1)

	th.cancel()
	<-th.Done()

	assert.Equal(t, 0, th.pool.Len(), "watchers released on stop")
	assert.True(t, errors.Is(th.Watch(s, path, diff.Spec{}), ErrHubClosed))
	_, err := th.Connect(newFakeSink())
	assert.True(t, errors.Is(err, ErrHubClosed))
	assert.Equal(t, Stats{}, th.Stats())
}
