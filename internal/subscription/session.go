package subscription

import "github.com/google/uuid"

// Sink is the transport capability a session needs. Send must not block for
// long; the hub calls it from its event loop.
type Sink interface {
	Send(data []byte) error
	Ready() bool
	Closed() <-chan struct{}
}

// Session is one connected viewer. Its path set is owned by the hub loop and
// only used to clean up on disconnect.
type Session struct {
	id    string
	sink  Sink
	paths map[string]struct{}
}

func newSession(sink Sink) *Session {
	return &Session{
		id:    uuid.New().String(),
		sink:  sink,
		paths: make(map[string]struct{}),
	}
}

// ID returns the session identifier used in logs and events.
func (s *Session) ID() string { return s.id }
