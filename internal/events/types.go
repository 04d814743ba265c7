// Package events defines the subjects and event types mirrored onto the event bus.
package events

// Subjects
const (
	SubjectFileUpdated         = "diffview.file.updated"
	SubjectFileRemoved         = "diffview.file.removed"
	SubjectSessionConnected    = "diffview.session.connected"
	SubjectSessionDisconnected = "diffview.session.disconnected"

	// SubjectAll matches every diffview subject.
	SubjectAll = "diffview.>"
)

// Event types
const (
	FileUpdated         = "file.updated"
	FileRemoved         = "file.removed"
	SessionConnected    = "session.connected"
	SessionDisconnected = "session.disconnected"
)

// Source is the producer name stamped on every event.
const Source = "diffview-hub"
