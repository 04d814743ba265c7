// Package diff produces the content and version-control diff for a watched file.
package diff

import "github.com/kandev/diffview/internal/history"

// Mode is the comparison mode of a watched path.
type Mode int

const (
	// ModeUnspecified compares the latest commit with the working tree.
	ModeUnspecified Mode = iota
	// ModeSingle compares one reference with the working tree.
	ModeSingle
	// ModeRange compares two references.
	ModeRange
)

// HeadRef is the reference used when no comparison point was given.
const HeadRef = "HEAD"

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeRange:
		return "range"
	default:
		return "unspecified"
	}
}

// Spec is the comparison specification chosen when a path is first watched.
// The zero value is the unspecified mode.
type Spec struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// NewSpec derives a Spec from the optional references of a watch request.
// A to reference without a from reference is ignored.
func NewSpec(from, to string) Spec {
	if from == "" {
		return Spec{}
	}
	return Spec{From: from, To: to}
}

// Mode reports which comparison this Spec selects.
func (s Spec) Mode() Mode {
	switch {
	case s.From == "":
		return ModeUnspecified
	case s.To == "":
		return ModeSingle
	default:
		return ModeRange
	}
}

// refs returns the diff endpoints and the reference the original snapshot is
// taken from. A to of history.WorkingTree means the live file.
func (s Spec) refs() (from, to string) {
	switch s.Mode() {
	case ModeRange:
		return s.From, s.To
	case ModeSingle:
		return s.From, history.WorkingTree
	default:
		return HeadRef, history.WorkingTree
	}
}

// Result is one computation for a path. It is never cached.
type Result struct {
	Content         string
	Diff            string
	OriginalContent string
	ModifiedContent string
	Error           string
}
