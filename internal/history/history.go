// Package history answers version-control questions about a single file:
// where its repository root is, what it looked like at a reference, and how
// it differs between two states.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrInvalidRef is returned for references that are unsafe to pass to git.
	ErrInvalidRef = errors.New("invalid git reference")

	// ErrNoRepository is returned when a query targets a directory with no repository.
	ErrNoRepository = errors.New("no git repository")

	// ErrFileNotFound is returned when the file does not exist at the reference.
	ErrFileNotFound = errors.New("file not found at reference")
)

// WorkingTree is the "to" value meaning the current on-disk state.
const WorkingTree = ""

// History is the capability the diff engine needs from a version-control backend.
// Paths are repository-relative and slash-separated; root is the repository root.
type History interface {
	// Diff returns the unified diff of rel between from and to.
	// A to of WorkingTree compares from against the working tree.
	Diff(ctx context.Context, root, from, to, rel string) (string, error)

	// Show returns the full content of rel at ref.
	Show(ctx context.Context, root, ref, rel string) (string, error)

	// Name identifies the backend in logs and traces.
	Name() string
}

// ValidateRef rejects references that git would read as options or ranges.
func ValidateRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRef)
	}
	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("%w: %q starts with '-'", ErrInvalidRef, ref)
	}
	if strings.Contains(ref, "..") {
		return fmt.Errorf("%w: %q contains '..'", ErrInvalidRef, ref)
	}
	for _, r := range ref {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidRef, ref)
		}
	}
	return nil
}
