package history

import (
	"os"
	"path/filepath"
)

// repoMarker is the entry whose presence marks a repository root.
// It may be a directory or, for worktrees and submodules, a file.
const repoMarker = ".git"

// Locate walks up from the directory containing path and returns the first
// directory holding a repository marker. The filesystem root itself is not
// considered a candidate.
func Locate(path string) (string, bool) {
	dir := filepath.Dir(filepath.Clean(path))
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		if _, err := os.Stat(filepath.Join(dir, repoMarker)); err == nil {
			return dir, true
		}
		dir = parent
	}
}

// RelativePath resolves path against its repository. When no repository is
// found, root falls back to the containing directory and rel to the base name;
// history queries against that pair fail and are reported as soft failures.
func RelativePath(path string) (root, rel string, found bool) {
	path = filepath.Clean(path)
	root, found = Locate(path)
	if !found {
		return filepath.Dir(path), filepath.Base(path), false
	}
	r, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Dir(path), filepath.Base(path), false
	}
	return root, filepath.ToSlash(r), true
}
