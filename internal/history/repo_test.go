package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// testRepo is a throwaway repository with a linear history of a.txt.
type testRepo struct {
	root    string
	commits []string
}

func newTestRepo(t *testing.T, versions ...string) *testRepo {
	t.Helper()

	root := t.TempDir()
	repo, err := gogit.PlainInit(root, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	tr := &testRepo{root: root}
	for i, content := range versions {
		tr.write(t, "a.txt", content)
		_, err = wt.Add("a.txt")
		require.NoError(t, err)
		hash, err := wt.Commit("version", &gogit.CommitOptions{
			Author: &object.Signature{
				Name:  "test",
				Email: "test@example.com",
				When:  time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
			},
		})
		require.NoError(t, err)
		tr.commits = append(tr.commits, hash.String())
	}
	return tr
}

func (r *testRepo) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(r.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
