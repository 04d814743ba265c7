package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/tracing"
)

// blobCacheSize bounds the number of decoded blobs kept in memory.
const blobCacheSize = 256

// GoGit answers history queries in-process with go-git, without a git binary.
// Blob contents are cached by object hash, so entries never go stale.
type GoGit struct {
	blobs  *lru.Cache[plumbing.Hash, string]
	logger *logger.Logger
}

// NewGoGit creates a go-git backed History.
func NewGoGit(log *logger.Logger) *GoGit {
	blobs, err := lru.New[plumbing.Hash, string](blobCacheSize)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &GoGit{
		blobs:  blobs,
		logger: log.WithFields(zap.String("component", "git-gogit")),
	}
}

// Name implements History.
func (g *GoGit) Name() string { return "gogit" }

// Show implements History.
func (g *GoGit) Show(ctx context.Context, root, ref, rel string) (out string, err error) {
	_, span := tracing.TraceHistoryQuery(ctx, g.Name(), "show", ref)
	defer func() {
		tracing.TraceResult(span, err)
		span.End()
	}()

	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	repo, err := g.open(root)
	if err != nil {
		return "", err
	}
	commit, err := resolveCommit(repo, ref)
	if err != nil {
		return "", err
	}
	return g.fileAtCommit(commit, rel)
}

// Diff implements History.
func (g *GoGit) Diff(ctx context.Context, root, from, to, rel string) (out string, err error) {
	ctx, span := tracing.TraceHistoryQuery(ctx, g.Name(), "diff", from+".."+to)
	defer func() {
		tracing.TraceResult(span, err)
		span.End()
	}()

	if err := ValidateRef(from); err != nil {
		return "", err
	}
	if to != WorkingTree {
		if err := ValidateRef(to); err != nil {
			return "", err
		}
	}

	repo, err := g.open(root)
	if err != nil {
		return "", err
	}
	fromCommit, err := resolveCommit(repo, from)
	if err != nil {
		return "", err
	}

	if to == WorkingTree {
		return g.diffWorkingTree(fromCommit, root, rel)
	}

	toCommit, err := resolveCommit(repo, to)
	if err != nil {
		return "", err
	}
	patch, err := fromCommit.PatchContext(ctx, toCommit)
	if err != nil {
		return "", fmt.Errorf("compute patch %s..%s: %w", from, to, err)
	}
	return encodePatch(filterPatch(patch, rel))
}

// diffWorkingTree compares rel at commit with the file on disk.
func (g *GoGit) diffWorkingTree(commit *object.Commit, root, rel string) (string, error) {
	var oldContent *string
	if content, err := g.fileAtCommit(commit, rel); err == nil {
		oldContent = &content
	} else if !errors.Is(err, ErrFileNotFound) {
		return "", err
	}

	var newContent *string
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	switch {
	case err == nil:
		s := string(data)
		newContent = &s
	case errors.Is(err, os.ErrNotExist):
	default:
		return "", err
	}

	fp := newWorktreeFilePatch(rel, oldContent, newContent)
	if fp == nil {
		return "", nil
	}
	return encodePatch(&filePatchSet{patches: []fdiff.FilePatch{fp}})
}

func (g *GoGit) open(root string) (*gogit.Repository, error) {
	g.logger.Debug("opening repository", zap.String("root", root))
	repo, err := gogit.PlainOpen(root)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w at %s", ErrNoRepository, root)
		}
		return nil, fmt.Errorf("open repository %s: %w", root, err)
	}
	return repo, nil
}

func resolveCommit(repo *gogit.Repository, ref string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", ref, err)
	}
	return commit, nil
}

func (g *GoGit) fileAtCommit(commit *object.Commit, rel string) (string, error) {
	tree, err := commit.Tree()
	if err != nil {
		return "", err
	}
	file, err := tree.File(rel)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, rel)
		}
		return "", err
	}
	if content, ok := g.blobs.Get(file.Hash); ok {
		return content, nil
	}
	content, err := file.Contents()
	if err != nil {
		return "", err
	}
	g.blobs.Add(file.Hash, content)
	return content, nil
}

// filterPatch keeps the file patches that touch rel on either side.
func filterPatch(patch *object.Patch, rel string) *filePatchSet {
	set := &filePatchSet{}
	for _, fp := range patch.FilePatches() {
		from, to := fp.Files()
		if (from != nil && from.Path() == rel) || (to != nil && to.Path() == rel) {
			set.patches = append(set.patches, fp)
		}
	}
	return set
}

func encodePatch(p fdiff.Patch) (string, error) {
	if len(p.FilePatches()) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	if err := fdiff.NewUnifiedEncoder(&buf, fdiff.DefaultContextLines).Encode(p); err != nil {
		return "", fmt.Errorf("encode patch: %w", err)
	}
	return buf.String(), nil
}
