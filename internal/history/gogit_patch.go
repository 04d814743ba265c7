package history

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// filePatchSet is a fdiff.Patch over an arbitrary list of file patches.
type filePatchSet struct {
	patches []fdiff.FilePatch
}

func (s *filePatchSet) FilePatches() []fdiff.FilePatch { return s.patches }
func (s *filePatchSet) Message() string                { return "" }

// blobFile describes one side of a working tree comparison.
type blobFile struct {
	path string
	hash plumbing.Hash
}

func (f *blobFile) Hash() plumbing.Hash     { return f.hash }
func (f *blobFile) Mode() filemode.FileMode { return filemode.Regular }
func (f *blobFile) Path() string            { return f.path }

type textChunk struct {
	content string
	op      fdiff.Operation
}

func (c *textChunk) Content() string       { return c.content }
func (c *textChunk) Type() fdiff.Operation { return c.op }

// worktreeFilePatch is a text patch between a committed blob and the file on disk.
type worktreeFilePatch struct {
	from, to *blobFile
	chunks   []fdiff.Chunk
}

func (p *worktreeFilePatch) IsBinary() bool { return false }

func (p *worktreeFilePatch) Files() (fdiff.File, fdiff.File) {
	// A nil *blobFile must surface as a nil interface, not a typed nil.
	var from, to fdiff.File
	if p.from != nil {
		from = p.from
	}
	if p.to != nil {
		to = p.to
	}
	return from, to
}

func (p *worktreeFilePatch) Chunks() []fdiff.Chunk { return p.chunks }

// newWorktreeFilePatch builds a patch for rel; nil content means the side is absent.
// It returns nil when both sides are equal or both absent.
func newWorktreeFilePatch(rel string, oldContent, newContent *string) fdiff.FilePatch {
	if oldContent == nil && newContent == nil {
		return nil
	}
	if oldContent != nil && newContent != nil && *oldContent == *newContent {
		return nil
	}

	var oldText, newText string
	p := &worktreeFilePatch{}
	if oldContent != nil {
		oldText = *oldContent
		p.from = &blobFile{path: rel, hash: plumbing.ComputeHash(plumbing.BlobObject, []byte(oldText))}
	}
	if newContent != nil {
		newText = *newContent
		p.to = &blobFile{path: rel, hash: plumbing.ComputeHash(plumbing.BlobObject, []byte(newText))}
	}

	for _, d := range diff.Do(oldText, newText) {
		op := fdiff.Equal
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = fdiff.Add
		case diffmatchpatch.DiffDelete:
			op = fdiff.Delete
		}
		p.chunks = append(p.chunks, &textChunk{content: d.Text, op: op})
	}
	return p
}
