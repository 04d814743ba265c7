package diff

import (
	"context"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/history"
	"github.com/kandev/diffview/internal/tracing"
)

const (
	readErrorPrefix = "Error reading file: "
	diffErrorPrefix = "Error generating git diff: "
)

// Engine computes Results from the live file and a History backend.
type Engine struct {
	history  history.History
	logger   *logger.Logger
	readFile func(string) ([]byte, error)
}

// NewEngine creates a diff engine backed by h.
func NewEngine(h history.History, log *logger.Logger) *Engine {
	return &Engine{
		history:  h,
		logger:   log.WithFields(zap.String("component", "diff-engine"), zap.String("backend", h.Name())),
		readFile: os.ReadFile,
	}
}

// Compute reads path and queries history according to spec.
// It never fails: read errors become Result.Error, diff errors are embedded in
// Result.Diff and snapshot errors leave that snapshot empty.
func (e *Engine) Compute(ctx context.Context, path string, spec Spec) *Result {
	mode := spec.Mode()
	ctx, span := tracing.TraceDiffCompute(ctx, path, mode.String())
	defer span.End()

	data, err := e.readFile(path)
	if err != nil {
		tracing.TraceResult(span, err)
		return &Result{Error: readErrorPrefix + err.Error()}
	}
	content := string(data)

	root, rel, found := history.RelativePath(path)
	log := e.logger.WithPath(path)
	if !found {
		log.Debug("no repository found, history queries will fail")
	}

	from, to := spec.refs()
	res := &Result{Content: content, ModifiedContent: content}

	var g errgroup.Group
	g.Go(func() error {
		d, err := e.history.Diff(ctx, root, from, to, rel)
		if err != nil {
			log.Debug("history diff failed", zap.Error(err))
			res.Diff = diffErrorPrefix + err.Error()
			return nil
		}
		res.Diff = d
		return nil
	})
	g.Go(func() error {
		res.OriginalContent = e.show(ctx, log, root, from, rel)
		return nil
	})
	if to != history.WorkingTree {
		g.Go(func() error {
			res.ModifiedContent = e.show(ctx, log, root, to, rel)
			return nil
		})
	}
	_ = g.Wait()

	return res
}

func (e *Engine) show(ctx context.Context, log *logger.Logger, root, ref, rel string) string {
	out, err := e.history.Show(ctx, root, ref, rel)
	if err != nil {
		log.Debug("history show failed", zap.String("ref", ref), zap.Error(err))
		return ""
	}
	return out
}
