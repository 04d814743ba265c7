package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/diffview/internal/common/logger"
	"github.com/kandev/diffview/internal/tracing"
)

// GitCLI answers history queries by running the git binary in the repository root.
type GitCLI struct {
	binary  string
	timeout time.Duration
	logger  *logger.Logger
}

// NewGitCLI creates a backend that runs binary (usually "git").
// A non-positive timeout disables the per-query deadline.
func NewGitCLI(binary string, timeout time.Duration, log *logger.Logger) *GitCLI {
	if binary == "" {
		binary = "git"
	}
	return &GitCLI{
		binary:  binary,
		timeout: timeout,
		logger:  log.WithFields(zap.String("component", "git-cli")),
	}
}

// Name implements History.
func (g *GitCLI) Name() string { return "cli" }

// Diff implements History.
func (g *GitCLI) Diff(ctx context.Context, root, from, to, rel string) (out string, err error) {
	ctx, span := tracing.TraceHistoryQuery(ctx, g.Name(), "diff", from+".."+to)
	defer func() {
		tracing.TraceResult(span, err)
		span.End()
	}()

	if err := ValidateRef(from); err != nil {
		return "", err
	}
	rev := from
	if to != WorkingTree {
		if err := ValidateRef(to); err != nil {
			return "", err
		}
		rev = from + ".." + to
	}
	return g.runGitCommand(ctx, root, "diff", "--no-color", "--no-ext-diff", rev, "--", rel)
}

// Show implements History.
func (g *GitCLI) Show(ctx context.Context, root, ref, rel string) (out string, err error) {
	ctx, span := tracing.TraceHistoryQuery(ctx, g.Name(), "show", ref)
	defer func() {
		tracing.TraceResult(span, err)
		span.End()
	}()

	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	return g.runGitCommand(ctx, root, "show", ref+":"+rel)
}

// runGitCommand executes git in dir and returns stdout.
// On failure the error carries git's stderr.
func (g *GitCLI) runGitCommand(ctx context.Context, dir string, args ...string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = dir
	cmd.Env = filterGitEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Debug("executing git command", zap.String("dir", dir), zap.Strings("args", args))

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return "", fmt.Errorf("git %s: %s", args[0], msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

// filterGitEnv removes GIT_DIR and GIT_WORK_TREE from the environment so git
// discovers the repository from the working directory.
func filterGitEnv(env []string) []string {
	result := make([]string, 0, len(env))
	for _, e := range env {
		if strings.HasPrefix(e, "GIT_DIR=") || strings.HasPrefix(e, "GIT_WORK_TREE=") {
			continue
		}
		result = append(result, e)
	}
	return result
}
