// Package editors opens files from the viewer in a local editor.
package editors

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kandev/diffview/internal/common/config"
	"github.com/kandev/diffview/internal/common/logger"
)

var (
	ErrPathRequired        = errors.New("filepath is required")
	ErrEditorNotConfigured = errors.New("no editor command configured")
)

// runFunc runs a command to completion and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Service launches the configured editor command.
type Service struct {
	command string
	args    []string
	run     runFunc
	logger  *logger.Logger
}

// NewService creates a service from the editor configuration.
func NewService(cfg config.EditorConfig, log *logger.Logger) *Service {
	return &Service{
		command: strings.TrimSpace(cfg.Command),
		args:    cfg.Args,
		run:     runCommand,
		logger:  log.WithFields(zap.String("component", "editors")),
	}
}

// Name is the editor's display name, the base name of its command.
func (s *Service) Name() string {
	if s.command == "" {
		return ""
	}
	return filepath.Base(s.command)
}

// OpenFile opens path in the editor and waits for the launcher to exit.
// Line and column are optional (zero means unset).
func (s *Service) OpenFile(ctx context.Context, path string, line, column int) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return ErrPathRequired
	}
	if s.command == "" {
		return ErrEditorNotConfigured
	}

	args := s.buildArgs(path, line, column)
	s.logger.Info("opening file in editor",
		zap.String("editor", s.command),
		zap.Strings("args", args))

	out, err := s.run(ctx, s.command, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", s.Name(), err, msg)
		}
		return fmt.Errorf("%s: %w", s.Name(), err)
	}
	return nil
}

// buildArgs expands {file}, {line} and {column} in the configured args. When
// no arg mentions {file} the location is appended the way the editor expects.
func (s *Service) buildArgs(path string, line, column int) []string {
	replacer := strings.NewReplacer(
		"{file}", path,
		"{line}", strconv.Itoa(line),
		"{column}", strconv.Itoa(column),
	)

	args := make([]string, 0, len(s.args)+2)
	hasFile := false
	for _, a := range s.args {
		if strings.Contains(a, "{file}") {
			hasFile = true
		}
		args = append(args, replacer.Replace(a))
	}
	if !hasFile {
		args = append(args, locationArgs(s.Name(), path, line, column)...)
	}
	return args
}

func locationArgs(editor, path string, line, column int) []string {
	switch editor {
	case "code", "cursor", "windsurf":
		if line > 0 {
			location := path + ":" + strconv.Itoa(line)
			if column > 0 {
				location += ":" + strconv.Itoa(column)
			}
			return []string{"--goto", location}
		}
	}
	return []string{path}
}
