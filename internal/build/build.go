package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ErrBuildFailed is returned when the build command exits non-zero
var ErrBuildFailed = errors.New("build failed")

// Builder produces the deployable artifacts inside a project directory
type Builder interface {
	// Build runs the build synchronously in dir
	Build(ctx context.Context, dir string) error
}

// ShellBuilder implements Builder by running a local command
type ShellBuilder struct {
	command []string
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
}

// NewShellBuilder creates a builder for the given command line.
// Output is streamed to the process stdout and stderr.
func NewShellBuilder(command []string, logger *slog.Logger) *ShellBuilder {
	return &ShellBuilder{
		command: command,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		logger:  logger,
	}
}

// WithOutput redirects build output, mainly for tests
func (b *ShellBuilder) WithOutput(stdout, stderr io.Writer) *ShellBuilder {
	b.stdout = stdout
	b.stderr = stderr
	return b
}

// Build runs the command with dir as working directory
func (b *ShellBuilder) Build(ctx context.Context, dir string) error {
	if len(b.command) == 0 {
		return fmt.Errorf("%w: no build command configured", ErrBuildFailed)
	}

	b.logger.Info("running local build", "command", strings.Join(b.command, " "), "dir", dir)

	cmd := exec.CommandContext(ctx, b.command[0], b.command[1:]...)
	cmd.Dir = dir
	cmd.Stdout = b.stdout
	cmd.Stderr = b.stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Command: b.command, Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("%w: %s: %v", ErrBuildFailed, b.command[0], err)
	}

	b.logger.Info("local build finished")
	return nil
}

// ExitError reports a build command that ran but exited non-zero
type ExitError struct {
	Command []string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("build command %q exited with code %d", strings.Join(e.Command, " "), e.Code)
}

// Is lets errors.Is match ErrBuildFailed
func (e *ExitError) Is(target error) bool {
	return target == ErrBuildFailed
}
