package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/schaermu/vpsdeploy/internal/remote"
)

// LocalSession implements remote.Session against the local machine: shell
// commands run through sh and file transfers hit the local filesystem.
// Tests point the remote directory at a temp dir to observe a deploy.
type LocalSession struct {
	// FailRunContaining makes Run return an error for matching commands
	FailRunContaining string

	mu       sync.Mutex
	commands []string
	uploads  []string
	mkdirs   []string
	closed   int
}

// NewLocalSession creates a session with no recorded activity
func NewLocalSession() *LocalSession {
	return &LocalSession{}
}

// Run executes command with sh -c
func (s *LocalSession) Run(ctx context.Context, command string) (*remote.Output, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	fail := s.FailRunContaining != "" && strings.Contains(command, s.FailRunContaining)
	s.mu.Unlock()

	if fail {
		return nil, errors.New("injected remote failure")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	out := &remote.Output{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		out.ExitCode = exitErr.ExitCode()
	}
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	return out, nil
}

// Stat stats a local path
func (s *LocalSession) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Mkdir creates a local directory
func (s *LocalSession) Mkdir(path string) error {
	s.mu.Lock()
	s.mkdirs = append(s.mkdirs, path)
	s.mu.Unlock()
	return os.Mkdir(path, 0o755)
}

// Put writes src to a local path
func (s *LocalSession) Put(ctx context.Context, src io.Reader, remotePath string, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, remotePath)
	s.mu.Unlock()

	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(remotePath, perm.Perm())
}

// Close marks the session closed
func (s *LocalSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Commands returns every command passed to Run
func (s *LocalSession) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Uploads returns every remote path written by Put
func (s *LocalSession) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

// Mkdirs returns every directory created
func (s *LocalSession) Mkdirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.mkdirs...)
}

// CloseCount returns how often Close was called
func (s *LocalSession) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
