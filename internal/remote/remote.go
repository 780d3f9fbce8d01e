package remote

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
)

// Session is one authenticated connection to the deploy host: a command
// channel plus a file-transfer channel, scoped to a single deploy run.
type Session interface {
	// Run executes a shell command and returns its captured output.
	// A non-zero exit status is reported in Output, not as an error.
	Run(ctx context.Context, command string) (*Output, error)
	// Stat returns file info for a remote path
	Stat(path string) (os.FileInfo, error)
	// Mkdir creates a single remote directory
	Mkdir(path string) error
	// Put writes src to remotePath, truncating any existing file
	Put(ctx context.Context, src io.Reader, remotePath string, perm os.FileMode) error
	// Close releases the file-transfer channel and the connection
	Close() error
}

// Output is the captured result of a remote command
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited zero
func (o *Output) Success() bool {
	return o.ExitCode == 0
}

// IsNotExist reports whether err means the remote path does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// ShellQuote wraps s in single quotes, escaping any embedded single quotes.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// EnsureDir creates path unless a stat shows it already exists
func EnsureDir(s Session, path string) (bool, error) {
	_, err := s.Stat(path)
	if err == nil {
		return false, nil
	}
	if !IsNotExist(err) {
		return false, err
	}
	if err := s.Mkdir(path); err != nil {
		return false, err
	}
	return true, nil
}

// contextReader stops a transfer once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
