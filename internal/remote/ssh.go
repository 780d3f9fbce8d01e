package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Options configures how to reach and authenticate to the deploy host
type Options struct {
	Address        string // host:port
	User           string
	Password       string
	PasswordFile   string
	KeyFile        string
	KeyPassphrase  string
	KnownHostsFile string
	Timeout        time.Duration

	// Prompt asks the operator for a password when no other credential
	// is configured. Nil disables interactive authentication.
	Prompt PasswordPrompt
}

// Client implements Session over SSH with an SFTP sub-session
type Client struct {
	ssh    *ssh.Client
	sftp   *sftp.Client
	logger *slog.Logger
	closed bool
}

// Dial opens the SSH connection and its SFTP sub-session
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	auth, err := authMethods(opts)
	if err != nil {
		return nil, err
	}

	hostKeys, err := hostKeyCallback(opts.KnownHostsFile, logger)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         opts.Timeout,
	}

	logger.Debug("dialing remote host", "address", opts.Address, "user", opts.User)

	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Address, err)
	}

	// Bound the handshake, the session itself has no deadline
	if opts.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opts.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, opts.Address, config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", opts.Address, err)
	}
	_ = conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(c, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("failed to open sftp session: %w", err)
	}

	return &Client{
		ssh:    sshClient,
		sftp:   sftpClient,
		logger: logger,
	}, nil
}

// Run executes command in a fresh SSH session and waits for it to finish
func (c *Client) Run(ctx context.Context, command string) (*Output, error) {
	session, err := c.ssh.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer func() {
		_ = session.Close()
	}()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return nil, ctx.Err()
	case err = <-done:
	}

	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitStatus()
			return out, nil
		}
		var missingErr *ssh.ExitMissingError
		if errors.As(err, &missingErr) {
			out.ExitCode = -1
			return out, nil
		}
		return out, fmt.Errorf("remote command failed: %w", err)
	}

	return out, nil
}

// Stat returns file info for a remote path
func (c *Client) Stat(path string) (os.FileInfo, error) {
	return c.sftp.Stat(path)
}

// Mkdir creates a single remote directory
func (c *Client) Mkdir(path string) error {
	return c.sftp.Mkdir(path)
}

// Put uploads src to remotePath and applies perm
func (c *Client) Put(ctx context.Context, src io.Reader, remotePath string, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst, err := c.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", remotePath, err)
	}

	if _, err := io.Copy(dst, contextReader{ctx: ctx, r: src}); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to write %s: %w", remotePath, err)
	}

	if perm != 0 {
		if err := dst.Chmod(perm.Perm()); err != nil {
			_ = dst.Close()
			return fmt.Errorf("failed to chmod %s: %w", remotePath, err)
		}
	}

	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", remotePath, err)
	}
	return nil
}

// Close releases the SFTP sub-session, then the SSH connection.
// It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if err := c.sftp.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sftp: %w", err))
	}
	if err := c.ssh.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close ssh: %w", err))
	}
	return errors.Join(errs...)
}
