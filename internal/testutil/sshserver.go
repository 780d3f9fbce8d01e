package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SSHServer is an in-process SSH server for tests. It accepts a single
// user/password pair, runs exec requests through the local sh and serves
// the sftp subsystem from the local filesystem.
type SSHServer struct {
	Addr    string
	HostKey ssh.PublicKey

	listener net.Listener
	config   *ssh.ServerConfig
	wg       sync.WaitGroup

	mu          sync.Mutex
	conns       map[net.Conn]struct{}
	accepted    int
	commands    []string
	sftpActive  int
	sftpStarted int
}

// NewSSHServer starts a server on a loopback port and stops it on test cleanup
func NewSSHServer(t *testing.T, user, password string) *SSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &SSHServer{
		Addr:     ln.Addr().String(),
		HostKey:  signer.PublicKey(),
		listener: ln,
		config:   config,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)

	return s
}

// Close stops accepting, drops open connections and waits for handlers
func (s *SSHServer) Close() {
	_ = s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Connections returns how many TCP connections were accepted
func (s *SSHServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Commands returns every exec request received so far
func (s *SSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// SFTPSessions returns how many sftp subsystems were started and how many
// are still being served
func (s *SSHServer) SFTPSessions() (started, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sftpStarted, s.sftpActive
}

func (s *SSHServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *SSHServer) handleConn(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer func() {
		_ = sconn.Close()
	}()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSession(ch, requests)
		}()
	}
}

func (s *SSHServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer func() {
		_ = ch.Close()
		go ssh.DiscardRequests(requests)
	}()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			status := runShell(payload.Command, ch, ch.Stderr())
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			s.serveSFTP(ch)
			return

		default:
			_ = req.Reply(false, nil)
		}
	}
}

func (s *SSHServer) serveSFTP(ch ssh.Channel) {
	server, err := sftp.NewServer(ch)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.sftpStarted++
	s.sftpActive++
	s.mu.Unlock()

	_ = server.Serve()
	_ = server.Close()

	s.mu.Lock()
	s.sftpActive--
	s.mu.Unlock()
}

// runShell executes command with sh and returns its exit status
func runShell(command string, stdout, stderr io.Writer) uint32 {
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return uint32(exitErr.ExitCode())
		}
		return 127
	}
	return 0
}
