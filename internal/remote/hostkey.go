package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// hostKeyCallback implements trust-on-first-use. Without a known_hosts file
// every key is accepted.
func hostKeyCallback(knownHostsFile string, logger *slog.Logger) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		logger.Warn("no known_hosts_file configured, accepting any host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	tofu, err := newTrustOnFirstUse(knownHostsFile, logger)
	if err != nil {
		return nil, err
	}
	return tofu.check, nil
}

// trustOnFirstUse records unknown hosts and rejects changed keys
type trustOnFirstUse struct {
	path   string
	known  ssh.HostKeyCallback
	logger *slog.Logger
}

func newTrustOnFirstUse(path string, logger *slog.Logger) (*trustOnFirstUse, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	_ = f.Close()

	known, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse known_hosts file: %w", err)
	}

	return &trustOnFirstUse{path: path, known: known, logger: logger}, nil
}

func (t *trustOnFirstUse) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	err := t.known(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
		// mismatch or revoked key
		return err
	}

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}

	t.logger.Warn("trusting new host key",
		"host", hostname,
		"type", key.Type(),
		"fingerprint", ssh.FingerprintSHA256(key))
	return nil
}
