//go:build integration

package live

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/schaermu/vpsdeploy/internal/config"
	"github.com/schaermu/vpsdeploy/internal/remote"
)

const (
	configEnv    = "VPSDEPLOY_IT_CONFIG"
	keepEnv      = "INTEGRATION_KEEP_REMOTE"
	remoteSubdir = "vpsdeploy-it"
)

// Harness drives deploys against a real host described by a config file.
// The deploy directory is redirected to a scratch subdirectory so an
// existing application on the host is never touched.
type Harness struct {
	t       *testing.T
	Config  *config.Config
	session *remote.Client
	keep    bool
}

// NewHarness loads the config named by VPSDEPLOY_IT_CONFIG or skips the test
func NewHarness(t *testing.T, projectDir string) *Harness {
	t.Helper()

	cfgPath := os.Getenv(configEnv)
	if cfgPath == "" {
		t.Skipf("%s not set, skipping live deploy test", configEnv)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Target.RemoteDir = path.Join(cfg.Target.RemoteDir, remoteSubdir)
	cfg.Build.Dir = projectDir
	cfg.Activate.ProcessName = "vpsdeploy-it"
	cfg.Activate.InstallCommand = "true"
	cfg.Activate.PM2Command = "echo pm2"

	return &Harness{
		t:      t,
		Config: cfg,
		keep:   os.Getenv(keepEnv) == "1",
	}
}

// Options returns dial options for the configured target
func (h *Harness) Options() remote.Options {
	return remote.Options{
		Address:        h.Config.Address(),
		User:           h.Config.Target.User,
		Password:       h.Config.Target.Password,
		PasswordFile:   h.Config.Target.PasswordFile,
		KeyFile:        h.Config.Target.SSHKeyFile,
		KeyPassphrase:  h.Config.Target.SSHKeyPassphrase,
		KnownHostsFile: h.Config.Target.KnownHostsFile,
		Timeout:        h.Config.Target.DialTimeout,
	}
}

// Logger returns a logger writing through t.Log
func (h *Harness) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&testWriter{t: h.t, prefix: "[deploy] "}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Connect opens the verification session used by Exec and ReadFile
func (h *Harness) Connect(ctx context.Context) error {
	h.t.Helper()
	client, err := remote.Dial(ctx, h.Options(), h.Logger())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	h.session = client
	return nil
}

// Cleanup removes the scratch directory and closes the session
func (h *Harness) Cleanup(ctx context.Context) {
	h.t.Helper()
	if h.session == nil {
		return
	}
	defer func() {
		_ = h.session.Close()
	}()

	if h.keep && h.t.Failed() {
		h.t.Logf("Test failed and %s=1, keeping %s", keepEnv, h.Config.Target.RemoteDir)
		return
	}

	if _, _, _, err := h.Exec(ctx, "rm -rf "+remote.ShellQuote(h.Config.Target.RemoteDir)); err != nil {
		h.t.Logf("Warning: failed to remove remote dir: %v", err)
	}
}

// Exec runs a shell command on the host
func (h *Harness) Exec(ctx context.Context, command string) (string, string, int, error) {
	h.t.Helper()
	if h.session == nil {
		return "", "", 0, fmt.Errorf("not connected")
	}

	out, err := h.session.Run(ctx, command)
	if err != nil {
		return "", "", 0, fmt.Errorf("exec failed: %w", err)
	}
	return out.Stdout, out.Stderr, out.ExitCode, nil
}

// MustExec runs a command and fails the test if it returns non-zero
func (h *Harness) MustExec(ctx context.Context, command string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Exec(ctx, command)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\ncmd: %s",
			exitCode, stdout, stderr, command)
	}
	return stdout
}

// WriteFile writes content to a path below the deploy directory
func (h *Harness) WriteFile(ctx context.Context, rel, content string) {
	h.t.Helper()
	p := path.Join(h.Config.Target.RemoteDir, rel)
	h.MustExec(ctx, "mkdir -p "+remote.ShellQuote(path.Dir(p)))
	if err := h.session.Put(ctx, strings.NewReader(content), p, 0o644); err != nil {
		h.t.Fatalf("write %s: %v", p, err)
	}
}

// ReadFile reads a file below the deploy directory
func (h *Harness) ReadFile(ctx context.Context, rel string) (string, error) {
	h.t.Helper()
	p := path.Join(h.Config.Target.RemoteDir, rel)
	stdout, _, exitCode, err := h.Exec(ctx, "cat "+remote.ShellQuote(p))
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", fmt.Errorf("cat failed with exit code %d", exitCode)
	}
	return stdout, nil
}

// ListFiles returns every file below the deploy directory, sorted
func (h *Harness) ListFiles(ctx context.Context) []string {
	h.t.Helper()
	dir := remote.ShellQuote(h.Config.Target.RemoteDir)
	out := h.MustExec(ctx, fmt.Sprintf("cd %s && find . -type f | sed 's|^\\./||' | sort", dir))
	return strings.Fields(out)
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
