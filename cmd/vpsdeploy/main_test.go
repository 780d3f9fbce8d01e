package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/vpsdeploy/internal/testutil"
	"github.com/schaermu/vpsdeploy/internal/tree"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// restoreGlobals resets the flag variables after a test
func restoreGlobals(t *testing.T) {
	t.Helper()
	origCfgFile, origLevel, origFormat := cfgFile, logLevel, logFormat
	t.Cleanup(func() {
		cfgFile = origCfgFile
		logLevel = origLevel
		logFormat = origFormat
	})
}

const testConfig = `target:
  host: "vps.example.com"
  user: "deploy"
  password: "hunter2"
  remote_dir: "/var/www/app"
activate:
  process_name: "app"
`

func writeConfig(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func TestSetupLogger(t *testing.T) {
	restoreGlobals(t)

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "info/auto", logLevel: "info", logFormat: "auto"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			assert.NotNil(t, setupLogger())
		})
	}
}

func TestResolveLogFormat(t *testing.T) {
	for _, tc := range []struct {
		format     string
		isTerminal bool
		want       string
	}{
		{format: "text", isTerminal: false, want: "text"},
		{format: "json", isTerminal: true, want: "json"},
		{format: "auto", isTerminal: true, want: "text"},
		{format: "auto", isTerminal: false, want: "json"},
		{format: "bogus", isTerminal: false, want: "text"},
	} {
		assert.Equal(t, tc.want, resolveLogFormat(tc.format, tc.isTerminal),
			"resolveLogFormat(%q, %v)", tc.format, tc.isTerminal)
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	restoreGlobals(t)
	dir := t.TempDir()
	cfgFile = writeConfig(t, filepath.Join(dir, "deploy.yaml"))

	cfg, err := loadConfig(testLogger())
	require.NoError(t, err)

	assert.Equal(t, "vps.example.com", cfg.Target.Host)
	assert.Equal(t, dir, cfg.Build.Dir)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	restoreGlobals(t)
	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")

	_, err := loadConfig(testLogger())
	assert.Error(t, err)
}

func TestDefaultConfigPath_PrefersWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, "deploy.yaml"))
	t.Chdir(dir)

	got, err := defaultConfigPath()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "deploy.yaml", filepath.Base(got))
}

func TestDefaultConfigPath_FallsBackToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	got, err := defaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "vpsdeploy", "config.yaml"), got)
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	restoreGlobals(t)
	cfgFile = ""
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	// the default config file doesn't exist
	_, err := loadConfig(testLogger())
	assert.Error(t, err)
}

func TestLoadConfig_HomeConfigBuildsWorkingDir(t *testing.T) {
	restoreGlobals(t)
	cfgFile = ""

	home := t.TempDir()
	t.Setenv("HOME", home)
	writeConfig(t, filepath.Join(home, ".config", "vpsdeploy", "config.yaml"))

	project := t.TempDir()
	t.Chdir(project)
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg, err := loadConfig(testLogger())
	require.NoError(t, err)

	assert.Equal(t, wd, cfg.Build.Dir)
	assert.NotEqual(t, filepath.Join(home, ".config", "vpsdeploy"), cfg.Build.Dir)
}

func TestExampleConfigLoads(t *testing.T) {
	restoreGlobals(t)
	root, err := testutil.FindProjectRoot()
	require.NoError(t, err)

	t.Setenv("DEPLOY_HOST", "vps.example.com")
	t.Setenv("DEPLOY_PASSWORD", "hunter2")
	cfgFile = filepath.Join(root, "deploy.example.yaml")

	cfg, err := loadConfig(testLogger())
	require.NoError(t, err)

	assert.Equal(t, "/var/www/app", cfg.Target.RemoteDir)
	assert.Equal(t, "hunter2", cfg.Target.Password, "password expanded from the environment")
}

func TestPrintPlan(t *testing.T) {
	entries := []tree.Entry{
		{Kind: tree.KindDir, Rel: "src", RemotePath: "/var/www/app/src"},
		{Kind: tree.KindFile, Rel: "src/index.js", RemotePath: "/var/www/app/src/index.js", Size: 12},
		{Kind: tree.KindFile, Rel: "package.json", RemotePath: "/var/www/app/package.json", Size: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, printPlan(&buf, entries))

	out := buf.String()
	assert.Contains(t, out, "dir  /var/www/app/src\n")
	assert.Contains(t, out, "file /var/www/app/src/index.js\n")
	assert.Contains(t, out, "2 files, 1 directories, 14 bytes\n")
}

func TestPlanCommand(t *testing.T) {
	restoreGlobals(t)

	dir := t.TempDir()
	cfgFile = writeConfig(t, filepath.Join(dir, "deploy.yaml"))
	logLevel = "error"
	testutil.WriteTree(t, dir, map[string]string{
		"package.json":            "{}",
		"node_modules/a/index.js": "x",
		".env.local":              "SECRET=1",
	})

	var buf bytes.Buffer
	planCmd.SetOut(&buf)
	t.Cleanup(func() { planCmd.SetOut(nil) })

	require.NoError(t, runPlan(planCmd, nil))

	out := buf.String()
	assert.Contains(t, out, "/var/www/app/package.json")
	for _, excluded := range []string{"node_modules", ".env.local", "deploy.yaml"} {
		assert.NotContains(t, out, excluded)
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	require.NotNil(t, ctx)

	cancel()

	<-ctx.Done()
	assert.Error(t, ctx.Err())
}

func TestVersionCmd(t *testing.T) {
	// versionCmd.Run simply prints version info; should not panic.
	assert.NotPanics(t, func() { versionCmd.Run(versionCmd, []string{}) })
}
