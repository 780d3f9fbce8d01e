//go:build integration

package live

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/vpsdeploy/internal/deploy"
	"github.com/schaermu/vpsdeploy/internal/procmgr"
	"github.com/schaermu/vpsdeploy/internal/remote"
	"github.com/schaermu/vpsdeploy/internal/testutil"
)

const defaultTimeout = 5 * time.Minute

func TestLiveDeploy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	projectDir := t.TempDir()
	testutil.WriteTree(t, projectDir, map[string]string{
		"package.json":              `{"name":"vpsdeploy-it"}`,
		"server.js":                 "console.log('hello')",
		".next/BUILD_ID":            "it",
		"node_modules/dep/index.js": "excluded",
		".env.local":                "GREETING=fallback",
	})

	h := NewHarness(t, projectDir)
	require.NoError(t, h.Connect(ctx))
	defer h.Cleanup(ctx)

	h.MustExec(ctx, "rm -rf "+remote.ShellQuote(h.Config.Target.RemoteDir))

	run := func(t *testing.T) *deploy.Report {
		t.Helper()
		dial := func(ctx context.Context) (remote.Session, error) {
			c, err := remote.Dial(ctx, h.Options(), h.Logger())
			if err != nil {
				return nil, err
			}
			return c, nil
		}
		manager := procmgr.NewPM2(h.Config.Activate.PM2Command, h.Config.Activate.ProcessName,
			h.Config.Activate.StartCommand, h.Config.Activate.InstallCommand)
		engine := deploy.NewEngine(h.Config, nil, dial, manager, h.Logger(), deploy.Options{SkipBuild: true})

		report, err := engine.Run(ctx)
		require.NoError(t, err)
		return report
	}

	want := []string{".env", ".next/BUILD_ID", "package.json", "server.js"}

	t.Run("A_FirstDeployUploadsFallback", func(t *testing.T) {
		report := run(t)
		assert.True(t, report.SecretUploaded, "fallback secret uploaded")
		assert.Equal(t, want, h.ListFiles(ctx))
	})

	t.Run("B_RedeployPreservesSecret", func(t *testing.T) {
		h.WriteFile(ctx, ".env", "GREETING=production")
		h.WriteFile(ctx, "stale.js", "old")

		report := run(t)
		assert.False(t, report.SecretUploaded, "secret must not be replaced when present")

		secret, err := h.ReadFile(ctx, ".env")
		require.NoError(t, err)
		assert.Equal(t, "GREETING=production", secret)
		assert.Equal(t, want, h.ListFiles(ctx))
	})
}
