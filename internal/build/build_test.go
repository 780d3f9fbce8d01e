package build

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShellBuilder_Success(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer

	b := NewShellBuilder([]string{"sh", "-c", "pwd; echo built > out.txt"}, testLogger()).
		WithOutput(&stdout, io.Discard)

	require.NoError(t, b.Build(context.Background(), dir))

	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err, "build did not run in project dir")
	assert.Equal(t, "built\n", string(got))
	assert.NotZero(t, stdout.Len(), "build stdout is streamed")
}

func TestShellBuilder_NonZeroExit(t *testing.T) {
	b := NewShellBuilder([]string{"sh", "-c", "echo boom >&2; exit 3"}, testLogger()).
		WithOutput(io.Discard, io.Discard)

	err := b.Build(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildFailed)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
}

func TestShellBuilder_MissingProgram(t *testing.T) {
	b := NewShellBuilder([]string{"vpsdeploy-no-such-build-tool"}, testLogger()).
		WithOutput(io.Discard, io.Discard)

	err := b.Build(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrBuildFailed)
}

func TestShellBuilder_EmptyCommand(t *testing.T) {
	b := NewShellBuilder(nil, testLogger())

	err := b.Build(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrBuildFailed)
}
