package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindProjectRoot(t *testing.T) {
	root, err := FindProjectRoot()
	require.NoError(t, err)
	require.NotEmpty(t, root)

	_, err = os.Stat(filepath.Join(root, "go.mod"))
	assert.NoError(t, err, "go.mod not found at project root")
}

func TestWriteAndReadTree(t *testing.T) {
	dir := t.TempDir()
	WriteTree(t, dir, map[string]string{
		"a.txt":       "A",
		"sub/b.txt":   "B",
		"sub/c/d.txt": "D",
	})

	want := map[string]string{
		"a.txt":       "A",
		"sub/":        "",
		"sub/b.txt":   "B",
		"sub/c/":      "",
		"sub/c/d.txt": "D",
	}
	assert.Equal(t, want, ReadTree(t, dir))
}
