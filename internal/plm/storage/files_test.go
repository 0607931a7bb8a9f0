package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile_ReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "NX", "a.prt")

	n, err := WriteFile(path, strings.NewReader("first"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	_, err = WriteFile(path, strings.NewReader("2nd"))
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2nd", string(b))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".upload-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCopyAndMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.stl")
	require.NoError(t, os.WriteFile(src, []byte("mesh"), 0o644))

	dst := filepath.Join(dir, "copy", "dst.stl")
	n, err := CopyFile(src, dst)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.True(t, Exists(src))
	assert.True(t, Exists(dst))

	moved := filepath.Join(dir, "Temp", "moved.stl")
	require.NoError(t, MoveFile(dst, moved))
	assert.False(t, Exists(dst))
	assert.True(t, Exists(moved))

	_, err = CopyFile(filepath.Join(dir, "missing"), dst)
	assert.ErrorIs(t, err, plmerr.ErrNotFound)
	assert.ErrorIs(t, err, plmerr.ErrIO)
}

func TestRemoveFile_MissingIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, RemoveFile(path))
	require.NoError(t, RemoveFile(path))
	assert.False(t, Exists(path))
}
