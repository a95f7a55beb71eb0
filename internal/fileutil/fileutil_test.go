package fileutil_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cameronsjo/rigging/internal/fileutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	t.Run("writes content", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "out.yaml")
		require.NoError(t, fileutil.WriteFileAtomic(path, []byte("kind: Pod\n"), 0644))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "kind: Pod\n", string(got))
	})

	t.Run("creates parent directories", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "nested", "deep", "out.yaml")
		require.NoError(t, fileutil.WriteFileAtomic(path, []byte("x"), 0644))

		_, err := os.Stat(path)
		require.NoError(t, err)
	})

	t.Run("sets permissions", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "out.yaml")
		require.NoError(t, fileutil.WriteFileAtomic(path, []byte("x"), 0600))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "out.yaml")
		require.NoError(t, os.WriteFile(path, []byte("old"), 0644))
		require.NoError(t, fileutil.WriteFileAtomic(path, []byte("new"), 0644))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))
	})
}

func TestWriteAtomic(t *testing.T) {
	t.Parallel()

	t.Run("leaves destination untouched on failure", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := filepath.Join(dir, "out.yaml")
		require.NoError(t, os.WriteFile(path, []byte("original"), 0644))

		err := fileutil.WriteAtomic(path, 0644, func(w io.Writer) error {
			_, _ = w.Write([]byte("partial"))
			return errors.New("boom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "original", string(got))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp file should be removed")
	})
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, fileutil.EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
