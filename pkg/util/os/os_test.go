package os

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mnt")

	created, err := EnsureDir(dir, true)
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), nil, 0644))

	_, err = EnsureDir(dir, true)
	require.Error(t, err)

	created, err = EnsureDir(dir, false)
	require.NoError(t, err)
	require.False(t, created)
}

func TestEnsureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")

	size, err := EnsureFile(path, 1<<20)
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), size)

	// never shrinks
	size, err = EnsureFile(path, 512)
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), size)
}
