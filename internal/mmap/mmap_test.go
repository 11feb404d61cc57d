//go:build unix

package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/pkg/reader"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestMmapReadOnly(t *testing.T) {
	data := reader.GenerateRandomBuffer(10000)
	path := writeTemp(t, data)

	m, err := NewMmapFile(path)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, data, m.Data)
	require.Equal(t, int64(len(data)), m.Size())

	buf := make([]byte, 100)
	n, err := m.ReadAt(buf, 9950)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 50, n)
	require.Equal(t, data[9950:], buf[:n])

	_, err = m.WriteAt([]byte{1}, 0)
	require.ErrorIs(t, err, errs.ErrPermission)
}

func TestMmapWritable(t *testing.T) {
	path := writeTemp(t, make([]byte, 8192))

	m, err := NewMmapFileRegion(path, 0, 0, true)
	require.NoError(t, err)

	n, err := m.WriteAt([]byte("barebox"), 4096)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	_, err = m.WriteAt([]byte("xx"), 8191)
	require.ErrorIs(t, err, errs.ErrOutOfSpace)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("barebox"), got[4096:4103])
}

func TestMmapErrors(t *testing.T) {
	_, err := NewMmapFile(writeTemp(t, nil))
	require.ErrorIs(t, err, errs.ErrInvalid)

	path := writeTemp(t, make([]byte, 100))
	_, err = NewMmapFileRegion(path, 200, 0, false)
	require.ErrorIs(t, err, errs.ErrInvalid)

	_, err = NewMmapFileRegion(path, 0, 200, false)
	require.ErrorIs(t, err, errs.ErrInvalid)

	_, err = NewMmapFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
