package reader

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomBuffer(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func TestMultiReadSeekerRandomSeek(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := randomBuffer(rng, 10<<10)

	var (
		readers []io.ReadSeeker
		sizes   []int64
	)
	for off := 0; off < len(data); {
		sz := min(rng.Intn(1024)+1, len(data)-off)
		readers = append(readers, bytes.NewReader(data[off:off+sz]))
		sizes = append(sizes, int64(sz))
		off += sz
	}
	r := NewMultiReadSeeker(readers, sizes)

	var buf [64]byte
	for i := range 1000 {
		off := rng.Intn(len(data))
		n := max(1, min(rng.Intn(len(buf)), len(data)-off))

		_, err := r.Seek(int64(off), io.SeekStart)
		require.NoError(t, err, "trial %d", i)

		got, err := r.Read(buf[:n])
		if err != io.EOF {
			require.NoError(t, err, "trial %d", i)
		}
		require.Equal(t, data[off:off+n], buf[:got], "trial %d at offset %d", i, off)
	}
}

func TestMultiReadSeekerSizesNotModified(t *testing.T) {
	data := randomBuffer(rand.New(rand.NewSource(1)), 300)
	sizes := []int64{100, 100, 100}

	r := NewMultiReadSeeker([]io.ReadSeeker{
		bytes.NewReader(data[:100]),
		bytes.NewReader(data[100:200]),
		bytes.NewReader(data[200:]),
	}, sizes)
	require.Equal(t, []int64{100, 100, 100}, sizes)
	require.Equal(t, int64(300), r.Size())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestMultiReadSeekerEmpty(t *testing.T) {
	r := NewMultiReadSeeker(nil, nil)

	n, err := r.Read(make([]byte, 8))
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
}
