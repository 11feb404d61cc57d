package table

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixTableWalk(t *testing.T) {
	tb := New[string]()
	tb.Insert([]byte("apple"), "apple")
	tb.Insert([]byte("applet"), "applet")
	tb.Insert([]byte("apricot"), "apricot")

	require.Equal(t, 3, tb.Size())
	require.Equal(t, 7, tb.MaxKeyLen())

	var matches []string
	tb.Walk([]byte("appletie"), func(s string) bool {
		matches = append(matches, s)
		return false
	})
	require.Equal(t, []string{"apple", "applet"}, matches)

	matches = nil
	tb.Walk([]byte("application"), func(s string) bool {
		matches = append(matches, s)
		return false
	})
	require.Empty(t, matches)

	v, ok := tb.Longest([]byte("appletie"))
	require.True(t, ok)
	require.Equal(t, "applet", v)

	v, ok = tb.Get([]byte("apricot"))
	require.True(t, ok)
	require.Equal(t, "apricot", v)
}

func TestPrefixTableStopWalk(t *testing.T) {
	tb := New[int]()
	tb.Insert([]byte{0x1f}, 1)
	tb.Insert([]byte{0x1f, 0x8b}, 2)

	var got []int
	tb.Walk([]byte{0x1f, 0x8b, 0x08}, func(v int) bool {
		got = append(got, v)
		return true
	})
	require.Equal(t, []int{1}, got)
}
