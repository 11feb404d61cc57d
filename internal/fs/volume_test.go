package fs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeVolumePath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"C:", `\\.\C:`},
		{`d:\`, `\\.\D:`},
		{" e:/ ", `\\.\E:`},
		{`\\.\physicaldrive1`, `\\.\PHYSICALDRIVE1`},
		{`C:\images\sd.img`, `C:\images\sd.img`},
		{"disk.img", "disk.img"},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, normalizeVolumePath(tc.path, "windows"), tc.path)
	}
	require.Equal(t, "C:", normalizeVolumePath("C:", "linux"))
}
