package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer

	log := New(&buf, InfoLevel)
	log.Debug("hidden")
	log.Info("writing image", "device", "/dev/mmc0", "size", 1024)
	log.With("handler", "mlo").Error("could not write MLO 2/4 to /dev/mmc0")

	require.Equal(t,
		"[INFO] writing image device=/dev/mmc0 size=1024\n"+
			"[ERROR] could not write MLO 2/4 to /dev/mmc0 handler=mlo\n",
		buf.String())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, DebugLevel, ParseLevel("debug"))
	require.Equal(t, WarnLevel, ParseLevel("WARN"))
	require.Equal(t, InfoLevel, ParseLevel("bogus"))
}
