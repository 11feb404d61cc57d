package dfxml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadReport(t *testing.T) {
	var buf bytes.Buffer

	src := Source{
		ImageFilename:  "mmc0",
		SectorSize:     512,
		ImageSize:      8 << 20,
		PartitionTable: "gpt",
		DiskUUID:       "3e1ab2c4-0000-4000-8000-000000000001",
	}

	w := NewDFXMLWriter(&buf)
	require.NoError(t, w.WriteHeader(NewHeader("bbupdate", "test", src)))

	parts := []PartitionObject{
		{Index: 1, Name: "boot", Type: "0x0c", Flags: "boot", ByteRuns: ByteRuns{Runs: []ByteRun{{ImgOffset: 1 << 20, Length: 1 << 20}}}},
		{Index: 2, Name: "root", Type: "0x83", ByteRuns: ByteRuns{Runs: []ByteRun{{ImgOffset: 2 << 20, Length: 4 << 20}}}},
	}
	for _, p := range parts {
		require.NoError(t, w.WritePartition(p))
	}
	require.NoError(t, w.Close())

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "<?xml"))
	require.Contains(t, out, `xmloutputversion="1.0"`)
	require.Contains(t, out, "<ptype_str>0x83</ptype_str>")

	gotSrc, gotParts, err := ReadReport(&buf)
	require.NoError(t, err)
	require.Equal(t, src, *gotSrc)
	require.Len(t, gotParts, 2)

	for i := range parts {
		require.Equal(t, parts[i].Index, gotParts[i].Index)
		require.Equal(t, parts[i].Name, gotParts[i].Name)
		require.Equal(t, parts[i].ByteRuns, gotParts[i].ByteRuns)
	}
	require.Equal(t, uint64(4<<20), gotParts[1].Size())
}

func TestReadReportInvalid(t *testing.T) {
	_, _, err := ReadReport(strings.NewReader("<dfxml><partition><partition_index>x</partition_index></partition></dfxml>"))
	require.Error(t, err)
}

func TestParseOSRelease(t *testing.T) {
	name, version := parseOSRelease(strings.NewReader(`# comment
NAME="Debian GNU/Linux"
VERSION_ID="12"
PRETTY_NAME='Debian GNU/Linux 12 (bookworm)'
`))
	require.Equal(t, "Debian GNU/Linux", name)
	require.Equal(t, "12", version)

	name, version = parseOSRelease(strings.NewReader("PRETTY_NAME=Buildroot\n"))
	require.Equal(t, "Buildroot", name)
	require.Equal(t, "unknown", version)

	name, version = parseOSRelease(strings.NewReader(""))
	require.Equal(t, "unknown", name)
	require.Equal(t, "unknown", version)
}
