package disk

import (
	"testing"

	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestMBRMarshal(t *testing.T) {
	var m MBR
	m.BootCode[0] = 0xeb
	m.DiskSignature = 0xdeadbeef
	m.PartitionEntries[0] = NewMBRPartitionEntry(PartitionTypeFAT32LBA, 2048, 204800, true)
	m.PartitionEntries[1] = NewMBRPartitionEntry(PartitionTypeLinuxFilesystem, 206848, 1000, false)

	sector := m.Marshal()
	require.Len(t, sector, MBRSize)
	require.Equal(t, []byte{0x55, 0xaa}, sector[510:])
	require.Equal(t, byte(0x80), sector[0x1BE])
	require.Equal(t, byte(0x0c), sector[0x1BE+4])

	parsed, err := ParseMBR(sector)
	require.NoError(t, err)
	m.Signature = BootSignature
	require.Equal(t, m, *parsed)
	require.True(t, parsed.PartitionEntries[0].IsBootable())
	require.True(t, parsed.PartitionEntries[2].IsEmpty())
	require.False(t, IsFAT(sector))
}

func TestParseMBRErrors(t *testing.T) {
	_, err := ParseMBR(make([]byte, 100))
	require.ErrorIs(t, err, errs.ErrInvalid)

	_, err = ParseMBR(make([]byte, MBRSize))
	require.ErrorIs(t, err, errs.ErrInvalid)
}

func TestLBAToCHS(t *testing.T) {
	require.Equal(t, [3]byte{0, 1, 0}, LBAToCHS(0))
	require.Equal(t, [3]byte{32, 33, 0}, LBAToCHS(2048))
	require.Equal(t, [3]byte{0xfe, 0xff, 0xff}, LBAToCHS(chsMaxLBA))
}

func TestIsFAT(t *testing.T) {
	sector := make([]byte, 512)
	sector[510], sector[511] = 0x55, 0xaa
	copy(sector[Fat32NameOffset:], "FAT32   ")
	copy(sector[0x47:], "BOOT       ")
	require.True(t, IsFAT(sector))

	bs, err := ReadFatBootSectorFrom(sector)
	require.NoError(t, err)
	require.Equal(t, "BOOT", bs.VolumeLabel())
}
