package filetype

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func bareboxImage(size int) []byte {
	buf := make([]byte, size)
	copy(buf[0x20:], "barebox\x00")
	return buf
}

func chImage(size int) []byte {
	buf := make([]byte, size)
	copy(buf[0x14:], "CHSETTINGS")
	return buf
}

func TestDetect(t *testing.T) {
	mbr := make([]byte, 512)
	mbr[510], mbr[511] = 0x55, 0xaa

	fat := make([]byte, 512)
	copy(fat, mbr)
	copy(fat[0x36:], "FAT16   ")

	gpt := make([]byte, 1024)
	copy(gpt, mbr)
	gpt[0x1BE+4] = 0xee
	binary.LittleEndian.PutUint32(gpt[0x1BE+8:], 1)
	copy(gpt[512:], "EFI PART")

	zimage := make([]byte, 64)
	binary.LittleEndian.PutUint32(zimage[36:], 0x016f2818)

	ext := make([]byte, 2048)
	binary.LittleEndian.PutUint16(ext[0x438:], 0xef53)

	uimage := make([]byte, 64)
	binary.BigEndian.PutUint32(uimage, 0x27051956)

	bfpt := make([]byte, 64)
	copy(bfpt, "BFPT")

	bfptCopy := make([]byte, 2*BFPTCopyOffset)
	copy(bfptCopy[BFPTCopyOffset:], "BFPT")

	cases := []struct {
		name string
		buf  []byte
		want Type
	}{
		{"short", []byte("abc"), Unknown},
		{"zeroes", make([]byte, 2048), Unknown},
		{"barebox", bareboxImage(2048), ARMBarebox},
		{"ch", chImage(2048), CHImage},
		{"mbr", mbr, MBR},
		{"fat", fat, FAT},
		{"gpt", gpt, GPT},
		{"zimage", zimage, ARMZImage},
		{"ext", ext, Ext},
		{"uimage", uimage, UImage},
		{"gzip", append([]byte{0x1f, 0x8b, 0x08}, make([]byte, 29)...), GZip},
		{"bzip2", []byte("BZh91AY&SY\x00\x00\x00\x00\x00\x00"), BZip2},
		{"not bzip2", []byte("BZhx1AY&SY\x00\x00\x00\x00\x00\x00"), Unknown},
		{"sh", []byte("#!/bin/sh\necho"), Shell},
		{"bfpt", bfpt, BFPT},
		{"bfpt second copy", bfptCopy, BFPT},
		{"ihex", []byte(":100000000C9434000C9446000C9446000C944600A0\n"), IntelHex},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Detect(tc.buf))
		})
	}
}

func TestDetectPartitionTable(t *testing.T) {
	require.Equal(t, Unknown, DetectPartitionTable(bareboxImage(512)))
	require.Equal(t, Unknown, DetectPartitionTable(make([]byte, 100)))
}

func TestNames(t *testing.T) {
	for _, typ := range Types() {
		require.NotEmpty(t, typ.String())

		parsed, ok := ParseType(typ.ShortName())
		require.True(t, ok)
		require.Equal(t, typ, parsed)
	}
	require.True(t, IsBareboxImage(ARMBarebox))
	require.True(t, IsBareboxImage(CHImage))
	require.False(t, IsBareboxImage(ARMZImage))
}

func TestDetectFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MLO")
	require.NoError(t, os.WriteFile(path, chImage(4096), 0644))

	typ, err := DetectFile(path)
	require.NoError(t, err)
	require.Equal(t, CHImage, typ)
}
