// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package filetype

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ostafen/bbupdate/internal/disk"
	"github.com/ostafen/bbupdate/pkg/table"
)

// SafeBufSize is the number of bytes Detect needs to recognize every type.
const SafeBufSize = 2048

type Type int

const (
	Unknown Type = iota
	ARMZImage
	LZO
	LZ4
	ARMBarebox
	UImage
	Squashfs
	GZip
	BZip2
	DTB
	Shell
	FAT
	MBR
	BMP
	PNG
	Ext
	GPT
	BareboxEnv
	CHImage
	CHImageBE
	XZ
	Zstd
	ELF
	BFPT
	IntelHex
	numTypes
)

var typeStrings = [numTypes]struct {
	name      string
	shortName string
}{
	Unknown:    {"unknown", "unknown"},
	ARMZImage:  {"ARM Linux zImage", "arm-zimage"},
	LZO:        {"LZO compressed", "lzo"},
	LZ4:        {"LZ4 compressed", "lz4"},
	ARMBarebox: {"ARM barebox image", "arm-barebox"},
	UImage:     {"U-Boot uImage", "u-boot"},
	Squashfs:   {"Squashfs image", "squashfs"},
	GZip:       {"GZIP compressed", "gzip"},
	BZip2:      {"BZIP2 compressed", "bzip2"},
	DTB:        {"open firmware Device Tree flattened Binary", "dtb"},
	Shell:      {"bourne SHell", "sh"},
	FAT:        {"FAT filesystem", "fat"},
	MBR:        {"MBR sector", "mbr"},
	BMP:        {"BMP image", "bmp"},
	PNG:        {"PNG image", "png"},
	Ext:        {"EXT filesystem", "ext"},
	GPT:        {"GUID Partition Table", "gpt"},
	BareboxEnv: {"barebox environment file", "bbenv"},
	CHImage:    {"TI OMAP CH boot image", "ch-image"},
	CHImageBE:  {"TI OMAP CH boot image (big endian)", "ch-image-be"},
	XZ:         {"XZ compressed", "xz"},
	Zstd:       {"ZSTD compressed", "zstd"},
	ELF:        {"ELF", "elf"},
	BFPT:       {"Boot Flash Partition Table", "bfpt"},
	IntelHex:   {"Intel HEX", "ihex"},
}

func (t Type) String() string {
	if t < 0 || t >= numTypes {
		return fmt.Sprintf("filetype(%d)", int(t))
	}
	return typeStrings[t].name
}

// ShortName returns a name without spaces, suited for flags and scripts.
func (t Type) ShortName() string {
	if t < 0 || t >= numTypes {
		return fmt.Sprintf("%d", int(t))
	}
	return typeStrings[t].shortName
}

// Types returns all known types, Unknown excluded.
func Types() []Type {
	res := make([]Type, 0, numTypes-1)
	for t := Unknown + 1; t < numTypes; t++ {
		res = append(res, t)
	}
	return res
}

// ParseType returns the type whose short name is s.
func ParseType(s string) (Type, bool) {
	for t := Unknown; t < numTypes; t++ {
		if typeStrings[t].shortName == s {
			return t, true
		}
	}
	return Unknown, false
}

// IsBareboxImage reports whether t is a bootloader image a BBU handler may flash.
func IsBareboxImage(t Type) bool {
	switch t {
	case ARMBarebox, CHImage, CHImageBE:
		return true
	}
	return false
}

const (
	envfsMagic          = 0x798fba79
	zstdMagic           = 0xfd2fb528
	uimageMagic         = 0x27051956
	dtbMagic            = 0xd00dfeed
	zimageMagic         = 0x016f2818
	armHeadMagicOffset  = 0x20
	chSectionNameOffset = 0x14
	extMagicOffset      = 0x438
	extMagic            = 0xef53

	// BFPTCopyOffset is where the second copy of a BFPT starts.
	BFPTCopyOffset = 0x1000
)

type signature struct {
	typ     Type
	minSize int
	check   func(buf []byte) bool
}

// offset zero magics
var signatures = table.New[signature]()

func register(magic []byte, typ Type, minSize int, check func([]byte) bool) {
	signatures.Insert(magic, signature{typ: typ, minSize: minSize, check: check})
}

func le32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

func be32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

func init() {
	register([]byte("#!/bin/sh"), Shell, 9, nil)
	register(le32(envfsMagic), BareboxEnv, 9, nil)
	register([]byte{0x89, 'L', 'Z', 'O'}, LZO, 16, nil)
	register([]byte{0x02, 0x21, 0x4c, 0x18}, LZ4, 16, nil)
	register([]byte{0x1f, 0x8b, 0x08}, GZip, 16, nil)
	register([]byte("BZh"), BZip2, 16, func(buf []byte) bool {
		return buf[3] > '0' && buf[3] <= '9'
	})
	register([]byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, XZ, 16, nil)
	register(le32(zstdMagic), Zstd, 16, nil)
	register([]byte("hsqs"), Squashfs, 16, nil)
	register([]byte("BM"), BMP, 32, nil)
	register(be32(uimageMagic), UImage, 32, nil)
	register(be32(dtbMagic), DTB, 32, nil)
	register([]byte("\x89PNG\r\n\x1a\n"), PNG, 32, nil)
	register([]byte("BFPT"), BFPT, 16, nil)
	register([]byte(":"), IntelHex, 11, isIntelHex)
	register([]byte("\x7fELF"), ELF, 512, nil)
}

// Detect returns the type of the data in buf. Give it at least SafeBufSize
// bytes, when available, to detect every type.
func Detect(buf []byte) Type {
	if len(buf) < 9 {
		return Unknown
	}

	typ := Unknown
	signatures.Walk(buf, func(s signature) bool {
		if len(buf) < s.minSize || (s.check != nil && !s.check(buf)) {
			return false
		}
		typ = s.typ
		return true
	})
	if typ != Unknown && typ != ELF {
		return typ
	}

	if len(buf) < 64 {
		return Unknown
	}

	if bytes.Equal(buf[armHeadMagicOffset:armHeadMagicOffset+8], []byte("barebox\x00")) {
		return ARMBarebox
	}
	if w := binary.LittleEndian.Uint32(buf[36:]); w == zimageMagic || w == 0x18286f01 {
		return ARMZImage
	}

	if len(buf) >= 1536 && binary.LittleEndian.Uint16(buf[extMagicOffset:]) == extMagic {
		return Ext
	}

	if len(buf) < 512 {
		return Unknown
	}

	if t := DetectPartitionTable(buf); t != Unknown {
		return t
	}
	if disk.IsFAT(buf) {
		return FAT
	}

	if bytes.HasPrefix(buf[chSectionNameOffset:], []byte("CHSETTINGS")) {
		return CHImage
	}
	if binary.LittleEndian.Uint32(buf[20:]) == 0x43485345 &&
		binary.LittleEndian.Uint32(buf[24:]) == 0x5454494e &&
		binary.LittleEndian.Uint32(buf[28:]) == 0x47530000 {
		return CHImageBE
	}
	return typ
}

// DetectPartitionTable only looks for partition tables: GPT, BFPT or MBR.
func DetectPartitionTable(buf []byte) Type {
	if len(buf) < disk.MBRSize {
		return Unknown
	}

	// a protective MBR is a valid MBR, GPT goes first
	if len(buf) >= 520 && isGPTValid(buf) {
		return GPT
	}
	if bytes.HasPrefix(buf, []byte("BFPT")) {
		return BFPT
	}
	if binary.LittleEndian.Uint16(buf[disk.SignatureOffset:]) == disk.BootSignature && !disk.IsFAT(buf) {
		return MBR
	}
	// first copy damaged, the second one may still be good
	if len(buf) >= BFPTCopyOffset+4 && bytes.HasPrefix(buf[BFPTCopyOffset:], []byte("BFPT")) {
		return BFPT
	}
	return Unknown
}

func isGPTValid(buf []byte) bool {
	if binary.LittleEndian.Uint16(buf[disk.SignatureOffset:]) != disk.BootSignature {
		return false
	}
	if !bytes.HasPrefix(buf[disk.MBRSize:], []byte("EFI PART")) {
		return false
	}

	for i := 0; i < disk.NumPrimaryPartitions; i++ {
		e := buf[disk.PartitionTableOffset+i*disk.PartitionEntrySize:]
		if disk.MBRPartition(e[4]) == disk.PartitionTypeGPTProtective && binary.LittleEndian.Uint32(e[8:]) == 1 {
			return true
		}
	}
	return false
}

func isIntelHex(buf []byte) bool {
	for _, c := range buf[1:11] {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// DetectReader detects the type of the data at the start of r.
func DetectReader(r io.ReaderAt) (Type, error) {
	buf := make([]byte, SafeBufSize)

	n, err := r.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return Unknown, err
	}
	return Detect(buf[:n]), nil
}

func DetectFile(path string) (Type, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unknown, err
	}
	defer f.Close()

	return DetectReader(f)
}
