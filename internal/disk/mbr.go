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
package disk

import (
	"encoding/binary"
	"fmt"

	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/pkg/util/format"
)

const (
	MBRSize              = 512
	DiskSignatureOffset  = 0x1B8
	PartitionTableOffset = 0x1BE
	PartitionEntrySize   = 16
	NumPrimaryPartitions = 4
	SignatureOffset      = 0x1FE
	BootSignature        = 0xAA55
	BootIndicatorActive  = 0x80
	chsHeads             = 255
	chsSectorsPerTrack   = 63
	chsMaxLBA            = 1024 * chsHeads * chsSectorsPerTrack
)

// MBRPartitionEntry represents a single 16-byte entry in the MBR's partition table.
type MBRPartitionEntry struct {
	BootIndicator uint8        // 0x00: 0x80 for bootable, 0x00 for inactive
	StartCHS      [3]byte      // 0x01
	PartitionType MBRPartition // 0x04
	EndCHS        [3]byte      // 0x05
	StartLBA      uint32       // 0x08
	TotalSectors  uint32       // 0x0C
}

// NewMBRPartitionEntry builds an entry, computing the CHS fields from the LBA range.
func NewMBRPartitionEntry(typ MBRPartition, start, sectors uint32, bootable bool) MBRPartitionEntry {
	e := MBRPartitionEntry{
		PartitionType: typ,
		StartCHS:      LBAToCHS(start),
		EndCHS:        LBAToCHS(start + sectors - 1),
		StartLBA:      start,
		TotalSectors:  sectors,
	}
	if bootable {
		e.BootIndicator = BootIndicatorActive
	}
	return e
}

func parseMBRPartitionEntry(b []byte) MBRPartitionEntry {
	var e MBRPartitionEntry
	e.BootIndicator = b[0x00]
	copy(e.StartCHS[:], b[0x01:0x04])
	e.PartitionType = MBRPartition(b[0x04])
	copy(e.EndCHS[:], b[0x05:0x08])
	e.StartLBA = binary.LittleEndian.Uint32(b[0x08:0x0C])
	e.TotalSectors = binary.LittleEndian.Uint32(b[0x0C:0x10])
	return e
}

func (e *MBRPartitionEntry) put(b []byte) {
	b[0x00] = e.BootIndicator
	copy(b[0x01:0x04], e.StartCHS[:])
	b[0x04] = byte(e.PartitionType)
	copy(b[0x05:0x08], e.EndCHS[:])
	binary.LittleEndian.PutUint32(b[0x08:0x0C], e.StartLBA)
	binary.LittleEndian.PutUint32(b[0x0C:0x10], e.TotalSectors)
}

func (e *MBRPartitionEntry) IsEmpty() bool {
	return e.PartitionType == PartitionTypeEmpty || e.TotalSectors == 0
}

func (e *MBRPartitionEntry) IsBootable() bool {
	return e.BootIndicator == BootIndicatorActive
}

func (e *MBRPartitionEntry) IsExtended() bool {
	return e.PartitionType.IsExtended()
}

// String provides a human-readable representation of an MBRPartitionEntry.
func (p *MBRPartitionEntry) String() string {
	bootable := "No"
	if p.IsBootable() {
		bootable = "Yes"
	}
	return fmt.Sprintf("  Bootable: %s (0x%02X)\n"+
		"  Partition Type: 0x%02X (%s)\n"+
		"  Start LBA: %d\n"+
		"  Total Sectors: %d\n"+
		"  Size: %s",
		bootable, p.BootIndicator,
		uint8(p.PartitionType), p.PartitionType,
		p.StartLBA,
		p.TotalSectors,
		format.FormatBytes(int64(p.TotalSectors)*512))
}

// LBAToCHS encodes lba for a 255 heads, 63 sectors per track geometry.
// Addresses beyond the CHS range saturate to the conventional 0xFEFFFF.
func LBAToCHS(lba uint32) [3]byte {
	if lba >= chsMaxLBA {
		return [3]byte{0xFE, 0xFF, 0xFF}
	}

	cyl := lba / (chsHeads * chsSectorsPerTrack)
	head := (lba / chsSectorsPerTrack) % chsHeads
	sector := lba%chsSectorsPerTrack + 1

	return [3]byte{
		byte(head),
		byte(sector) | byte((cyl>>2)&0xC0),
		byte(cyl),
	}
}

// MBR represents the Master Boot Record structure.
type MBR struct {
	BootCode         [440]byte            // 0x000-0x1B7
	DiskSignature    uint32               // 0x1B8-0x1BB
	Reserved         [2]byte              // 0x1BC-0x1BD
	PartitionEntries [4]MBRPartitionEntry // 0x1BE-0x1FD
	Signature        uint16               // 0x1FE-0x1FF
}

// String provides a human-readable representation of the MBR.
func (m *MBR) String() string {
	s := fmt.Sprintf("--- Master Boot Record (MBR) ---\n"+
		"Disk Signature: 0x%08X\n"+
		"MBR Signature: 0x%04X (Expected: 0xAA55)\n\n"+
		"--- Partition Table Entries ---",
		m.DiskSignature, m.Signature)

	for i, entry := range m.PartitionEntries {
		s += fmt.Sprintf("\nPartition %d:\n%s", i+1, entry.String())
	}
	return s
}

// ParseMBR parses the first 512 bytes of data into an MBR struct.
func ParseMBR(data []byte) (*MBR, error) {
	if len(data) < MBRSize {
		return nil, fmt.Errorf("mbr: need %d bytes, got %d: %w", MBRSize, len(data), errs.ErrInvalid)
	}

	var mbr MBR
	copy(mbr.BootCode[:], data[:DiskSignatureOffset])
	mbr.DiskSignature = binary.LittleEndian.Uint32(data[DiskSignatureOffset:])
	copy(mbr.Reserved[:], data[DiskSignatureOffset+4:PartitionTableOffset])

	for i := range mbr.PartitionEntries {
		off := PartitionTableOffset + i*PartitionEntrySize
		mbr.PartitionEntries[i] = parseMBRPartitionEntry(data[off : off+PartitionEntrySize])
	}

	mbr.Signature = binary.LittleEndian.Uint16(data[SignatureOffset:])
	if mbr.Signature != BootSignature {
		return nil, fmt.Errorf("invalid MBR signature: expected 0xAA55, got 0x%04X: %w", mbr.Signature, errs.ErrInvalid)
	}
	return &mbr, nil
}

// PutTable serializes everything but the boot code into sector, which must be
// at least 512 bytes long. The boot code area is left untouched.
func (m *MBR) PutTable(sector []byte) {
	binary.LittleEndian.PutUint32(sector[DiskSignatureOffset:], m.DiskSignature)
	copy(sector[DiskSignatureOffset+4:PartitionTableOffset], m.Reserved[:])

	for i := range m.PartitionEntries {
		off := PartitionTableOffset + i*PartitionEntrySize
		m.PartitionEntries[i].put(sector[off : off+PartitionEntrySize])
	}
	binary.LittleEndian.PutUint16(sector[SignatureOffset:], BootSignature)
}

// Marshal returns the full 512 byte sector, boot code included.
func (m *MBR) Marshal() []byte {
	sector := make([]byte, MBRSize)
	copy(sector, m.BootCode[:])
	m.PutTable(sector)
	return sector
}

type MBRPartition uint8

const (
	PartitionTypeEmpty              MBRPartition = 0x00
	PartitionTypeFAT12              MBRPartition = 0x01
	PartitionTypeFAT16Small         MBRPartition = 0x04
	PartitionTypeExtendedCHS        MBRPartition = 0x05
	PartitionTypeFAT16              MBRPartition = 0x06
	PartitionTypeNTFSHPFSexFATQNX   MBRPartition = 0x07
	PartitionTypeFAT32CHS           MBRPartition = 0x0B
	PartitionTypeFAT32LBA           MBRPartition = 0x0C
	PartitionTypeFAT16LBA           MBRPartition = 0x0E
	PartitionTypeExtendedLBA        MBRPartition = 0x0F
	PartitionTypeLinuxSwap          MBRPartition = 0x82
	PartitionTypeLinuxFilesystem    MBRPartition = 0x83
	PartitionTypeLinuxExtended      MBRPartition = 0x85
	PartitionTypeBareboxEnv         MBRPartition = 0xBB
	PartitionTypeGPTProtective      MBRPartition = 0xEE
	PartitionTypeEFISystemPartition MBRPartition = 0xEF
)

func (t MBRPartition) IsExtended() bool {
	return t == PartitionTypeExtendedCHS || t == PartitionTypeExtendedLBA || t == PartitionTypeLinuxExtended
}

func (t MBRPartition) String() string {
	switch t {
	case PartitionTypeEmpty:
		return "Empty"
	case PartitionTypeFAT12:
		return "FAT12"
	case PartitionTypeFAT16Small:
		return "FAT16 (<32MB)"
	case PartitionTypeExtendedCHS:
		return "Extended (CHS)"
	case PartitionTypeFAT16:
		return "FAT16 (>32MB)"
	case PartitionTypeNTFSHPFSexFATQNX:
		return "NTFS/HPFS/exFAT/QNX"
	case PartitionTypeFAT32CHS:
		return "FAT32 (CHS)"
	case PartitionTypeFAT32LBA:
		return "FAT32 (LBA)"
	case PartitionTypeFAT16LBA:
		return "FAT16 (LBA)"
	case PartitionTypeExtendedLBA:
		return "Extended (LBA)"
	case PartitionTypeLinuxSwap:
		return "Linux swap"
	case PartitionTypeLinuxFilesystem:
		return "Linux filesystem"
	case PartitionTypeLinuxExtended:
		return "Linux extended"
	case PartitionTypeBareboxEnv:
		return "barebox environment"
	case PartitionTypeGPTProtective:
		return "GPT Protective MBR"
	case PartitionTypeEFISystemPartition:
		return "EFI System Partition"
	}
	return "Unknown"
}
