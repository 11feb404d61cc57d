package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ostafen/bbupdate/internal/errs"
)

// Offsets of the file system type strings in a FAT boot sector
const (
	FatNameOffset   = 0x36 // FAT12/16
	Fat32NameOffset = 0x52 // FAT32
)

// Fat1xBootSectorSize is the size of a FAT boot sector.
const Fat1xBootSectorSize = 0x200

// FatBootSector represents the FAT partition boot sector (BIOS Parameter Block - BPB).
type FatBootSector struct {
	Ignored           [3]byte // 0x00 Boot strap short or near jump
	SystemID          [8]byte // 0x03 Name - can be used to special case partition manager volumes
	SectorSize        uint16  // 0x0B Bytes per logical sector
	SectorsPerCluster uint8   // 0x0D Sectors/cluster
	Reserved          uint16  // 0x0E Reserved sectors
	Fats              uint8   // 0x10 Number of FATs
	DirEntries        uint16  // 0x11 Root directory entries
	Sectors           uint16  // 0x13 Number of sectors
	Media             uint8   // 0x15 Media code
	FatLength         uint16  // 0x16 Sectors/FAT
	SecsTrack         uint16  // 0x18 Sectors per track
	Heads             uint16  // 0x1A Number of heads
	Hidden            uint32  // 0x1C Hidden sectors
	TotalSect         uint32  // 0x20 Number of sectors (if sectors == 0)

	// The following fields are only used by FAT32
	Fat32Length  uint32   // 0x24 Sectors/FAT
	Flags        uint16   // 0x28 Bit 8: FAT mirroring, low 4: active FAT
	Version      uint16   // 0x2A Major, minor filesystem version
	RootCluster  [4]byte  // 0x2C First cluster in root directory
	InfoSector   uint16   // 0x30 Filesystem info sector
	BackupBoot   uint16   // 0x32 Backup boot sector
	BPBReserved  [12]byte // 0x34 Unused
	BSDrvNum     uint8    // 0x40 Drive number
	BSReserved1  uint8    // 0x41 Reserved
	BSBootSig    uint8    // 0x42 Extended boot signature (0x29)
	BSVolID      [4]byte  // 0x43 Volume serial number
	BSVolLab     [11]byte // 0x47 Volume label
	BSFilSysType [8]byte  // 0x52 Filesystem type ("FAT32   ")

	Nothing [420]byte // 0x5A Padding
	Marker  uint16    // 0x1FE Boot sector signature (0xAA55)
}

// VolumeLabel returns the label of a FAT32 volume, without padding.
func (b *FatBootSector) VolumeLabel() string {
	return string(bytes.TrimRight(b.BSVolLab[:], " \x00"))
}

func ReadFatBootSectorFrom(data []byte) (*FatBootSector, error) {
	if len(data) < Fat1xBootSectorSize {
		return nil, fmt.Errorf("fat: need %d bytes, got %d: %w", Fat1xBootSectorSize, len(data), errs.ErrInvalid)
	}

	var bs FatBootSector
	err := binary.Read(bytes.NewReader(data[:Fat1xBootSectorSize]), binary.LittleEndian, &bs)
	if err != nil {
		return nil, fmt.Errorf("error reading into FatBootSector with binary.Read: %w", err)
	}

	if bs.Marker != BootSignature {
		return nil, fmt.Errorf("invalid boot sector marker: expected 0xAA55, got 0x%04X: %w", bs.Marker, errs.ErrInvalid)
	}
	return &bs, nil
}

// IsFAT reports whether sector looks like a FAT boot sector rather than a
// plain MBR: both carry the 0xAA55 marker, only FAT names its file system.
func IsFAT(sector []byte) bool {
	if len(sector) < Fat1xBootSectorSize {
		return false
	}
	if binary.LittleEndian.Uint16(sector[SignatureOffset:]) != BootSignature {
		return false
	}
	return bytes.HasPrefix(sector[FatNameOffset:], []byte("FAT")) ||
		bytes.HasPrefix(sector[Fat32NameOffset:], []byte("FAT"))
}
