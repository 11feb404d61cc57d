package partition

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/disk"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
)

const (
	// maxEBRChain bounds the walk of the logical partition chain.
	maxEBRChain = 128

	firstLogical = 5

	// The label sector stores partition names, which the DOS format lacks,
	// in the otherwise unused sector following the MBR.
	labelSector     = 1
	labelMagic      = "BBLABELS"
	labelCRCOffset  = 8
	labelNamesStart = 16
	labelNameSize   = 32
	labelMaxEntries = (block.SectorSize - labelNamesStart) / labelNameSize
)

type DOSParser struct{}

func (DOSParser) Name() string        { return "msdos" }
func (DOSParser) Type() filetype.Type { return filetype.MBR }

type dosFormat struct {
	signature uint32
	// ebr maps each logical partition to the sector of its EBR.
	ebr map[*Partition]uint64
	// extended is the container of the logical partitions, if any.
	extended *Partition
}

func (DOSParser) Create(blk *block.Device) (*Table, error) {
	if blk.NumBlocks() < 2 {
		return nil, fmt.Errorf("%s is too small for a DOS table: %w", blk.Name(), errs.ErrInvalid)
	}

	id := uuid.New()
	sig := binary.LittleEndian.Uint32(id[:4])
	if sig == 0 {
		sig = 1
	}

	f := &dosFormat{signature: sig, ebr: map[*Partition]uint64{}}
	t := newTable(DOSParser{}, f, blk)
	t.DiskUUID = fmt.Sprintf("%08x", sig)
	return t, nil
}

func (DOSParser) Parse(buf []byte, blk *block.Device) (*Table, error) {
	mbr, err := disk.ParseMBR(buf)
	if err != nil {
		return nil, err
	}

	for _, e := range mbr.PartitionEntries {
		if e.PartitionType == disk.PartitionTypeGPTProtective {
			// A damaged primary GPT can still be recovered from its alternate.
			return EFIParser{}.Parse(buf, blk)
		}
	}

	f := &dosFormat{signature: mbr.DiskSignature, ebr: map[*Partition]uint64{}}
	t := newTable(DOSParser{}, f, blk)
	t.DiskUUID = fmt.Sprintf("%08x", mbr.DiskSignature)

	for i, e := range mbr.PartitionEntries {
		if e.IsEmpty() {
			continue
		}

		p := f.entryToPartition(&e, uint64(e.StartLBA), i+1)
		if p.End() > blk.NumBlocks() {
			t.log.Warn("partition exceeds device, skipping", "device", blk.Name(), "num", p.Num, "end", p.End())
			continue
		}

		if e.IsExtended() {
			if f.extended != nil {
				t.log.Warn("multiple extended partitions, ignoring", "device", blk.Name(), "num", p.Num)
				continue
			}
			f.extended = p
			t.reserved = append(t.reserved, p)
			continue
		}
		t.Parts = append(t.Parts, p)
	}

	if f.extended != nil {
		if err := f.parseExtended(t); err != nil {
			return nil, err
		}
	}

	if len(buf) >= 2*block.SectorSize {
		applyLabels(t, buf[block.SectorSize:2*block.SectorSize])
	}
	return t, nil
}

func (f *dosFormat) entryToPartition(e *disk.MBRPartitionEntry, start uint64, num int) *Partition {
	p := &Partition{
		FirstSec:  start,
		Size:      uint64(e.TotalSectors),
		DOSType:   e.PartitionType,
		TypeFlags: uint64(e.BootIndicator),
		Num:       num,
		PartUUID:  fmt.Sprintf("%08x-%02x", f.signature, num),
	}
	if e.IsBootable() {
		p.Flags |= FlagBootable
	}
	return p
}

func (f *dosFormat) parseExtended(t *Table) error {
	base := f.extended.FirstSec
	cur := base
	num := firstLogical

	for range maxEBRChain {
		sec, err := t.Blk.ReadBlocks(cur, 1)
		if err != nil {
			return fmt.Errorf("reading EBR at %d: %w", cur, err)
		}

		ebr, err := disk.ParseMBR(sec)
		if err != nil {
			t.log.Warn("invalid EBR, stopping", "device", t.Blk.Name(), "lba", cur, "error", err)
			return nil
		}

		e := ebr.PartitionEntries[0]
		if !e.IsEmpty() {
			p := f.entryToPartition(&e, cur+uint64(e.StartLBA), num)
			if p.End() > f.extended.End() {
				t.log.Warn("logical partition exceeds extended partition", "device", t.Blk.Name(), "num", num)
			} else {
				t.Parts = append(t.Parts, p)
				f.ebr[p] = cur
				num++
			}
		}

		link := ebr.PartitionEntries[1]
		if link.IsEmpty() || !link.IsExtended() {
			return nil
		}

		next := base + uint64(link.StartLBA)
		if next <= cur || next >= f.extended.End() {
			t.log.Warn("EBR chain loops, stopping", "device", t.Blk.Name(), "lba", next)
			return nil
		}
		cur = next
	}
	return nil
}

func (f *dosFormat) Usable(t *Table) (uint64, uint64) {
	return 1, t.Blk.LastLBA()
}

func dosTypeFor(fsType string) (disk.MBRPartition, error) {
	switch s := strings.ToLower(fsType); s {
	case "", "fat", "fat32":
		return disk.PartitionTypeFAT32LBA, nil
	case "fat16":
		return disk.PartitionTypeFAT16LBA, nil
	case "ext2", "ext3", "ext4", "linux":
		return disk.PartitionTypeLinuxFilesystem, nil
	case "swap":
		return disk.PartitionTypeLinuxSwap, nil
	case "bbenv":
		return disk.PartitionTypeBareboxEnv, nil
	case "esp":
		return disk.PartitionTypeEFISystemPartition, nil
	default:
		if strings.HasPrefix(s, "0x") {
			v, err := strconv.ParseUint(s[2:], 16, 8)
			if err == nil && v != 0 {
				return disk.MBRPartition(v), nil
			}
		}
	}
	return 0, fmt.Errorf("unknown DOS partition type %q: %w", fsType, errs.ErrInvalid)
}

func (f *dosFormat) Mkpart(t *Table, name, fsType string, start, end uint64) (*Partition, error) {
	typ, err := dosTypeFor(fsType)
	if err != nil {
		return nil, err
	}
	if typ.IsExtended() {
		return nil, fmt.Errorf("creating extended partitions: %w", errs.ErrUnsupportedOperation)
	}
	if end > 1<<32 {
		return nil, fmt.Errorf("partition end %d beyond 32-bit LBA: %w", end, errs.ErrInvalid)
	}

	num, ok := freeNum(t, disk.NumPrimaryPartitions)
	if !ok {
		return nil, fmt.Errorf("all %d primary entries in use: %w", disk.NumPrimaryPartitions, errs.ErrOutOfSpace)
	}

	return &Partition{
		Name:     name,
		FirstSec: start,
		Size:     end - start,
		DOSType:  typ,
		Num:      num,
		PartUUID: fmt.Sprintf("%08x-%02x", f.signature, num),
	}, nil
}

func (f *dosFormat) Rmpart(t *Table, p *Partition) error {
	delete(f.ebr, p)
	return nil
}

func (f *dosFormat) Write(t *Table) error {
	sec, err := t.Blk.ReadBlocks(0, 1)
	if err != nil {
		return err
	}

	mbr := disk.MBR{DiskSignature: f.signature}
	var logical []*Partition

	for _, p := range t.Parts {
		if p.Num > disk.NumPrimaryPartitions {
			logical = append(logical, p)
			continue
		}
		mbr.PartitionEntries[p.Num-1] = dosEntry(p, p.FirstSec)
	}
	if f.extended != nil {
		mbr.PartitionEntries[f.extended.Num-1] = dosEntry(f.extended, f.extended.FirstSec)
	}

	mbr.PutTable(sec)
	if err := t.Blk.WriteBlocks(0, sec); err != nil {
		return err
	}

	if f.extended != nil {
		if err := f.writeEBRChain(t, logical); err != nil {
			return err
		}
	}

	return writeLabels(t)
}

func dosEntry(p *Partition, base uint64) disk.MBRPartitionEntry {
	return disk.NewMBRPartitionEntry(p.DOSType, uint32(p.FirstSec-base), uint32(p.Size), p.Flags&FlagBootable != 0)
}

func (f *dosFormat) writeEBRChain(t *Table, logical []*Partition) error {
	sort.Slice(logical, func(i, j int) bool {
		return logical[i].FirstSec < logical[j].FirstSec
	})

	base := f.extended.FirstSec
	if len(logical) == 0 {
		ebr := disk.MBR{}
		return t.Blk.WriteBlocks(base, ebr.Marshal())
	}

	for i, p := range logical {
		lba, ok := f.ebr[p]
		if !ok {
			return fmt.Errorf("logical partition %d has no EBR: %w", p.Num, errs.ErrInvalid)
		}
		if i == 0 {
			// The first EBR always sits at the start of the container.
			lba = base
		}

		ebr := disk.MBR{}
		ebr.PartitionEntries[0] = dosEntry(p, lba)
		if i+1 < len(logical) {
			next := logical[i+1]
			nlba := f.ebr[next]
			ebr.PartitionEntries[1] = disk.NewMBRPartitionEntry(disk.PartitionTypeExtendedLBA,
				uint32(nlba-base), uint32(next.End()-nlba), false)
		}

		if err := t.Blk.WriteBlocks(lba, ebr.Marshal()); err != nil {
			return fmt.Errorf("writing EBR at %d: %w", lba, err)
		}
	}
	return nil
}

func isLabelSector(sec []byte) bool {
	if len(sec) < block.SectorSize || !bytes.Equal(sec[:len(labelMagic)], []byte(labelMagic)) {
		return false
	}
	crc := binary.LittleEndian.Uint32(sec[labelCRCOffset:])
	return crc == crc32.ChecksumIEEE(sec[labelNamesStart:block.SectorSize])
}

func applyLabels(t *Table, sec []byte) {
	if !isLabelSector(sec) {
		return
	}

	for _, p := range t.Parts {
		if p.Num < 1 || p.Num > labelMaxEntries {
			continue
		}
		off := labelNamesStart + (p.Num-1)*labelNameSize
		p.Name = string(bytes.TrimRight(sec[off:off+labelNameSize], "\x00"))
	}
}

// writeLabels stores partition names in the label sector. A sector holding
// foreign data or belonging to a partition is left alone.
func writeLabels(t *Table) error {
	if !t.IsFree(labelSector, 1) || t.Blk.NumBlocks() <= labelSector {
		return nil
	}

	sec, err := t.Blk.ReadBlocks(labelSector, 1)
	if err != nil {
		return err
	}
	if !isLabelSector(sec) && !isZero(sec) {
		t.log.Debug("sector after MBR in use, partition names not stored", "device", t.Blk.Name())
		return nil
	}

	named := false
	out := make([]byte, block.SectorSize)
	for _, p := range t.Parts {
		if p.Name == "" || p.Num < 1 || p.Num > labelMaxEntries {
			continue
		}
		off := labelNamesStart + (p.Num-1)*labelNameSize
		copy(out[off:off+labelNameSize-1], p.Name)
		named = true
	}

	if named {
		copy(out, labelMagic)
		binary.LittleEndian.PutUint32(out[labelCRCOffset:], crc32.ChecksumIEEE(out[labelNamesStart:]))
	}
	if !named && isZero(sec) {
		return nil
	}
	return t.Blk.WriteBlocks(labelSector, out)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
