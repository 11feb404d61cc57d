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
package partition

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/google/uuid"
	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/disk"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
	"golang.org/x/text/encoding/unicode"
)

const (
	gptSignature    = "EFI PART"
	gptRevision     = 0x00010000
	gptHeaderSize   = 92
	gptNumEntries   = 128
	gptEntrySize    = 128
	gptEntrySectors = gptNumEntries * gptEntrySize / block.SectorSize
	gptNameLen      = 72

	// gptFirstUsable is the first sector after the MBR, the primary header
	// and the primary entry array.
	gptFirstUsable = 2 + gptEntrySectors

	gptAttrRequired       = 1 << 0
	gptAttrLegacyBootable = 1 << 2
	gptAttrReadOnly       = 1 << 60
)

// Well known partition type GUIDs.
var (
	GPTTypeLinux      = uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4")
	GPTTypeBasicData  = uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
	GPTTypeBareboxEnv = uuid.MustParse("6C3737F2-07F8-45D1-AD45-15D260AAB24D")
	GPTTypeESP        = uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")
	GPTTypeLinuxSwap  = uuid.MustParse("0657FD6D-A4AB-43C4-84E5-0933C84B4F4F")
)

type EFIParser struct{}

func (EFIParser) Name() string        { return "gpt" }
func (EFIParser) Type() filetype.Type { return filetype.GPT }

type gptHeader struct {
	MyLBA       uint64
	AltLBA      uint64
	FirstUsable uint64
	LastUsable  uint64
	DiskGUID    uuid.UUID
	EntriesLBA  uint64
	NumEntries  uint32
	EntrySize   uint32
	EntriesCRC  uint32
}

type efiFormat struct {
	hdr gptHeader
}

// guidToDisk converts a GUID to its mixed-endian on-disk form.
func guidToDisk(u uuid.UUID) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], binary.BigEndian.Uint32(u[0:4]))
	binary.LittleEndian.PutUint16(b[4:], binary.BigEndian.Uint16(u[4:6]))
	binary.LittleEndian.PutUint16(b[6:], binary.BigEndian.Uint16(u[6:8]))
	copy(b[8:], u[8:16])
	return b
}

func guidFromDisk(b []byte) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:], binary.LittleEndian.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(u[4:], binary.LittleEndian.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(u[6:], binary.LittleEndian.Uint16(b[6:8]))
	copy(u[8:], b[8:16])
	return u
}

func parseGPTHeader(sec []byte) (*gptHeader, error) {
	if len(sec) < gptHeaderSize || string(sec[:8]) != gptSignature {
		return nil, fmt.Errorf("gpt: bad header signature: %w", errs.ErrInvalid)
	}

	size := binary.LittleEndian.Uint32(sec[12:])
	if size < gptHeaderSize || size > block.SectorSize {
		return nil, fmt.Errorf("gpt: header size %d: %w", size, errs.ErrInvalid)
	}

	hdr := make([]byte, size)
	copy(hdr, sec[:size])
	crc := binary.LittleEndian.Uint32(hdr[16:])
	binary.LittleEndian.PutUint32(hdr[16:], 0)
	if crc32.ChecksumIEEE(hdr) != crc {
		return nil, fmt.Errorf("gpt: header crc mismatch: %w", errs.ErrInvalid)
	}

	h := &gptHeader{
		MyLBA:       binary.LittleEndian.Uint64(sec[24:]),
		AltLBA:      binary.LittleEndian.Uint64(sec[32:]),
		FirstUsable: binary.LittleEndian.Uint64(sec[40:]),
		LastUsable:  binary.LittleEndian.Uint64(sec[48:]),
		DiskGUID:    guidFromDisk(sec[56:72]),
		EntriesLBA:  binary.LittleEndian.Uint64(sec[72:]),
		NumEntries:  binary.LittleEndian.Uint32(sec[80:]),
		EntrySize:   binary.LittleEndian.Uint32(sec[84:]),
		EntriesCRC:  binary.LittleEndian.Uint32(sec[88:]),
	}
	if h.EntrySize < gptEntrySize || h.EntrySize%8 != 0 || h.NumEntries == 0 || h.NumEntries > 1024 {
		return nil, fmt.Errorf("gpt: %d entries of %d bytes: %w", h.NumEntries, h.EntrySize, errs.ErrInvalid)
	}
	return h, nil
}

func (h *gptHeader) marshal() []byte {
	sec := make([]byte, block.SectorSize)
	copy(sec, gptSignature)
	binary.LittleEndian.PutUint32(sec[8:], gptRevision)
	binary.LittleEndian.PutUint32(sec[12:], gptHeaderSize)
	binary.LittleEndian.PutUint64(sec[24:], h.MyLBA)
	binary.LittleEndian.PutUint64(sec[32:], h.AltLBA)
	binary.LittleEndian.PutUint64(sec[40:], h.FirstUsable)
	binary.LittleEndian.PutUint64(sec[48:], h.LastUsable)
	copy(sec[56:72], guidToDisk(h.DiskGUID))
	binary.LittleEndian.PutUint64(sec[72:], h.EntriesLBA)
	binary.LittleEndian.PutUint32(sec[80:], h.NumEntries)
	binary.LittleEndian.PutUint32(sec[84:], h.EntrySize)
	binary.LittleEndian.PutUint32(sec[88:], h.EntriesCRC)
	binary.LittleEndian.PutUint32(sec[16:], crc32.ChecksumIEEE(sec[:gptHeaderSize]))
	return sec
}

// readEntries loads and checks the entry array described by h.
func readEntries(blk *block.Device, h *gptHeader) ([]byte, error) {
	n := (uint64(h.NumEntries)*uint64(h.EntrySize) + block.SectorSize - 1) / block.SectorSize
	buf, err := blk.ReadBlocks(h.EntriesLBA, int(n))
	if err != nil {
		return nil, err
	}

	buf = buf[:h.NumEntries*h.EntrySize]
	if crc32.ChecksumIEEE(buf) != h.EntriesCRC {
		return nil, fmt.Errorf("gpt: entries crc mismatch at lba %d: %w", h.EntriesLBA, errs.ErrInvalid)
	}
	return buf, nil
}

func readGPT(blk *block.Device, sec []byte, lba uint64) (*gptHeader, []byte, error) {
	h, err := parseGPTHeader(sec)
	if err != nil {
		return nil, nil, err
	}
	if h.MyLBA != lba {
		return nil, nil, fmt.Errorf("gpt: header at %d claims lba %d: %w", lba, h.MyLBA, errs.ErrInvalid)
	}

	entries, err := readEntries(blk, h)
	if err != nil {
		return nil, nil, err
	}
	return h, entries, nil
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func decodeName(b []byte) string {
	// Names end at the first NUL code unit.
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	name, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(name)
}

func encodeName(name string) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("gpt: encoding name %q: %w", name, errs.ErrInvalid)
	}
	if len(b) > gptNameLen {
		return nil, fmt.Errorf("gpt: name %q longer than %d code units: %w", name, gptNameLen/2, errs.ErrInvalid)
	}
	return b, nil
}

func (EFIParser) Parse(buf []byte, blk *block.Device) (*Table, error) {
	if len(buf) < 2*block.SectorSize {
		return nil, fmt.Errorf("gpt: short buffer: %w", errs.ErrInvalid)
	}

	t := newTable(EFIParser{}, nil, blk)

	h, entries, err := readGPT(blk, buf[block.SectorSize:2*block.SectorSize], 1)
	if err != nil {
		t.log.Warn("primary GPT invalid, trying alternate", "device", blk.Name(), "error", err)

		last := blk.LastLBA()
		sec, rerr := blk.ReadBlocks(last, 1)
		if rerr != nil {
			return nil, rerr
		}
		h, entries, err = readGPT(blk, sec, last)
		if err != nil {
			return nil, fmt.Errorf("no valid GPT header on %s: %w", blk.Name(), err)
		}
	} else if alt := compareAlternate(blk, h); alt != "" {
		t.log.Warn("primary and alternate GPT differ", "device", blk.Name(), "reason", alt)
	}

	if h.FirstUsable > h.LastUsable || h.LastUsable > blk.LastLBA() {
		return nil, fmt.Errorf("gpt: usable area [%d, %d]: %w", h.FirstUsable, h.LastUsable, errs.ErrInvalid)
	}

	f := &efiFormat{hdr: *h}
	t.format = f
	t.DiskUUID = h.DiskGUID.String()

	for i := range h.NumEntries {
		e := entries[i*h.EntrySize : (i+1)*h.EntrySize]

		typ := guidFromDisk(e[0:16])
		if typ == uuid.Nil {
			continue
		}

		first := binary.LittleEndian.Uint64(e[32:])
		last := binary.LittleEndian.Uint64(e[40:])
		if last < first || first < h.FirstUsable || last > h.LastUsable {
			t.log.Warn("partition outside usable area, skipping", "device", blk.Name(), "num", i+1)
			continue
		}

		attrs := binary.LittleEndian.Uint64(e[48:])
		p := &Partition{
			Name:      decodeName(e[56 : 56+gptNameLen]),
			PartUUID:  guidFromDisk(e[16:32]).String(),
			FirstSec:  first,
			Size:      last - first + 1,
			TypeUUID:  typ,
			TypeFlags: attrs,
			Num:       int(i) + 1,
		}
		if attrs&gptAttrLegacyBootable != 0 {
			p.Flags |= FlagBootable
		}
		if attrs&gptAttrReadOnly != 0 {
			p.Flags |= FlagReadOnly
		}
		if attrs&gptAttrRequired != 0 {
			p.Flags |= FlagFixed
		}
		t.Parts = append(t.Parts, p)
	}
	return t, nil
}

// compareAlternate returns a description of the first difference between
// the primary header h and the alternate one, or "" if they agree.
func compareAlternate(blk *block.Device, h *gptHeader) string {
	if h.AltLBA > blk.LastLBA() {
		return "alternate header beyond device end"
	}

	sec, err := blk.ReadBlocks(h.AltLBA, 1)
	if err != nil {
		return err.Error()
	}

	alt, _, err := readGPT(blk, sec, h.AltLBA)
	switch {
	case err != nil:
		return err.Error()
	case alt.AltLBA != h.MyLBA:
		return "alternate lba mismatch"
	case alt.DiskGUID != h.DiskGUID:
		return "disk guid mismatch"
	case alt.FirstUsable != h.FirstUsable, alt.LastUsable != h.LastUsable:
		return "usable area mismatch"
	case alt.NumEntries != h.NumEntries, alt.EntrySize != h.EntrySize, alt.EntriesCRC != h.EntriesCRC:
		return "entries mismatch"
	}
	return ""
}

func (EFIParser) Create(blk *block.Device) (*Table, error) {
	if blk.NumBlocks() < 2*gptFirstUsable {
		return nil, fmt.Errorf("%s is too small for a GPT: %w", blk.Name(), errs.ErrInvalid)
	}

	last := blk.LastLBA()
	f := &efiFormat{hdr: gptHeader{
		MyLBA:       1,
		AltLBA:      last,
		FirstUsable: gptFirstUsable,
		LastUsable:  last - gptEntrySectors - 1,
		DiskGUID:    uuid.New(),
		EntriesLBA:  2,
		NumEntries:  gptNumEntries,
		EntrySize:   gptEntrySize,
	}}

	t := newTable(EFIParser{}, f, blk)
	t.DiskUUID = f.hdr.DiskGUID.String()
	return t, nil
}

func (f *efiFormat) Usable(t *Table) (uint64, uint64) {
	return f.hdr.FirstUsable, f.hdr.LastUsable
}

func gptTypeFor(fsType string) (uuid.UUID, error) {
	s := strings.ToLower(fsType)
	switch {
	case s == "", strings.HasPrefix(s, "fat"):
		return GPTTypeBasicData, nil
	case strings.HasPrefix(s, "ext"), s == "linux":
		return GPTTypeLinux, nil
	case s == "swap":
		return GPTTypeLinuxSwap, nil
	case s == "bbenv":
		return GPTTypeBareboxEnv, nil
	case s == "esp":
		return GPTTypeESP, nil
	}

	u, err := uuid.Parse(fsType)
	if err != nil || u == uuid.Nil {
		return uuid.Nil, fmt.Errorf("unknown GPT partition type %q: %w", fsType, errs.ErrInvalid)
	}
	return u, nil
}

func (f *efiFormat) Mkpart(t *Table, name, fsType string, start, end uint64) (*Partition, error) {
	typ, err := gptTypeFor(fsType)
	if err != nil {
		return nil, err
	}
	if _, err := encodeName(name); err != nil {
		return nil, err
	}

	num, ok := freeNum(t, int(f.hdr.NumEntries))
	if !ok {
		return nil, fmt.Errorf("all %d GPT entries in use: %w", f.hdr.NumEntries, errs.ErrOutOfSpace)
	}

	return &Partition{
		Name:     name,
		PartUUID: uuid.New().String(),
		FirstSec: start,
		Size:     end - start,
		TypeUUID: typ,
		Num:      num,
	}, nil
}

func (f *efiFormat) Rmpart(t *Table, p *Partition) error {
	if p.Flags&FlagFixed != 0 {
		return fmt.Errorf("partition %d is marked required: %w", p.Num, errs.ErrPermission)
	}
	return nil
}

func (f *efiFormat) Rename(t *Table, p *Partition, name string) error {
	if _, err := encodeName(name); err != nil {
		return err
	}
	p.Name = name
	return nil
}

func (f *efiFormat) SetGUID(t *Table, p *Partition, guid string) error {
	u, err := uuid.Parse(guid)
	if err != nil || u == uuid.Nil {
		return fmt.Errorf("invalid guid %q: %w", guid, errs.ErrInvalid)
	}
	p.PartUUID = u.String()
	return nil
}

// entrySectors is the number of sectors taken by an array of n entries.
func entrySectors(n uint32) uint64 {
	return (uint64(n)*gptEntrySize + block.SectorSize - 1) / block.SectorSize
}

// entries marshals t into an array of as many entries as the header
// declares, so tables read from disk keep their layout.
func (f *efiFormat) entries(t *Table) ([]byte, error) {
	n := int(f.hdr.NumEntries)
	buf := make([]byte, entrySectors(f.hdr.NumEntries)*block.SectorSize)
	for _, p := range t.Parts {
		if p.Num < 1 || p.Num > n {
			return nil, fmt.Errorf("gpt: partition number %d: %w", p.Num, errs.ErrInvalid)
		}

		id, err := uuid.Parse(p.PartUUID)
		if err != nil {
			return nil, fmt.Errorf("gpt: partition %d guid %q: %w", p.Num, p.PartUUID, errs.ErrInvalid)
		}
		name, err := encodeName(p.Name)
		if err != nil {
			return nil, err
		}

		attrs := p.TypeFlags &^ (gptAttrLegacyBootable | gptAttrReadOnly | gptAttrRequired)
		if p.Flags&FlagBootable != 0 {
			attrs |= gptAttrLegacyBootable
		}
		if p.Flags&FlagReadOnly != 0 {
			attrs |= gptAttrReadOnly
		}
		if p.Flags&FlagFixed != 0 {
			attrs |= gptAttrRequired
		}

		e := buf[(p.Num-1)*gptEntrySize : p.Num*gptEntrySize]
		copy(e[0:16], guidToDisk(p.TypeUUID))
		copy(e[16:32], guidToDisk(id))
		binary.LittleEndian.PutUint64(e[32:], p.FirstSec)
		binary.LittleEndian.PutUint64(e[40:], p.End()-1)
		binary.LittleEndian.PutUint64(e[48:], attrs)
		copy(e[56:56+gptNameLen], name)
	}
	return buf, nil
}

func (f *efiFormat) Write(t *Table) error {
	entries, err := f.entries(t)
	if err != nil {
		return err
	}

	sectors := entrySectors(f.hdr.NumEntries)
	if 2+sectors > f.hdr.FirstUsable {
		return fmt.Errorf("gpt: %d entries overlap first usable lba %d: %w", f.hdr.NumEntries, f.hdr.FirstUsable, errs.ErrInvalid)
	}

	last := t.Blk.LastLBA()
	if f.hdr.LastUsable+sectors+1 > last {
		return fmt.Errorf("gpt: device %s shrunk below the table: %w", t.Blk.Name(), errs.ErrOutOfSpace)
	}

	if err := writeProtectiveMBR(t.Blk); err != nil {
		return err
	}

	primary := f.hdr
	primary.MyLBA = 1
	primary.AltLBA = last
	primary.EntriesLBA = 2
	primary.EntrySize = gptEntrySize
	primary.EntriesCRC = crc32.ChecksumIEEE(entries[:f.hdr.NumEntries*gptEntrySize])

	alternate := primary
	alternate.MyLBA = last
	alternate.AltLBA = 1
	alternate.EntriesLBA = last - sectors

	if err := t.Blk.WriteBlocks(primary.EntriesLBA, entries); err != nil {
		return err
	}
	if err := t.Blk.WriteBlocks(primary.MyLBA, primary.marshal()); err != nil {
		return err
	}
	if err := t.Blk.WriteBlocks(alternate.EntriesLBA, entries); err != nil {
		return err
	}
	if err := t.Blk.WriteBlocks(alternate.MyLBA, alternate.marshal()); err != nil {
		return err
	}

	f.hdr = primary
	return nil
}

// writeProtectiveMBR claims the whole device with a single 0xEE entry. The
// boot code is preserved.
func writeProtectiveMBR(blk *block.Device) error {
	sec, err := blk.ReadBlocks(0, 1)
	if err != nil {
		return err
	}

	size := min(blk.LastLBA(), 0xFFFFFFFF)
	mbr := disk.MBR{}
	mbr.PartitionEntries[0] = disk.NewMBRPartitionEntry(disk.PartitionTypeGPTProtective, 1, uint32(size), false)
	mbr.PutTable(sec)
	return blk.WriteBlocks(0, sec)
}
