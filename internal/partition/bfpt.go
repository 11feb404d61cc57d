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
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"

	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/disk"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
)

const (
	bfptMagic      = "BFPT"
	bfptVersion    = 1
	bfptHeaderSize = 16
	bfptEntrySize  = 36
	bfptMaxEntries = 16
	bfptNameLen    = 8

	// BFPTCopySize is the space reserved for each of the two table copies.
	BFPTCopySize = filetype.BFPTCopyOffset

	bfptFirstUsable = 2 * BFPTCopySize / block.SectorSize
)

// BFPTParser handles the flat partition table used by Bouffalo Lab flash
// layouts: two identical copies at the start of the device, each listing
// byte addressed regions.
type BFPTParser struct{}

func (BFPTParser) Name() string        { return "bfpt" }
func (BFPTParser) Type() filetype.Type { return filetype.BFPT }

// bfptEntry holds the fields of an entry that have no generic counterpart.
type bfptEntry struct {
	Device   uint8
	Active   uint8
	Address0 uint32
	Address1 uint32
	Size0    uint32
	Size1    uint32
	Len      uint32
	Age      uint32
}

type bfptFormat struct {
	extra map[*Partition]*bfptEntry
}

func newBFPTFormat() *bfptFormat {
	return &bfptFormat{extra: map[*Partition]*bfptEntry{}}
}

func (BFPTParser) Create(blk *block.Device) (*Table, error) {
	if blk.NumBlocks() <= bfptFirstUsable {
		return nil, fmt.Errorf("%s is too small for a BFPT: %w", blk.Name(), errs.ErrInvalid)
	}
	return newTable(BFPTParser{}, newBFPTFormat(), blk), nil
}

func (p BFPTParser) Parse(buf []byte, blk *block.Device) (*Table, error) {
	t := newTable(p, newBFPTFormat(), blk)

	err := parseBFPTCopy(t, buf)
	if err == nil {
		return t, nil
	}
	t.log.Warn("first BFPT copy invalid, trying second", "device", blk.Name(), "error", err)

	if len(buf) < 2*BFPTCopySize {
		return nil, err
	}

	t.Parts = nil
	if err := parseBFPTCopy(t, buf[BFPTCopySize:]); err != nil {
		return nil, fmt.Errorf("no valid BFPT copy on %s: %w", blk.Name(), err)
	}
	return t, nil
}

func parseBFPTCopy(t *Table, buf []byte) error {
	if len(buf) < bfptHeaderSize || string(buf[:4]) != bfptMagic {
		return fmt.Errorf("bfpt: bad magic: %w", errs.ErrInvalid)
	}
	if crc32.ChecksumIEEE(buf[:12]) != binary.LittleEndian.Uint32(buf[12:]) {
		return fmt.Errorf("bfpt: header crc mismatch: %w", errs.ErrInvalid)
	}

	n := int(binary.LittleEndian.Uint16(buf[6:]))
	if n > bfptMaxEntries {
		return fmt.Errorf("bfpt: %d entries: %w", n, errs.ErrInvalid)
	}

	end := bfptHeaderSize + n*bfptEntrySize
	if len(buf) < end+4 {
		return fmt.Errorf("bfpt: truncated table: %w", errs.ErrInvalid)
	}
	if crc32.ChecksumIEEE(buf[bfptHeaderSize:end]) != binary.LittleEndian.Uint32(buf[end:]) {
		return fmt.Errorf("bfpt: entries crc mismatch: %w", errs.ErrInvalid)
	}

	f := t.format.(*bfptFormat)
	for i := range n {
		e := buf[bfptHeaderSize+i*bfptEntrySize : bfptHeaderSize+(i+1)*bfptEntrySize]
		x := &bfptEntry{
			Device:   e[1],
			Active:   e[2],
			Address0: binary.LittleEndian.Uint32(e[12:]),
			Address1: binary.LittleEndian.Uint32(e[16:]),
			Size0:    binary.LittleEndian.Uint32(e[20:]),
			Size1:    binary.LittleEndian.Uint32(e[24:]),
			Len:      binary.LittleEndian.Uint32(e[28:]),
			Age:      binary.LittleEndian.Uint32(e[32:]),
		}

		p := &Partition{
			Name:     string(bytes.TrimRight(e[3:3+bfptNameLen+1], "\x00")),
			FirstSec: uint64(x.Address0) / block.SectorSize,
			Size:     (uint64(x.Size0) + block.SectorSize - 1) / block.SectorSize,
			DOSType:  disk.MBRPartition(e[0]),
			Num:      i + 1,
		}
		if p.End() > t.Blk.NumBlocks() {
			t.log.Warn("partition exceeds device, skipping", "device", t.Blk.Name(), "name", p.Name)
			continue
		}
		if x.Address0%block.SectorSize != 0 {
			t.log.Warn("partition not sector aligned", "device", t.Blk.Name(), "name", p.Name, "address", x.Address0)
		}

		t.Parts = append(t.Parts, p)
		f.extra[p] = x
	}
	return nil
}

func (f *bfptFormat) Usable(t *Table) (uint64, uint64) {
	return bfptFirstUsable, t.Blk.LastLBA()
}

func bfptTypeFor(fsType string) (uint8, error) {
	if fsType == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(fsType), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bfpt partition type %q: %w", fsType, errs.ErrInvalid)
	}
	return uint8(v), nil
}

func checkBFPTName(name string) error {
	if len(name) > bfptNameLen {
		return fmt.Errorf("bfpt: name %q longer than %d bytes: %w", name, bfptNameLen, errs.ErrInvalid)
	}
	return nil
}

func (f *bfptFormat) Mkpart(t *Table, name, fsType string, start, end uint64) (*Partition, error) {
	typ, err := bfptTypeFor(fsType)
	if err != nil {
		return nil, err
	}
	if err := checkBFPTName(name); err != nil {
		return nil, err
	}
	if end*block.SectorSize > 1<<32 {
		return nil, fmt.Errorf("bfpt: partition end beyond 4 GiB: %w", errs.ErrInvalid)
	}

	num, ok := freeNum(t, bfptMaxEntries)
	if !ok {
		return nil, fmt.Errorf("all %d BFPT entries in use: %w", bfptMaxEntries, errs.ErrOutOfSpace)
	}

	return &Partition{
		Name:     name,
		FirstSec: start,
		Size:     end - start,
		DOSType:  disk.MBRPartition(typ),
		Num:      num,
	}, nil
}

// Rmpart keeps entry numbers dense, as they are positions in the on-disk array.
func (f *bfptFormat) Rmpart(t *Table, p *Partition) error {
	delete(f.extra, p)
	for _, q := range t.Parts {
		if q.Num > p.Num {
			q.Num--
		}
	}
	return nil
}

func (f *bfptFormat) Rename(t *Table, p *Partition, name string) error {
	if err := checkBFPTName(name); err != nil {
		return err
	}
	p.Name = name
	return nil
}

// entry returns the on-disk fields of p, keeping the exact byte sizes read
// from the device when the partition did not move.
func (f *bfptFormat) entry(p *Partition) bfptEntry {
	x := bfptEntry{}
	if e, ok := f.extra[p]; ok {
		x = *e
	}

	addr := uint32(p.FirstSec * block.SectorSize)
	size := uint32(p.Size * block.SectorSize)
	if x.Address0 != addr || (uint64(x.Size0)+block.SectorSize-1)/block.SectorSize != p.Size {
		x.Address0 = addr
		x.Size0 = size
	}
	return x
}

func (f *bfptFormat) marshal(t *Table) []byte {
	parts := append([]*Partition(nil), t.Parts...)
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].Num < parts[j].Num
	})

	n := len(parts)
	buf := make([]byte, bfptHeaderSize+n*bfptEntrySize+4)
	copy(buf, bfptMagic)
	binary.LittleEndian.PutUint16(buf[4:], bfptVersion)
	binary.LittleEndian.PutUint16(buf[6:], uint16(n))
	binary.LittleEndian.PutUint32(buf[12:], crc32.ChecksumIEEE(buf[:12]))

	for i, p := range parts {
		x := f.entry(p)
		e := buf[bfptHeaderSize+i*bfptEntrySize:]
		e[0] = byte(p.DOSType)
		e[1] = x.Device
		e[2] = x.Active
		copy(e[3:3+bfptNameLen], p.Name)
		binary.LittleEndian.PutUint32(e[12:], x.Address0)
		binary.LittleEndian.PutUint32(e[16:], x.Address1)
		binary.LittleEndian.PutUint32(e[20:], x.Size0)
		binary.LittleEndian.PutUint32(e[24:], x.Size1)
		binary.LittleEndian.PutUint32(e[28:], x.Len)
		binary.LittleEndian.PutUint32(e[32:], x.Age)
	}

	end := bfptHeaderSize + n*bfptEntrySize
	binary.LittleEndian.PutUint32(buf[end:], crc32.ChecksumIEEE(buf[bfptHeaderSize:end]))
	return buf
}

func (f *bfptFormat) Write(t *Table) error {
	table := make([]byte, BFPTCopySize)
	copy(table, f.marshal(t))

	for i := range 2 {
		if err := t.Blk.WriteBlocks(uint64(i*BFPTCopySize/block.SectorSize), table); err != nil {
			return fmt.Errorf("writing BFPT copy %d: %w", i, err)
		}
	}
	return nil
}
