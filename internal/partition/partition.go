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
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/disk"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
)

// PartitionAlignSectors is the alignment of partitions placed by FindFreeSpace (1 MiB).
const PartitionAlignSectors = (1 << 20) / block.SectorSize

type Flags uint32

const (
	FlagBootable Flags = 1 << iota
	FlagReadOnly
	FlagFixed
)

func (f Flags) String() string {
	s := ""
	for _, e := range []struct {
		f    Flags
		name string
	}{{FlagBootable, "boot"}, {FlagReadOnly, "ro"}, {FlagFixed, "fixed"}} {
		if f&e.f == 0 {
			continue
		}
		if s != "" {
			s += ","
		}
		s += e.name
	}
	return s
}

// Partition is one entry of a partition table. Sizes are in sectors.
type Partition struct {
	Name     string
	PartUUID string
	FirstSec uint64
	Size     uint64
	TypeUUID uuid.UUID
	DOSType  disk.MBRPartition
	Flags    Flags
	// TypeFlags holds the raw, format specific attribute bits.
	TypeFlags uint64
	// Num is the 1-based position of the entry in the on-disk table.
	Num int
}

// End returns the first sector after the partition.
func (p *Partition) End() uint64 {
	return p.FirstSec + p.Size
}

func (p *Partition) String() string {
	return fmt.Sprintf("%d: %q start=%d size=%d", p.Num, p.Name, p.FirstSec, p.Size)
}

// Parser is a partition table format driver.
type Parser interface {
	Name() string
	// Type is the on-disk signature claimed by the parser.
	Type() filetype.Type
	// Parse builds a table from buf, which holds the first sectors of blk.
	Parse(buf []byte, blk *block.Device) (*Table, error)
}

// Creator is implemented by parsers able to create empty tables.
type Creator interface {
	Create(blk *block.Device) (*Table, error)
}

// Format holds the format specific state of a table and implements its mutations.
type Format interface {
	// Usable returns the first and last (inclusive) sectors partitions may occupy.
	Usable(t *Table) (uint64, uint64)
	Mkpart(t *Table, name, fsType string, start, end uint64) (*Partition, error)
	Rmpart(t *Table, p *Partition) error
	Write(t *Table) error
}

type Renamer interface {
	Rename(t *Table, p *Partition, name string) error
}

type GUIDSetter interface {
	SetGUID(t *Table, p *Partition, guid string) error
}

// Table is the partition table of one block device.
type Table struct {
	Parser   Parser
	Blk      *block.Device
	Parts    []*Partition
	DiskUUID string

	format Format
	// reserved holds regions owned by the format, such as a DOS extended
	// container, that are not partitions but must not be allocated.
	reserved []*Partition
	log      *slog.Logger
}

func newTable(p Parser, f Format, blk *block.Device) *Table {
	return &Table{
		Parser: p,
		Blk:    blk,
		format: f,
		log:    slog.Default(),
	}
}

// SetLogger sets the logger used to report table events.
func (t *Table) SetLogger(log *slog.Logger) {
	if log != nil {
		t.log = log
	}
}

func (t *Table) Format() Format { return t.format }

// Lookup returns the partition with ordinal num.
func (t *Table) Lookup(num int) (*Partition, error) {
	for _, p := range t.Parts {
		if p.Num == num {
			return p, nil
		}
	}
	return nil, fmt.Errorf("partition %d on %s: %w", num, t.Blk.Name(), errs.ErrNotFound)
}

// LookupName returns the first partition labeled name.
func (t *Table) LookupName(name string) (*Partition, error) {
	for _, p := range t.Parts {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("partition %q on %s: %w", name, t.Blk.Name(), errs.ErrNotFound)
}

// Free drops all entries. The block device is left alone.
func (t *Table) Free() {
	t.Parts = nil
	t.reserved = nil
	t.format = nil
}

func freeNum(t *Table, limit int) (int, bool) {
	used := make(map[int]bool, len(t.Parts))
	for _, p := range t.Parts {
		used[p.Num] = true
	}
	for _, p := range t.reserved {
		used[p.Num] = true
	}
	for n := 1; n <= limit; n++ {
		if !used[n] {
			return n, true
		}
	}
	return 0, false
}
