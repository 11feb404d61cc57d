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
	"sort"

	"github.com/ostafen/bbupdate/internal/errs"
)

func regionOverlap(startA, sizeA, startB, sizeB uint64) bool {
	return startA < startB+sizeB && startB < startA+sizeA
}

// IsFree reports whether [start, start+size) overlaps no partition.
func (t *Table) IsFree(start, size uint64) bool {
	for _, p := range t.Parts {
		if regionOverlap(start, size, p.FirstSec, p.Size) {
			return false
		}
	}
	for _, p := range t.reserved {
		if regionOverlap(start, size, p.FirstSec, p.Size) {
			return false
		}
	}
	return true
}

// Create adds a partition covering sectors [start, end).
func (t *Table) Create(name, fsType string, start, end uint64) (*Partition, error) {
	if start >= end {
		return nil, fmt.Errorf("create %q [%d, %d): %w", name, start, end, errs.ErrInvalid)
	}

	first, last := t.format.Usable(t)
	if start < first || end-1 > last {
		return nil, fmt.Errorf("create %q [%d, %d) outside usable area [%d, %d]: %w",
			name, start, end, first, last, errs.ErrOutOfSpace)
	}

	if !t.IsFree(start, end-start) {
		return nil, fmt.Errorf("create %q [%d, %d): %w", name, start, end, errs.ErrOverlap)
	}

	p, err := t.format.Mkpart(t, name, fsType, start, end)
	if err != nil {
		return nil, fmt.Errorf("create %q on %s: %w", name, t.Blk.Name(), err)
	}
	t.Parts = append(t.Parts, p)

	t.log.Debug("partition created", "device", t.Blk.Name(), "num", p.Num, "name", name, "start", start, "size", p.Size)
	return p, nil
}

// FindFreeSpace returns the first sector, at or after start and aligned to
// PartitionAlignSectors, of a free region of the given size.
func (t *Table) FindFreeSpace(sectors, start uint64) (uint64, error) {
	if sectors == 0 {
		return 0, fmt.Errorf("find free space: %w", errs.ErrInvalid)
	}

	first, last := t.format.Usable(t)
	if first > last || sectors > last-first+1 || start > last {
		return 0, fmt.Errorf("no free region of %d sectors on %s: %w", sectors, t.Blk.Name(), errs.ErrOutOfSpace)
	}
	start = max(start, first)

	parts := append(append([]*Partition(nil), t.Parts...), t.reserved...)
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].FirstSec < parts[j].FirstSec
	})

	for _, p := range parts {
		candidate := alignUp(start)
		if candidate+sectors <= p.FirstSec {
			return candidate, nil
		}
		start = max(start, p.End())
	}

	candidate := alignUp(start)
	if candidate+sectors-1 <= last {
		return candidate, nil
	}
	return 0, fmt.Errorf("no free region of %d sectors on %s: %w", sectors, t.Blk.Name(), errs.ErrOutOfSpace)
}

func alignUp(sec uint64) uint64 {
	return (sec + PartitionAlignSectors - 1) / PartitionAlignSectors * PartitionAlignSectors
}

// Remove deletes the partition with ordinal num.
func (t *Table) Remove(num int) error {
	p, err := t.Lookup(num)
	if err != nil {
		return err
	}

	if err := t.format.Rmpart(t, p); err != nil {
		return fmt.Errorf("remove partition %d on %s: %w", num, t.Blk.Name(), err)
	}

	for i, e := range t.Parts {
		if e == p {
			t.Parts = append(t.Parts[:i], t.Parts[i+1:]...)
			break
		}
	}

	t.log.Debug("partition removed", "device", t.Blk.Name(), "num", num)
	return nil
}

func (t *Table) Rename(num int, name string) error {
	p, err := t.Lookup(num)
	if err != nil {
		return err
	}

	r, ok := t.format.(Renamer)
	if !ok {
		return fmt.Errorf("rename on %s table: %w", t.Parser.Name(), errs.ErrUnsupportedOperation)
	}
	return r.Rename(t, p, name)
}

func (t *Table) SetGUID(num int, guid string) error {
	p, err := t.Lookup(num)
	if err != nil {
		return err
	}

	s, ok := t.format.(GUIDSetter)
	if !ok {
		return fmt.Errorf("setguid on %s table: %w", t.Parser.Name(), errs.ErrUnsupportedOperation)
	}
	return s.SetGUID(t, p, guid)
}

// Write persists the table. It is the only operation touching the device.
func (t *Table) Write() error {
	if err := t.format.Write(t); err != nil {
		return fmt.Errorf("writing %s table to %s: %w", t.Parser.Name(), t.Blk.Name(), err)
	}
	if err := t.Blk.Flush(); err != nil {
		return err
	}

	t.log.Info("partition table written", "device", t.Blk.Name(), "type", t.Parser.Name(), "partitions", len(t.Parts))
	return nil
}
