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
package cdev

import (
	"fmt"
	"strings"

	"github.com/ostafen/bbupdate/internal/errs"
)

// PartitionInfo describes a partition to be added on top of a device.
//
// Offset >= 0 is absolute and Offset < 0 counts from the end of the device.
// Inside a CreatePartitions batch, Offset == 0 continues where the previous
// entry of the batch ended. Size <= 0 extends the partition up to |Size|
// bytes before the end.
type PartitionInfo struct {
	Name     string
	Offset   int64
	Size     int64
	Flags    Flags
	PartUUID string
	// Append ignores Offset and places the partition after the last one
	// already registered on the device.
	Append bool
	// BBName, when set, also creates a bad block aware overlay with this name.
	BBName string
}

// AddPartition creates a partition of master described by info.
// If a partition covering exactly the same region exists, a link to it named
// info.Name is created and returned instead.
func (d *Devfs) AddPartition(master string, info PartitionInfo) (*Cdev, error) {
	return d.addPartition(master, info, nil)
}

// addPartition resolves offset 0 to *end when end is not nil and advances it
// past the new partition.
func (d *Devfs) addPartition(master string, info PartitionInfo, end *int64) (*Cdev, error) {
	m, err := d.Lookup(master)
	if err != nil {
		return nil, err
	}
	m = m.Target()

	offset, size, err := partitionRegion(m, info, end)
	if err != nil {
		return nil, fmt.Errorf("partition %s on %s: %w", info.Name, m.Name, err)
	}

	name := strings.TrimPrefix(info.Name, devPrefix)
	if _, exists := d.cdevs[name]; exists {
		return nil, fmt.Errorf("partition %s: %w", name, errs.ErrExist)
	}

	for _, p := range m.parts {
		if p.Offset == offset && p.Size == size {
			d.log.Debug("identical partition exists, creating link", "name", name, "target", p.Name)
			return d.CreateLink(p, name)
		}

		if info.Flags&FlagCanOverlap == 0 && p.Flags&FlagCanOverlap == 0 &&
			regionOverlap(offset, size, p.Offset, p.Size) {
			d.log.Error("new partition overlaps an existing one, not creating it",
				"name", name, "region", fmt.Sprintf("0x%x-0x%x", offset, offset+size-1),
				"existing", p.Name, "existing_region", fmt.Sprintf("0x%x-0x%x", p.Offset, p.Offset+p.Size-1))
			return nil, fmt.Errorf("partition %s on %s overlaps %s: %w", name, m.Name, p.Name, errs.ErrOverlap)
		}
	}

	c := &Cdev{
		Name:     name,
		PartName: strings.TrimPrefix(name, m.Name+"."),
		Offset:   offset,
		Size:     size,
		Flags:    info.Flags | FlagPartition | m.Flags&FlagReadOnly,
		PartUUID: info.PartUUID,
		master:   m,
	}
	m.parts = append(m.parts, c)
	d.cdevs[name] = c

	d.log.Debug("partition added", "name", name, "offset", offset, "size", size)
	return c, nil
}

func partitionRegion(m *Cdev, info PartitionInfo, end *int64) (int64, int64, error) {
	offset := info.Offset
	switch {
	case info.Append:
		offset = 0
		if n := len(m.parts); n > 0 {
			last := m.parts[n-1]
			offset = last.Offset + last.Size
		}
	case offset == 0 && end != nil:
		offset = *end
	case offset < 0:
		offset += m.Size
	}

	size := info.Size
	if size <= 0 {
		size += m.Size - offset
	}

	if offset < 0 || size <= 0 || offset+size > m.Size {
		return 0, 0, errs.ErrInvalid
	}
	if end != nil {
		*end = offset + size
	}
	return offset, size, nil
}

func regionOverlap(startA, sizeA, startB, sizeB int64) bool {
	return startA < startB+sizeB && startB < startA+sizeA
}

// DelPartition removes a partition. Fixed partitions cannot be removed.
func (d *Devfs) DelPartition(name string) error {
	c, err := d.Lookup(name)
	if err != nil {
		return err
	}

	if c.IsLink() {
		return d.Remove(c.Name)
	}

	if c.master == nil {
		return fmt.Errorf("delpart %s: not a partition: %w", c.Name, errs.ErrInvalid)
	}
	if c.Flags&FlagFixed != 0 {
		return fmt.Errorf("delpart %s: %w", c.Name, errs.ErrPermission)
	}
	return d.Remove(c.Name)
}

// CreatePartitions adds all partitions in infos to master, in order.
// An entry with offset 0 starts where the previous entry ended.
func (d *Devfs) CreatePartitions(master string, infos []PartitionInfo) error {
	var end int64
	for _, info := range infos {
		if _, err := d.addPartition(master, info, &end); err != nil {
			return err
		}

		if info.BBName == "" {
			continue
		}

		if _, err := d.AddBBDev(info.Name, info.BBName); err != nil {
			return err
		}
	}
	return nil
}
