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
	"io"
	"strings"

	"github.com/ostafen/bbupdate/internal/errs"
)

// Ops is the minimal backend of a character device.
type Ops interface {
	io.ReaderAt
	io.WriterAt
}

// Eraser is implemented by media that must be erased before writing (NOR, NAND).
type Eraser interface {
	Erase(off, size int64) error
}

// Protector is implemented by media supporting write protection of regions.
type Protector interface {
	Protect(off, size int64, prot bool) error
}

type Flusher interface {
	Flush() error
}

// BadBlocker is implemented by media keeping a bad block table.
// Offsets passed to IsBad and MarkBad may point anywhere inside a block.
type BadBlocker interface {
	IsBad(off int64) (bool, error)
	MarkBad(off int64) error
	EraseBlockSize() int64
}

type Flags uint32

const (
	FlagReadOnly Flags = 1 << iota
	FlagFixed
	FlagCanOverlap
	FlagPartition
	FlagLoop
	FlagBadBlock
)

func (f Flags) String() string {
	var names []string
	for _, e := range []struct {
		f    Flags
		name string
	}{
		{FlagReadOnly, "ro"},
		{FlagFixed, "fixed"},
		{FlagCanOverlap, "overlap"},
		{FlagPartition, "part"},
		{FlagLoop, "loop"},
		{FlagBadBlock, "bb"},
	} {
		if f&e.f != 0 {
			names = append(names, e.name)
		}
	}
	return strings.Join(names, ",")
}

// Cdev is a named character device. It is either backed by its own Ops,
// or it is a partition (a window on its master) or a link to another cdev.
type Cdev struct {
	Name     string
	PartName string
	Offset   int64
	Size     int64
	Flags    Flags
	PartUUID string
	DiskUUID string

	ops    Ops
	master *Cdev
	link   *Cdev
	parts  []*Cdev
	links  []*Cdev
	open   int
}

// Target follows links and returns the cdev actually holding the data.
func (c *Cdev) Target() *Cdev {
	for c.link != nil {
		c = c.link
	}
	return c
}

func (c *Cdev) IsLink() bool { return c.link != nil }

func (c *Cdev) IsPartition() bool { return c.Target().master != nil }

func (c *Cdev) Master() *Cdev { return c.Target().master }

func (c *Cdev) Partitions() []*Cdev { return c.Target().parts }

func (c *Cdev) Links() []*Cdev { return c.Target().links }

func (c *Cdev) OpenCount() int { return c.Target().open }

// Ops returns the backend of the device, following links and partitions.
func (c *Cdev) Ops() Ops {
	root, _ := c.root()
	return root.ops
}

// root returns the device backing c and the absolute offset of c on it.
func (c *Cdev) root() (*Cdev, int64) {
	c = c.Target()

	off := int64(0)
	for c.master != nil {
		off += c.Offset
		c = c.master.Target()
	}
	return c, off
}

func (c *Cdev) ReadAt(p []byte, off int64) (int, error) {
	t := c.Target()
	if off < 0 {
		return 0, errs.Op("read", t.Name, errs.ErrInvalid)
	}
	if off >= t.Size {
		return 0, io.EOF
	}

	var short bool
	if rem := t.Size - off; int64(len(p)) > rem {
		p = p[:rem]
		short = true
	}

	root, base := t.root()

	n, err := root.ops.ReadAt(p, base+off)
	if err != nil && err != io.EOF {
		return n, errs.Op("read", t.Name, err)
	}
	if short || n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (c *Cdev) WriteAt(p []byte, off int64) (int, error) {
	t := c.Target()
	if t.Flags&FlagReadOnly != 0 {
		return 0, errs.Op("write", t.Name, errs.ErrPermission)
	}
	if off < 0 {
		return 0, errs.Op("write", t.Name, errs.ErrInvalid)
	}
	if off+int64(len(p)) > t.Size {
		return 0, errs.Op("write", t.Name, errs.ErrOutOfSpace)
	}

	root, base := t.root()

	n, err := root.ops.WriteAt(p, base+off)
	if err != nil {
		return n, errs.Op("write", t.Name, err)
	}
	if n < len(p) {
		return n, errs.Op("write", t.Name, io.ErrShortWrite)
	}
	return n, nil
}

// Erase erases size bytes at off. Media without an eraser report
// ErrUnsupportedOperation.
func (c *Cdev) Erase(off, size int64) error {
	t := c.Target()
	if t.Flags&FlagReadOnly != 0 {
		return errs.Op("erase", t.Name, errs.ErrPermission)
	}
	if off < 0 || size < 0 || off+size > t.Size {
		return errs.Op("erase", t.Name, errs.ErrInvalid)
	}

	root, base := t.root()

	eraser, ok := root.ops.(Eraser)
	if !ok {
		return errs.Op("erase", t.Name, errs.ErrUnsupportedOperation)
	}
	return errs.Op("erase", t.Name, eraser.Erase(base+off, size))
}

func (c *Cdev) Protect(off, size int64, prot bool) error {
	t := c.Target()
	if off < 0 || size < 0 || off+size > t.Size {
		return errs.Op("protect", t.Name, errs.ErrInvalid)
	}

	root, base := t.root()

	protector, ok := root.ops.(Protector)
	if !ok {
		return errs.Op("protect", t.Name, errs.ErrUnsupportedOperation)
	}
	return errs.Op("protect", t.Name, protector.Protect(base+off, size, prot))
}

func (c *Cdev) Flush() error {
	root, _ := c.root()
	if f, ok := root.ops.(Flusher); ok {
		return errs.Op("flush", c.Target().Name, f.Flush())
	}
	return nil
}

// EraseBlockSize returns the erase block size of the underlying media,
// or 0 if it has no bad block table.
func (c *Cdev) EraseBlockSize() int64 {
	root, _ := c.root()
	if bb, ok := root.ops.(BadBlocker); ok {
		return bb.EraseBlockSize()
	}
	return 0
}

func (c *Cdev) IsBad(off int64) (bool, error) {
	t := c.Target()
	if off < 0 || off >= t.Size {
		return false, errs.Op("isbad", t.Name, errs.ErrInvalid)
	}

	root, base := t.root()

	bb, ok := root.ops.(BadBlocker)
	if !ok {
		return false, errs.Op("isbad", t.Name, errs.ErrUnsupportedOperation)
	}

	bad, err := bb.IsBad(base + off)
	return bad, errs.Op("isbad", t.Name, err)
}

func (c *Cdev) MarkBad(off int64) error {
	t := c.Target()
	if off < 0 || off >= t.Size {
		return errs.Op("markbad", t.Name, errs.ErrInvalid)
	}

	root, base := t.root()

	bb, ok := root.ops.(BadBlocker)
	if !ok {
		return errs.Op("markbad", t.Name, errs.ErrUnsupportedOperation)
	}
	return errs.Op("markbad", t.Name, bb.MarkBad(base+off))
}

// Close releases a reference taken with Devfs.Open.
func (c *Cdev) Close() error {
	t := c.Target()
	if t.open == 0 {
		return errs.Op("close", t.Name, errs.ErrInvalid)
	}
	t.open--
	return nil
}

func (c *Cdev) String() string {
	t := c.Target()
	if c.link != nil {
		return fmt.Sprintf("%s -> %s", c.Name, t.Name)
	}
	return fmt.Sprintf("%s (offset=0x%x size=0x%x flags=%s)", c.Name, t.Offset, t.Size, t.Flags)
}
