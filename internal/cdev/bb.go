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

	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/pkg/reader"
)

// BBDev presents a raw device with a bad block table as a contiguous device
// made of its good blocks only.
type BBDev struct {
	raw  *Cdev
	eb   int64
	good []int64
}

// AddBBDev creates a bad block aware device named logical on top of raw.
// The set of good blocks is taken when the device is created. A block going
// bad afterwards makes every access to it fail with ErrMedia.
func (d *Devfs) AddBBDev(raw, logical string) (*Cdev, error) {
	r, err := d.Open(raw, false)
	if err != nil {
		return nil, err
	}

	bb, err := newBBDev(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("bb device %s on %s: %w", logical, raw, err)
	}

	flags := FlagBadBlock | r.Target().Flags&FlagReadOnly

	c, err := d.Create(logical, bb, bb.Size(), flags)
	if err != nil {
		r.Close()
		return nil, err
	}

	d.log.Debug("bad block device created", "name", logical, "raw", r.Target().Name,
		"good_blocks", len(bb.good), "bad_blocks", r.Target().Size/bb.eb-int64(len(bb.good)))
	return c, nil
}

func newBBDev(raw *Cdev) (*BBDev, error) {
	eb := raw.EraseBlockSize()
	if eb <= 0 {
		return nil, errs.ErrUnsupportedOperation
	}

	t := raw.Target()
	if t.Offset%eb != 0 || t.Size%eb != 0 {
		return nil, fmt.Errorf("device not aligned to erase blocks of 0x%x bytes: %w", eb, errs.ErrInvalid)
	}

	var good []int64
	for off := int64(0); off < t.Size; off += eb {
		bad, err := raw.IsBad(off)
		if err != nil {
			return nil, err
		}
		if !bad {
			good = append(good, off)
		}
	}

	return &BBDev{
		raw:  raw,
		eb:   eb,
		good: good,
	}, nil
}

func (b *BBDev) Size() int64 {
	return int64(len(b.good)) * b.eb
}

// GoodBlocks returns the raw offsets of the blocks backing the device, in order.
func (b *BBDev) GoodBlocks() []int64 {
	return append([]int64(nil), b.good...)
}

// phys maps a logical offset to the raw device, checking that the block
// did not go bad since the device was created.
func (b *BBDev) phys(off int64) (int64, error) {
	blk := off / b.eb
	if blk >= int64(len(b.good)) {
		return 0, io.EOF
	}

	p := b.good[blk]

	bad, err := b.raw.IsBad(p)
	if err != nil {
		return 0, err
	}
	if bad {
		return 0, fmt.Errorf("%w: block at raw offset 0x%x went bad", errs.ErrMedia, p)
	}
	return p + off%b.eb, nil
}

func (b *BBDev) ReadAt(p []byte, off int64) (int, error) {
	return b.do(p, off, b.raw.ReadAt)
}

func (b *BBDev) WriteAt(p []byte, off int64) (int, error) {
	return b.do(p, off, b.raw.WriteAt)
}

func (b *BBDev) do(p []byte, off int64, fn func([]byte, int64) (int, error)) (int, error) {
	done := 0
	for done < len(p) {
		phys, err := b.phys(off)
		if err != nil {
			return done, err
		}

		n := min(int64(len(p)-done), b.eb-off%b.eb)

		m, err := fn(p[done:done+int(n)], phys)
		done += m
		off += int64(m)
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

// Erase erases the good blocks backing [off, off+size). The range must be
// aligned to erase blocks.
func (b *BBDev) Erase(off, size int64) error {
	if off%b.eb != 0 || size%b.eb != 0 {
		return fmt.Errorf("erase 0x%x+0x%x not aligned to 0x%x: %w", off, size, b.eb, errs.ErrInvalid)
	}

	for ; size > 0; off, size = off+b.eb, size-b.eb {
		phys, err := b.phys(off)
		if err != nil {
			return err
		}
		if err := b.raw.Erase(phys, b.eb); err != nil {
			return err
		}
	}
	return nil
}

func (b *BBDev) Flush() error {
	return b.raw.Flush()
}

func (b *BBDev) Close() error {
	return b.raw.Close()
}

// Reader returns a stream over the good blocks, in logical order.
func (b *BBDev) Reader() io.ReadSeeker {
	readers := make([]io.ReadSeeker, len(b.good))
	sizes := make([]int64, len(b.good))
	for i, off := range b.good {
		readers[i] = io.NewSectionReader(b.raw, off, b.eb)
		sizes[i] = b.eb
	}
	return reader.NewMultiReadSeeker(readers, sizes)
}
