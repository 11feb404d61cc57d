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
package block

import (
	"fmt"

	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/internal/errs"
)

const (
	SectorShift = 9
	SectorSize  = 1 << SectorShift
)

// Device gives sector granular access to a cdev.
type Device struct {
	cdev *cdev.Cdev
}

func New(c *cdev.Cdev) *Device {
	return &Device{cdev: c}
}

func (d *Device) Cdev() *cdev.Cdev { return d.cdev }

func (d *Device) Name() string { return d.cdev.Target().Name }

// NumBlocks returns the number of whole sectors of the device.
func (d *Device) NumBlocks() uint64 {
	return uint64(d.cdev.Target().Size) >> SectorShift
}

// LastLBA returns the address of the last sector.
func (d *Device) LastLBA() uint64 {
	n := d.NumBlocks()
	if n == 0 {
		return 0
	}
	return n - 1
}

// ReadBlocks reads n sectors starting at lba.
func (d *Device) ReadBlocks(lba uint64, n int) ([]byte, error) {
	if n < 0 || lba+uint64(n) > d.NumBlocks() {
		return nil, fmt.Errorf("read %d sectors at lba %d of %s: %w", n, lba, d.Name(), errs.ErrInvalid)
	}

	buf := make([]byte, n*SectorSize)
	if _, err := d.cdev.ReadAt(buf, int64(lba)<<SectorShift); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrMedia, err)
	}
	return buf, nil
}

// WriteBlocks writes buf, which must be made of whole sectors, at lba.
func (d *Device) WriteBlocks(lba uint64, buf []byte) error {
	if len(buf)%SectorSize != 0 {
		return fmt.Errorf("write of %d bytes to %s is not sector aligned: %w", len(buf), d.Name(), errs.ErrInvalid)
	}
	if lba+uint64(len(buf)>>SectorShift) > d.NumBlocks() {
		return fmt.Errorf("write of %d sectors at lba %d of %s: %w", len(buf)>>SectorShift, lba, d.Name(), errs.ErrOutOfSpace)
	}

	if _, err := d.cdev.WriteAt(buf, int64(lba)<<SectorShift); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrMedia, err)
	}
	return nil
}

func (d *Device) Flush() error {
	return d.cdev.Flush()
}
