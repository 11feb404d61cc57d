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
package mtd

import (
	"fmt"
	"io"

	"github.com/ostafen/bbupdate/internal/errs"
)

// NAND simulates a raw NAND flash with a bad block table. Programming can only
// clear bits, so a block must be erased before it can be rewritten.
type NAND struct {
	PageSize  int64
	EraseSize int64

	data    []byte
	bad     map[int64]bool
	failing map[int64]bool

	// Stats
	Erases map[int64]int
	Writes map[int64]int
}

func NewNAND(size, eraseSize, pageSize int64) (*NAND, error) {
	if eraseSize <= 0 || pageSize <= 0 || eraseSize%pageSize != 0 || size%eraseSize != 0 {
		return nil, fmt.Errorf("nand geometry size=%d erase=%d page=%d: %w", size, eraseSize, pageSize, errs.ErrInvalid)
	}

	data := make([]byte, size)
	for i := range data {
		data[i] = 0xff
	}

	return &NAND{
		PageSize:  pageSize,
		EraseSize: eraseSize,
		data:      data,
		bad:       make(map[int64]bool),
		failing:   make(map[int64]bool),
		Erases:    make(map[int64]int),
		Writes:    make(map[int64]int),
	}, nil
}

func (n *NAND) Size() int64 { return int64(len(n.data)) }

func (n *NAND) EraseBlockSize() int64 { return n.EraseSize }

// NumBlocks returns the number of erase blocks.
func (n *NAND) NumBlocks() int64 { return n.Size() / n.EraseSize }

// Bytes gives direct access to the array, bypassing bad block checks.
func (n *NAND) Bytes() []byte { return n.data }

func (n *NAND) block(off int64) int64 { return off / n.EraseSize }

func (n *NAND) IsBad(off int64) (bool, error) {
	if off < 0 || off >= n.Size() {
		return false, errs.ErrInvalid
	}

	blk := n.block(off)
	if n.failing[blk] {
		delete(n.failing, blk)
		n.bad[blk] = true
	}
	return n.bad[blk], nil
}

func (n *NAND) MarkBad(off int64) error {
	if off < 0 || off >= n.Size() {
		return errs.ErrInvalid
	}
	n.bad[n.block(off)] = true
	return nil
}

// FailAt makes the block containing off go bad at its next access.
func (n *NAND) FailAt(off int64) {
	n.failing[n.block(off)] = true
}

func (n *NAND) check(off, size int64) error {
	if off < 0 || size < 0 || off+size > n.Size() {
		return errs.ErrInvalid
	}

	for blk := n.block(off); size > 0 && blk <= n.block(off+size-1); blk++ {
		if bad, _ := n.IsBad(blk * n.EraseSize); bad {
			return fmt.Errorf("%w: access to bad block %d", errs.ErrMedia, blk)
		}
	}
	return nil
}

func (n *NAND) ReadAt(p []byte, off int64) (int, error) {
	if off >= n.Size() {
		return 0, io.EOF
	}

	size := min(int64(len(p)), n.Size()-off)
	if err := n.check(off, size); err != nil {
		return 0, err
	}

	c := copy(p, n.data[off:off+size])
	if c < len(p) {
		return c, io.EOF
	}
	return c, nil
}

func (n *NAND) WriteAt(p []byte, off int64) (int, error) {
	if err := n.check(off, int64(len(p))); err != nil {
		return 0, err
	}

	for i, b := range p {
		n.data[off+int64(i)] &= b
	}

	for blk := n.block(off); len(p) > 0 && blk <= n.block(off+int64(len(p))-1); blk++ {
		n.Writes[blk]++
	}
	return len(p), nil
}

func (n *NAND) Erase(off, size int64) error {
	if off%n.EraseSize != 0 || size%n.EraseSize != 0 {
		return fmt.Errorf("erase 0x%x+0x%x not block aligned: %w", off, size, errs.ErrInvalid)
	}
	if err := n.check(off, size); err != nil {
		return err
	}

	for i := off; i < off+size; i++ {
		n.data[i] = 0xff
	}
	for blk := n.block(off); blk < n.block(off+size); blk++ {
		n.Erases[blk]++
	}
	return nil
}
