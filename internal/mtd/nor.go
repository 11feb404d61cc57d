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

// NOR simulates a NOR flash with sector erase and write protection.
type NOR struct {
	EraseSize int64

	data      []byte
	protected []bool
}

func NewNOR(size, eraseSize int64) (*NOR, error) {
	if eraseSize <= 0 || size%eraseSize != 0 {
		return nil, fmt.Errorf("nor geometry size=%d erase=%d: %w", size, eraseSize, errs.ErrInvalid)
	}

	data := make([]byte, size)
	for i := range data {
		data[i] = 0xff
	}

	return &NOR{
		EraseSize: eraseSize,
		data:      data,
		protected: make([]bool, size/eraseSize),
	}, nil
}

func (n *NOR) Size() int64 { return int64(len(n.data)) }

func (n *NOR) Bytes() []byte { return n.data }

func (n *NOR) IsProtected(off int64) bool {
	return n.protected[off/n.EraseSize]
}

func (n *NOR) sectors(off, size int64) (int64, int64, error) {
	if off < 0 || size < 0 || off+size > n.Size() {
		return 0, 0, errs.ErrInvalid
	}
	if size == 0 {
		return 0, 0, nil
	}
	return off / n.EraseSize, (off + size - 1) / n.EraseSize, nil
}

func (n *NOR) checkWritable(off, size int64) error {
	first, last, err := n.sectors(off, size)
	if err != nil || size == 0 {
		return err
	}

	for s := first; s <= last; s++ {
		if n.protected[s] {
			return fmt.Errorf("sector %d is protected: %w", s, errs.ErrPermission)
		}
	}
	return nil
}

func (n *NOR) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errs.ErrInvalid
	}
	if off >= n.Size() {
		return 0, io.EOF
	}

	c := copy(p, n.data[off:])
	if c < len(p) {
		return c, io.EOF
	}
	return c, nil
}

func (n *NOR) WriteAt(p []byte, off int64) (int, error) {
	if err := n.checkWritable(off, int64(len(p))); err != nil {
		return 0, err
	}

	for i, b := range p {
		n.data[off+int64(i)] &= b
	}
	return len(p), nil
}

// Erase erases every sector touched by [off, off+size).
func (n *NOR) Erase(off, size int64) error {
	if err := n.checkWritable(off, size); err != nil {
		return err
	}

	first, last, _ := n.sectors(off, size)
	if size == 0 {
		return nil
	}

	for i := first * n.EraseSize; i < (last+1)*n.EraseSize; i++ {
		n.data[i] = 0xff
	}
	return nil
}

func (n *NOR) Protect(off, size int64, prot bool) error {
	first, last, err := n.sectors(off, size)
	if err != nil || size == 0 {
		return err
	}

	for s := first; s <= last; s++ {
		n.protected[s] = prot
	}
	return nil
}
