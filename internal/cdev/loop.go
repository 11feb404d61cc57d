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

	"github.com/ostafen/bbupdate/internal/fs"
)

type fileOps struct {
	fs.File
}

func (f fileOps) Flush() error {
	return f.Sync()
}

// CreateLoop creates a device backed by the image file or block device at path.
func (d *Devfs) CreateLoop(name, path string, flags Flags) (*Cdev, error) {
	f, err := fs.Open(fs.NormalizePath(path), flags&FlagReadOnly == 0)
	if err != nil {
		return nil, err
	}

	size, err := fs.Size(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("loop %s: %w", name, err)
	}

	c, err := d.Create(name, fileOps{f}, size, flags|FlagLoop)
	if err != nil {
		f.Close()
		return nil, err
	}

	d.log.Debug("loop device created", "name", name, "path", path, "size", size)
	return c, nil
}
