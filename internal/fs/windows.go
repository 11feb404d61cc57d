//go:build windows
// +build windows

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
package fs

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

type WindowsDiskFile struct {
	handle windows.Handle
}

type diskFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	sys     any
}

func (fi *diskFileInfo) Name() string       { return fi.name }
func (fi *diskFileInfo) Size() int64        { return fi.size }
func (fi *diskFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *diskFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *diskFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *diskFileInfo) Sys() interface{}   { return fi.sys }

// Open opens a disk image, or a raw volume when path has the \\.\ prefix
// or names a drive.
func Open(path string, writable bool) (File, error) {
	path = NormalizeVolumePath(path)
	if !strings.HasPrefix(path, `\\.\`) {
		flags := os.O_RDONLY
		if writable {
			flags = os.O_RDWR
		}

		f, err := os.OpenFile(path, flags, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to open %q: %w", path, err)
		}
		return f, nil
	}

	access := uint32(windows.GENERIC_READ)
	if writable {
		access |= windows.GENERIC_WRITE
	}

	handle, err := windows.CreateFile(
		windows.StringToUTF16Ptr(path),
		access,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	return &WindowsDiskFile{handle: handle}, nil
}

// Size returns the size in bytes of an image file or raw volume.
func Size(f File) (int64, error) {
	finfo, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return finfo.Size(), nil
}

func (d *WindowsDiskFile) ReadAt(p []byte, off int64) (int, error) {
	const sectorSize = 512

	// Calculate aligned offset and size
	alignedOffset := off / sectorSize * sectorSize
	alignmentDiff := int(off - alignedOffset)

	// Calculate aligned read size (must fully cover p)
	alignedSize := ((len(p) + alignmentDiff + sectorSize - 1) / sectorSize) * sectorSize

	// Allocate aligned buffer
	buf := make([]byte, alignedSize)

	// Prepare OVERLAPPED with aligned offset
	var bytesRead uint32
	ov := new(windows.Overlapped)
	ov.Offset = uint32(alignedOffset)
	ov.OffsetHigh = uint32(alignedOffset >> 32)

	err := windows.ReadFile(d.handle, buf, &bytesRead, ov)
	if err != nil {
		if err == syscall.ERROR_IO_PENDING {
			err = windows.GetOverlappedResult(d.handle, ov, &bytesRead, true)
		}
		if err != nil {
			return 0, fmt.Errorf("aligned read failed: %w", err)
		}
	}

	// Copy only requested portion
	n := copy(p, buf[alignmentDiff:])
	return n, nil
}

// WriteAt writes whole sectors; raw volumes reject unaligned writes.
func (d *WindowsDiskFile) WriteAt(p []byte, off int64) (int, error) {
	const sectorSize = 512

	if off%sectorSize != 0 || len(p)%sectorSize != 0 {
		return 0, fmt.Errorf("unaligned write of %d bytes at %d", len(p), off)
	}

	var written uint32
	ov := new(windows.Overlapped)
	ov.Offset = uint32(off)
	ov.OffsetHigh = uint32(off >> 32)

	err := windows.WriteFile(d.handle, p, &written, ov)
	if err == syscall.ERROR_IO_PENDING {
		err = windows.GetOverlappedResult(d.handle, ov, &written, true)
	}
	if err != nil {
		return int(written), fmt.Errorf("write failed: %w", err)
	}
	return int(written), nil
}

func (d *WindowsDiskFile) Sync() error {
	return windows.FlushFileBuffers(d.handle)
}

type DISK_GEOMETRY struct {
	Cylinders         int64
	MediaType         uint32
	TracksPerCylinder uint32
	SectorsPerTrack   uint32
	BytesPerSector    uint32
}

const IOCTL_DISK_GET_DRIVE_GEOMETRY = 0x70000

func (d *WindowsDiskFile) Stat() (os.FileInfo, error) {
	var geometry DISK_GEOMETRY
	var bytesReturned uint32

	err := windows.DeviceIoControl(
		d.handle,
		IOCTL_DISK_GET_DRIVE_GEOMETRY,
		nil,
		0,
		(*byte)(unsafe.Pointer(&geometry)),
		uint32(unsafe.Sizeof(geometry)),
		&bytesReturned,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("DeviceIoControl(IOCTL_DISK_GET_DRIVE_GEOMETRY) failed: %w", err)
	}

	size := geometry.Cylinders * int64(geometry.TracksPerCylinder) * int64(geometry.SectorsPerTrack) * int64(geometry.BytesPerSector)

	// Build a minimal FileInfo-like struct
	return &diskFileInfo{
		name:    "", // no name
		size:    size,
		mode:    0,
		modTime: time.Time{},
		sys:     geometry,
	}, nil
}

// Close closes the underlying handle
func (d *WindowsDiskFile) Close() error {
	return windows.CloseHandle(d.handle)
}
