//go:build unix

package mmap

import (
	"fmt"
	"io"
	"os"

	"github.com/ostafen/bbupdate/internal/errs"
	"golang.org/x/sys/unix"
)

// MmapFile represents a memory-mapped file region.
type MmapFile struct {
	Data         []byte   // The memory-mapped byte slice
	File         *os.File // The underlying opened file
	FileSize     int64    // Total size of the underlying file
	MappedOffset int64    // The starting offset of the mapped region within the file
	Writable     bool
}

// NewMmapFile maps the whole file read-only.
func NewMmapFile(filePath string) (*MmapFile, error) {
	return NewMmapFileRegion(filePath, 0, 0, false)
}

// NewMmapFileRegion creates a new memory-mapped region from a file.
//
// offset must be page-aligned. A length of 0 maps from offset to the end of the file.
// With writable set, stores to Data are carried through to the file.
func NewMmapFileRegion(filePath string, offset, length int64, writable bool) (*MmapFile, error) {
	flag, prot := os.O_RDONLY, unix.PROT_READ
	if writable {
		flag, prot = os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	}

	f, err := os.OpenFile(filePath, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", filePath, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to get file info for %q: %w", filePath, err)
	}
	fileSize := fi.Size()

	if fileSize == 0 {
		f.Close()
		return nil, fmt.Errorf("file %q is empty, cannot mmap: %w", filePath, errs.ErrInvalid)
	}

	if offset < 0 || offset >= fileSize {
		f.Close()
		return nil, fmt.Errorf("offset %d outside file of %d bytes: %w", offset, fileSize, errs.ErrInvalid)
	}

	if length == 0 {
		length = fileSize - offset
	}
	if offset+length > fileSize {
		f.Close()
		return nil, fmt.Errorf("requested mapping (offset %d + length %d) extends beyond file size %d: %w",
			offset, length, fileSize, errs.ErrInvalid)
	}

	if pageSize := int64(unix.Getpagesize()); offset%pageSize != 0 {
		f.Close()
		return nil, fmt.Errorf("offset %d is not page-aligned (page size: %d): %w", offset, pageSize, errs.ErrInvalid)
	}

	data, err := unix.Mmap(int(f.Fd()), offset, int(length), prot, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap file %q at offset %d with length %d: %w", filePath, offset, length, err)
	}

	return &MmapFile{
		Data:         data,
		File:         f,
		FileSize:     fileSize,
		MappedOffset: offset,
		Writable:     writable,
	}, nil
}

func (mr *MmapFile) Size() int64 {
	return int64(len(mr.Data))
}

func (mr *MmapFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errs.ErrInvalid
	}
	if off >= mr.Size() {
		return 0, io.EOF
	}

	n := copy(p, mr.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (mr *MmapFile) WriteAt(p []byte, off int64) (int, error) {
	if !mr.Writable {
		return 0, errs.ErrPermission
	}
	if off < 0 || off+int64(len(p)) > mr.Size() {
		return 0, errs.ErrOutOfSpace
	}
	return copy(mr.Data[off:], p), nil
}

// Flush writes dirty pages back to the file.
func (mr *MmapFile) Flush() error {
	if !mr.Writable || mr.Data == nil {
		return nil
	}
	if err := unix.Msync(mr.Data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("failed to msync: %w", err)
	}
	return nil
}

// Close unmaps the memory region and closes the underlying file.
func (mr *MmapFile) Close() error {
	if mr.Data != nil {
		if err := mr.Flush(); err != nil {
			return err
		}
		if err := unix.Munmap(mr.Data); err != nil {
			return fmt.Errorf("failed to munmap: %w", err)
		}
		mr.Data = nil
	}

	if mr.File != nil {
		if err := mr.File.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
		mr.File = nil
	}
	return nil
}
