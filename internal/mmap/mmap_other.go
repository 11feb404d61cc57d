//go:build !unix

package mmap

import (
	"fmt"
	"os"

	"github.com/ostafen/bbupdate/internal/errs"
)

// MmapFile is not available on this platform.
type MmapFile struct {
	Data         []byte
	File         *os.File
	FileSize     int64
	MappedOffset int64
	Writable     bool
}

func NewMmapFile(filePath string) (*MmapFile, error) {
	return NewMmapFileRegion(filePath, 0, 0, false)
}

func NewMmapFileRegion(filePath string, offset, length int64, writable bool) (*MmapFile, error) {
	return nil, fmt.Errorf("mmap %q: %w", filePath, errs.ErrUnsupportedOperation)
}

func (mr *MmapFile) Size() int64                              { return 0 }
func (mr *MmapFile) ReadAt(p []byte, off int64) (int, error)  { return 0, errs.ErrUnsupportedOperation }
func (mr *MmapFile) WriteAt(p []byte, off int64) (int, error) { return 0, errs.ErrUnsupportedOperation }
func (mr *MmapFile) Flush() error                             { return nil }
func (mr *MmapFile) Close() error                             { return nil }
