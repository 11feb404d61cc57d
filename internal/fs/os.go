//go:build !windows
// +build !windows

package fs

import (
	"fmt"
	"os"
)

// Open opens a disk image or block device.
func Open(path string, writable bool) (File, error) {
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

// Size returns the size in bytes of an image file or block device.
func Size(f File) (int64, error) {
	finfo, err := f.Stat()
	if err != nil {
		return 0, err
	}

	if finfo.Mode()&os.ModeDevice == 0 {
		return finfo.Size(), nil
	}

	osf, ok := f.(*os.File)
	if !ok {
		return finfo.Size(), nil
	}
	return deviceSize(osf)
}
