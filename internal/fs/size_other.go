//go:build !linux && !windows

package fs

import (
	"fmt"
	"io"
	"os"
)

func deviceSize(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("could not determine size of %s: %w", f.Name(), err)
	}
	return size, nil
}
