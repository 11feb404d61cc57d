package cdev

import (
	"io"

	"github.com/ostafen/bbupdate/internal/errs"
)

// MemDevice is a RAM disk.
type MemDevice struct {
	buf []byte
}

func NewMemDevice(size int64) *MemDevice {
	return &MemDevice{buf: make([]byte, size)}
}

// NewMemDeviceFrom uses buf as backing storage, without copying it.
func NewMemDeviceFrom(buf []byte) *MemDevice {
	return &MemDevice{buf: buf}
}

func (m *MemDevice) Bytes() []byte { return m.buf }

func (m *MemDevice) Size() int64 { return int64(len(m.buf)) }

func (m *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errs.ErrInvalid
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}

	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.buf)) {
		return 0, errs.ErrOutOfSpace
	}
	return copy(m.buf[off:], p), nil
}
