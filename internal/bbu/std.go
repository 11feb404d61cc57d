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
package bbu

import (
	"errors"
	"fmt"

	"github.com/ostafen/bbupdate/internal/disk"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
)

// The DOS partition table area kept by KeepDOSPart: disk signature,
// partition entries and boot signature.
const (
	dosPartOffset = disk.DiskSignatureOffset
	dosPartSize   = disk.MBRSize - disk.DiskSignatureOffset
)

// StdHandler overwrites the start of a device with the image.
type StdHandler struct {
	handler

	ExpectedType filetype.Type
	// Erase erases the image area before writing.
	Erase bool
	// Protect unprotects the image area before writing and protects it again afterwards.
	Protect bool
	// KeepDOSPart preserves a DOS partition table sharing the first sector with the image.
	KeepDOSPart bool
	// Strict refuses mismatching images even when forced.
	Strict bool
}

func NewStdHandler(name, devicefile string, flags HandlerFlags) *StdHandler {
	return &StdHandler{
		handler:      handler{name: name, devicefile: devicefile, flags: flags},
		ExpectedType: filetype.ARMBarebox,
	}
}

// NewInternalMMCHandler returns a handler for barebox on the user area of
// an SD card or eMMC, which usually also holds a DOS partition table.
func NewInternalMMCHandler(name, devicefile string, flags HandlerFlags) *StdHandler {
	h := NewStdHandler(name, devicefile, flags)
	h.KeepDOSPart = true
	return h
}

// NewNORHandler returns a handler for barebox on SPI or parallel NOR flash.
func NewNORHandler(name, devicefile string, flags HandlerFlags) *StdHandler {
	h := NewStdHandler(name, devicefile, flags)
	h.Erase = true
	h.Protect = true
	return h
}

func checkType(env *Env, data *Data, want filetype.Type, strict bool) error {
	got := filetype.Detect(data.Image)
	if got == want {
		return nil
	}

	msg := fmt.Sprintf("image is %s, not %s", got, want)
	if strict {
		if data.Flags&FlagForce != 0 {
			env.log().Warn("force flag ignored by strict handler")
		}
		return fmt.Errorf("%s: %w", msg, errs.ErrInvalidImageType)
	}
	return Force(env, data, msg)
}

func unsupported(err error) bool {
	return errors.Is(err, errs.ErrUnsupportedOperation)
}

func (h *StdHandler) Update(env *Env, data *Data) error {
	dev := data.DeviceFile

	if err := checkType(env, data, h.ExpectedType, h.Strict); err != nil {
		return env.fail(StageValidate, dev, err)
	}

	c, err := openTarget(env, dev)
	if err != nil {
		return env.fail(StageValidate, dev, err)
	}
	defer c.Close()

	if err := ImageSizeCheck(c, data); err != nil {
		return env.fail(StageValidate, dev, err)
	}

	if err := Confirm(env, data); err != nil {
		return env.fail(StageConfirm, dev, err)
	}

	image := data.Image
	if h.KeepDOSPart {
		image, err = keepDOSPart(c.ReadAt, image)
		if err != nil {
			return env.fail(StagePrep, dev, err)
		}
		if int64(len(image)) > c.Target().Size {
			return env.fail(StagePrep, dev, fmt.Errorf("%s too small for a partition table: %w", dev, errs.ErrOutOfSpace))
		}
	}

	size := int64(len(image))
	if h.Protect {
		env.log().Debug("unprotecting", "device", dev, "size", size)
		if err := c.Protect(0, size, false); err != nil && !unsupported(err) {
			return env.fail(StageWrite, dev, fmt.Errorf("unprotecting %s: %w", dev, err))
		}
	}

	if h.Erase {
		env.log().Debug("erasing", "device", dev, "size", size)
		if err := c.Erase(0, size); err != nil && !unsupported(err) {
			return env.fail(StageWrite, dev, fmt.Errorf("%w: %s: %w", errs.ErrEraseFailed, dev, err))
		}
	}

	if err := writeImage(env, c, image, 0, h.name); err != nil {
		return env.fail(StageWrite, dev, err)
	}

	if h.Protect {
		if err := c.Protect(0, size, true); err != nil && !unsupported(err) {
			env.log().Error("protecting failed", "device", dev, "error", err)
		}
	}

	if err := c.Flush(); err != nil {
		return env.fail(StageWrite, dev, err)
	}
	return nil
}

// keepDOSPart returns a copy of image carrying the partition table area
// currently on the device.
func keepDOSPart(readAt func([]byte, int64) (int, error), image []byte) ([]byte, error) {
	mbr := make([]byte, disk.MBRSize)
	if _, err := readAt(mbr, 0); err != nil {
		return nil, fmt.Errorf("%w: reading DOS partition table: %w", errs.ErrReadFailed, err)
	}

	// bytes of sector 0 past a short image keep their device content
	out := make([]byte, max(len(image), disk.MBRSize))
	copy(out, mbr)
	copy(out, image)
	copy(out[dosPartOffset:dosPartOffset+dosPartSize], mbr[dosPartOffset:])
	return out, nil
}
