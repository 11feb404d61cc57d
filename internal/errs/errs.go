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
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrExist                = errors.New("already exists")
	ErrBusy                 = errors.New("device or resource busy")
	ErrInvalid              = errors.New("invalid argument")
	ErrPermission           = errors.New("operation not permitted")
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrUnsupportedOperation = errors.New("operation not supported")
	ErrOverlap              = errors.New("region overlaps an existing partition")
	ErrOutOfSpace           = errors.New("no space left on device")
	ErrMedia                = errors.New("media error")
	ErrInvalidImageType     = errors.New("invalid image type")
	ErrDeviceOpenFailed     = errors.New("could not open device")
	ErrReadFailed           = errors.New("read failed")
	ErrWriteFailed          = errors.New("write failed")
	ErrEraseFailed          = errors.New("erase failed")
	ErrAborted              = errors.New("aborted by user")
)

// OpError records the operation and device an error occurred on.
type OpError struct {
	Op     string
	Device string
	Err    error
}

func (e *OpError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Op wraps err in an *OpError. It returns nil if err is nil.
func Op(op, device string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Device: device, Err: err}
}
