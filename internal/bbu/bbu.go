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
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
)

type HandlerFlags uint32

// FlagDefault marks the handler used when none is named.
const FlagDefault HandlerFlags = 1 << 0

type DataFlags uint32

const (
	// FlagForce accepts an image whose type does not match the handler.
	FlagForce DataFlags = 1 << iota
	// FlagYes skips the interactive confirmation.
	FlagYes
)

// Handler writes an image to one specific storage target.
type Handler interface {
	Name() string
	DeviceFile() string
	Flags() HandlerFlags
	Update(env *Env, data *Data) error
}

// Data describes a single update request.
type Data struct {
	Image       []byte
	ImageFile   string
	DeviceFile  string
	HandlerName string
	Flags       DataFlags
	// ImageType is filled in by Registry.Update.
	ImageType filetype.Type
}

type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

type Watchdog interface {
	Ping() error
}

// Env holds what handlers need from the running system.
type Env struct {
	Devfs     *cdev.Devfs
	Confirmer Confirmer
	Watchdog  Watchdog
	Logger    *slog.Logger
	// Progress receives a progress bar while writing. Nil disables it.
	Progress io.Writer
	// Hang is called when the target is known to hold a corrupted image.
	Hang func(reason string)
}

func (e *Env) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Env) ping() {
	if e.Watchdog == nil {
		return
	}
	if err := e.Watchdog.Ping(); err != nil {
		e.log().Warn("watchdog ping failed", "error", err)
	}
}

// handler implements the identity part of Handler.
type handler struct {
	name       string
	devicefile string
	flags      HandlerFlags
}

func (h *handler) Name() string        { return h.name }
func (h *handler) DeviceFile() string  { return h.devicefile }
func (h *handler) Flags() HandlerFlags { return h.flags }

// Force lets an update go on despite a failed check when the force flag is set.
func Force(env *Env, data *Data, msg string) error {
	if data.Flags&FlagForce != 0 {
		env.log().Warn("continuing anyway: update forced", "reason", msg)
		return nil
	}
	env.log().Error(msg + ", use force to update anyway")
	return fmt.Errorf("%s: %w", msg, errs.ErrInvalidImageType)
}

// Confirm asks whether to go on with the update. It does nothing in
// unattended contexts, that is with FlagYes or without a Confirmer.
func Confirm(env *Env, data *Data) error {
	if data.Flags&FlagYes != 0 || env.Confirmer == nil {
		return nil
	}

	image := data.ImageFile
	if image == "" {
		image = fmt.Sprintf("<%d bytes>", len(data.Image))
	}

	ok, err := env.Confirmer.Confirm(fmt.Sprintf("update barebox from %s using handler %s to %s (y/n)?",
		image, data.HandlerName, data.DeviceFile))
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrAborted
	}
	return nil
}

// PromptConfirmer asks on Out and reads the answer from In.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (p *PromptConfirmer) Confirm(prompt string) (bool, error) {
	fmt.Fprint(p.Out, prompt+" ")

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// ImageSizeCheck fails with ErrOutOfSpace when the image does not fit c.
func ImageSizeCheck(c *cdev.Cdev, data *Data) error {
	if size := c.Target().Size; int64(len(data.Image)) > size {
		return fmt.Errorf("image of %d bytes does not fit %s (%d bytes): %w",
			len(data.Image), c.Target().Name, size, errs.ErrOutOfSpace)
	}
	return nil
}
