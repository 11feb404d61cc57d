package bbu

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
	"github.com/ostafen/bbupdate/pkg/pbar"
)

// NANDHandler writes barebox to raw NAND, skipping bad blocks. Writing a
// foreign image there leaves a board that only boots over JTAG, so the
// image type is never forced.
type NANDHandler struct {
	handler
	Verify bool
}

func NewNANDHandler(name, devicefile string, flags HandlerFlags) *NANDHandler {
	return &NANDHandler{handler: handler{name: name, devicefile: devicefile, flags: flags}}
}

func (h *NANDHandler) Update(env *Env, data *Data) error {
	dev := data.DeviceFile

	if err := checkType(env, data, filetype.ARMBarebox, true); err != nil {
		return env.fail(StageValidate, dev, err)
	}

	raw, err := env.Devfs.Lookup(dev)
	if err != nil {
		return env.fail(StageValidate, dev, fmt.Errorf("%w: %w", errs.ErrDeviceOpenFailed, err))
	}

	eb := raw.EraseBlockSize()
	if eb == 0 {
		return env.fail(StageValidate, dev, fmt.Errorf("%s is not a NAND device: %w", dev, errs.ErrUnsupportedOperation))
	}

	name := raw.Target().Name + ".bbu"
	if _, err := env.Devfs.AddBBDev(raw.Target().Name, name); err != nil {
		return env.fail(StageValidate, dev, fmt.Errorf("%w: %w", errs.ErrDeviceOpenFailed, err))
	}
	defer func() {
		if err := env.Devfs.Remove(name); err != nil {
			env.log().Warn("removing bad block device", "name", name, "error", err)
		}
	}()

	c, err := openTarget(env, name)
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

	if err := h.write(env, c, eb, data.Image); err != nil {
		return env.fail(StageWrite, dev, err)
	}

	if h.Verify {
		if err := verify(c, data.Image); err != nil {
			if env.Hang != nil {
				env.Hang(fmt.Sprintf("barebox on %s is corrupted: %v", dev, err))
			}
			return env.fail(StageWrite, dev, err)
		}
	}
	return c.Flush()
}

// write erases and programs one erase block at a time.
func (h *NANDHandler) write(env *Env, c *cdev.Cdev, eb int64, image []byte) error {
	var bar *pbar.ProgressBarState
	if env.Progress != nil {
		bar = pbar.NewProgressBarStateTo(env.Progress, h.name, int64(len(image)))
		defer bar.Finish()
	}

	for off := int64(0); off < int64(len(image)); off += eb {
		if err := c.Erase(off, eb); err != nil {
			return fmt.Errorf("%w: block at 0x%x: %w", errs.ErrEraseFailed, off, err)
		}

		chunk := image[off:min(off+eb, int64(len(image)))]
		if _, err := c.WriteAt(chunk, off); err != nil {
			return fmt.Errorf("%w: block at 0x%x: %w", errs.ErrWriteFailed, off, err)
		}

		env.ping()
		if bar != nil {
			bar.Add(int64(len(chunk)))
		}
	}
	return nil
}

// verify reads back the good blocks of the bad block device c in order and
// compares them with image.
func verify(c *cdev.Cdev, image []byte) error {
	bb, ok := c.Target().Ops().(*cdev.BBDev)
	if !ok {
		return fmt.Errorf("verify %s: %w", c.Name, errs.ErrUnsupportedOperation)
	}

	buf := make([]byte, len(image))
	if _, err := io.ReadFull(bb.Reader(), buf); err != nil {
		return fmt.Errorf("%w: verify: %w", errs.ErrReadFailed, err)
	}
	if !bytes.Equal(buf, image) {
		return fmt.Errorf("verify: image mismatch: %w", errs.ErrMedia)
	}
	return nil
}
