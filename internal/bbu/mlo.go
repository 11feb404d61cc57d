package bbu

import (
	"fmt"

	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
)

const (
	MLOPartTableOffset = 0x1BE
	MLOPartTableSize   = 66
	MLOCopies          = 4
	MLOCopyStride      = 0x20000
	MLOMaxSize         = MLOCopyStride
)

// RestorePolicy decides whether the saved partition table is written
// back after a failed MLO write.
type RestorePolicy int

const (
	// RestoreOnSuccess leaves the device as is when a copy could not be written.
	RestoreOnSuccess RestorePolicy = iota
	// RestoreAlways writes the table back even after a partial write.
	RestoreAlways
)

// MLOHandler writes the first stage loader of AM33xx SoCs to the four
// locations the boot ROM scans on eMMC. The partition table sharing the
// first sector is preserved.
type MLOHandler struct {
	handler
	Restore RestorePolicy
}

func NewMLOHandler(name, devicefile string, flags HandlerFlags) *MLOHandler {
	return &MLOHandler{handler: handler{name: name, devicefile: devicefile, flags: flags}}
}

func (h *MLOHandler) Update(env *Env, data *Data) error {
	dev := data.DeviceFile

	if filetype.Detect(data.Image) != filetype.CHImage {
		if err := Force(env, data, "Not a MLO image"); err != nil {
			return env.fail(StageValidate, dev, err)
		}
	}
	if len(data.Image) > MLOMaxSize {
		return env.fail(StageValidate, dev, fmt.Errorf("MLO of %d bytes exceeds %d: %w", len(data.Image), MLOMaxSize, errs.ErrInvalid))
	}

	c, err := openTarget(env, dev)
	if err != nil {
		return env.fail(StageValidate, dev, err)
	}
	defer c.Close()

	if need := int64((MLOCopies-1)*MLOCopyStride + len(data.Image)); need > c.Target().Size {
		return env.fail(StageValidate, dev, fmt.Errorf("%s needs %d bytes for %d copies: %w", dev, need, MLOCopies, errs.ErrOutOfSpace))
	}

	if err := Confirm(env, data); err != nil {
		return env.fail(StageConfirm, dev, err)
	}

	table := make([]byte, MLOPartTableSize)
	if _, err := c.ReadAt(table, MLOPartTableOffset); err != nil {
		return env.fail(StagePrep, dev, fmt.Errorf("could not read partition table from %s: %w: %w", dev, errs.ErrReadFailed, err))
	}

	var werr error
	for i := range MLOCopies {
		if err := writeImage(env, c, data.Image, int64(i)*MLOCopyStride, fmt.Sprintf("%s %d/%d", h.name, i+1, MLOCopies)); err != nil {
			werr = fmt.Errorf("could not write MLO %d/%d to %s: %w", i+1, MLOCopies, dev, err)
			break
		}
	}

	if werr != nil && h.Restore == RestoreOnSuccess {
		return env.fail(StageWrite, dev, werr)
	}

	if _, err := c.WriteAt(table, MLOPartTableOffset); err != nil {
		rerr := fmt.Errorf("could not restore partition table to %s: %w: %w", dev, errs.ErrWriteFailed, err)
		if werr != nil {
			env.log().Error("update failed", "stage", StageRestore, "device", dev, "error", rerr)
			return env.fail(StageWrite, dev, werr)
		}
		return env.fail(StageRestore, dev, rerr)
	}

	if werr != nil {
		env.log().Warn("partition table restored after partial MLO write", "device", dev)
		return env.fail(StageWrite, dev, werr)
	}

	if err := c.Flush(); err != nil {
		return env.fail(StageRestore, dev, err)
	}
	return nil
}
