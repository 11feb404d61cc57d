package bbu

import (
	"fmt"

	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
)

// XloadSlotsHandler writes the first stage loader to each of the NAND
// slots the boot ROM tries in turn.
type XloadSlotsHandler struct {
	handler
	Slots []string
}

func NewXloadSlotsHandler(name string, slots []string, flags HandlerFlags) *XloadSlotsHandler {
	dev := ""
	if len(slots) > 0 {
		dev = slots[0]
	}
	return &XloadSlotsHandler{
		handler: handler{name: name, devicefile: dev, flags: flags},
		Slots:   slots,
	}
}

func (h *XloadSlotsHandler) Update(env *Env, data *Data) error {
	if len(h.Slots) == 0 {
		return env.fail(StageValidate, h.name, fmt.Errorf("no xload slots: %w", errs.ErrInvalid))
	}

	if filetype.Detect(data.Image) != filetype.CHImage {
		if err := Force(env, data, "Not a MLO image"); err != nil {
			return env.fail(StageValidate, h.Slots[0], err)
		}
	}

	for _, slot := range h.Slots {
		c, err := openTarget(env, slot)
		if err != nil {
			return env.fail(StageValidate, slot, err)
		}
		err = ImageSizeCheck(c, data)
		c.Close()
		if err != nil {
			return env.fail(StageValidate, slot, err)
		}
	}

	if err := Confirm(env, data); err != nil {
		return env.fail(StageConfirm, h.Slots[0], err)
	}

	for i, slot := range h.Slots {
		if err := h.writeSlot(env, slot, data.Image); err != nil {
			return env.fail(StageWrite, slot, fmt.Errorf("slot %d/%d: %w", i+1, len(h.Slots), err))
		}
		env.log().Info("xload slot written", "slot", slot)
	}
	return nil
}

func (h *XloadSlotsHandler) writeSlot(env *Env, slot string, image []byte) error {
	c, err := openTarget(env, slot)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Erase(0, c.Target().Size); err != nil && !unsupported(err) {
		return fmt.Errorf("%w: %s: %w", errs.ErrEraseFailed, slot, err)
	}
	if err := writeImage(env, c, image, 0, slot); err != nil {
		return err
	}
	return c.Flush()
}
