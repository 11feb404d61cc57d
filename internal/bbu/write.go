package bbu

import (
	"fmt"

	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/pkg/pbar"
)

const writeChunkSize = 64 << 10

// openTarget opens device for writing. Errors wrap ErrDeviceOpenFailed.
func openTarget(env *Env, device string) (*cdev.Cdev, error) {
	return env.Devfs.Open(device, true)
}

// writeImage writes buf at off in chunks, pinging the watchdog after each one.
func writeImage(env *Env, c *cdev.Cdev, buf []byte, off int64, label string) error {
	var bar *pbar.ProgressBarState
	if env.Progress != nil {
		bar = pbar.NewProgressBarStateTo(env.Progress, label, int64(len(buf)))
		defer bar.Finish()
	}

	for done := 0; done < len(buf); {
		n := min(writeChunkSize, len(buf)-done)

		if _, err := c.WriteAt(buf[done:done+n], off+int64(done)); err != nil {
			return fmt.Errorf("%w: %s at 0x%x: %w", errs.ErrWriteFailed, c.Target().Name, off+int64(done), err)
		}
		done += n

		env.ping()
		if bar != nil {
			bar.Add(int64(n))
		}
	}
	return nil
}
