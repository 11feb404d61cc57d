//go:build !linux
// +build !linux

package fuse

import (
	"fmt"
	"log/slog"

	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/internal/errs"
)

func Mount(mountpoint string, d *cdev.Devfs, log *slog.Logger) error {
	return fmt.Errorf("FUSE mount is only supported on Linux: %w", errs.ErrUnsupportedOperation)
}
