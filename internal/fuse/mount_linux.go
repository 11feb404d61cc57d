//go:build linux
// +build linux

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
package fuse

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/ostafen/bbupdate/internal/cdev"
	osutils "github.com/ostafen/bbupdate/pkg/util/os"
)

// Mount exports the devices of d under mountpoint until a termination
// signal unmounts it.
func Mount(mountpoint string, d *cdev.Devfs, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	created, err := PrepareMountpoint(mountpoint)
	if err != nil {
		return err
	}
	if created {
		defer os.Remove(mountpoint)
	}

	c, err := fuse.Mount(mountpoint, fuse.FSName("devfs"), fuse.Subtype("bbupdate"))
	if err != nil {
		return err
	}
	defer c.Close()

	serveErr := make(chan error, 1)
	go func() {
		srv := fusefs.New(c, nil)
		serveErr <- srv.Serve(NewDevFS(d, log))
	}()

	log.Info("devfs mounted", "mountpoint", mountpoint, "devices", len(d.List()))
	return waitForUmount(mountpoint, serveErr, log)
}

func waitForUmount(mountpoint string, serveErr <-chan error, log *slog.Logger) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	log.Info("waiting for termination signal...")

	const maxUnmountRetries = 3

	unmountAttempts := 0
	for {
		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("serve %s: %w", mountpoint, err)
			}
			return nil
		case sig := <-sigc:
			log.Info("signal received", "signal", sig)

			if unmountAttempts >= maxUnmountRetries {
				return fmt.Errorf("unable to unmount %s after %d attempts", mountpoint, maxUnmountRetries)
			}

			log.Info("attempting unmount", "mountpoint", mountpoint, "attempt", unmountAttempts+1, "max", maxUnmountRetries)
			err := fuse.Unmount(mountpoint)
			if err == nil {
				log.Info("unmounted successfully")
				return nil
			}

			unmountAttempts++
			log.Warn("unmount failed, waiting for another signal to retry", "error", err,
				"remaining", maxUnmountRetries-unmountAttempts)
		}
	}
}

// PrepareMountpoint ensures the given path is a valid, empty directory suitable for FUSE mounting.
// It creates the directory if it doesn't exist. Returns `true` if created, `false` otherwise,
// or an error if the path exists but isn't an empty directory.
func PrepareMountpoint(mountpoint string) (bool, error) {
	finfo, err := os.Stat(mountpoint)
	if errors.Is(err, os.ErrNotExist) {
		err := os.Mkdir(mountpoint, 0755)
		if err != nil {
			return false, fmt.Errorf("failed to create mountpoint %s: %w", mountpoint, err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat mountpoint %s: %w", mountpoint, err)
	}

	if !finfo.IsDir() {
		return false, fmt.Errorf("mountpoint %s is not a directory", mountpoint)
	}

	empty, err := osutils.IsDirEmpty(mountpoint)
	if err != nil {
		return false, fmt.Errorf("failed to check if mountpoint %s is empty: %w", mountpoint, err)
	}

	if !empty {
		return false, fmt.Errorf("mountpoint %s is not empty", mountpoint)
	}
	return false, nil
}
