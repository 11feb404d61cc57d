//go:build linux
// +build linux

package fuse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/internal/errs"
)

// DevFS exports the devices of a devfs as regular files. Every access
// goes through mtx, since devfs itself is not safe for concurrent use.
type DevFS struct {
	devfs *cdev.Devfs
	log   *slog.Logger

	mtx   sync.Mutex
	mtime time.Time
}

func NewDevFS(d *cdev.Devfs, log *slog.Logger) *DevFS {
	if log == nil {
		log = slog.Default()
	}
	return &DevFS{devfs: d, log: log, mtime: time.Now()}
}

func (dfs *DevFS) Root() (fs.Node, error) {
	return &Dir{fs: dfs}, nil
}

// Dir implements both fs.Node and fs.HandleReadDirAller
type Dir struct {
	fs *DevFS
}

func (*Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0755
	return nil
}

func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	d.fs.mtx.Lock()
	defer d.fs.mtx.Unlock()

	if _, err := d.fs.devfs.Lookup(name); err != nil {
		return nil, fuse.ENOENT
	}
	return &Device{fs: d.fs, name: name}, nil
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	d.fs.mtx.Lock()
	defer d.fs.mtx.Unlock()

	devs := d.fs.devfs.List()
	dirEntries := make([]fuse.Dirent, len(devs))
	for i, c := range devs {
		dirEntries[i] = fuse.Dirent{
			Inode: uint64(i + 2),
			Name:  c.Name,
			Type:  fuse.DT_File,
		}
	}
	return dirEntries, nil
}

// Device implements fs.Node, fs.HandleReader and fs.HandleWriter on top of a cdev.
type Device struct {
	fs   *DevFS
	name string
}

func (f *Device) Attr(ctx context.Context, a *fuse.Attr) error {
	f.fs.mtx.Lock()
	defer f.fs.mtx.Unlock()

	c, err := f.fs.devfs.Lookup(f.name)
	if err != nil {
		return fuse.ENOENT
	}

	a.Mode = 0644
	if c.Target().Flags&cdev.FlagReadOnly != 0 {
		a.Mode = 0444
	}
	a.Size = uint64(c.Target().Size)
	a.Mtime = f.fs.mtime
	return nil
}

// Setattr accepts and ignores size changes, so that the shell can open
// devices with O_TRUNC.
func (f *Device) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return f.Attr(ctx, &resp.Attr)
}

func (f *Device) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	f.fs.mtx.Lock()
	defer f.fs.mtx.Unlock()

	c, err := f.fs.devfs.Lookup(f.name)
	if err != nil {
		return fuse.ENOENT
	}

	if req.Offset >= c.Target().Size {
		// Trying to read past EOF
		resp.Data = []byte{}
		return nil
	}

	buf := make([]byte, min(int64(req.Size), c.Target().Size-req.Offset))
	n, err := c.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		f.fs.log.Warn("fuse read failed", "device", f.name, "offset", req.Offset, "error", err)
		return toErrno(err)
	}

	resp.Data = buf[:n]
	return nil
}

func (f *Device) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	f.fs.mtx.Lock()
	defer f.fs.mtx.Unlock()

	c, err := f.fs.devfs.Open(f.name, true)
	if err != nil {
		return toErrno(err)
	}
	defer c.Close()

	n, err := c.WriteAt(req.Data, req.Offset)
	if err != nil {
		f.fs.log.Warn("fuse write failed", "device", f.name, "offset", req.Offset, "error", err)
		return toErrno(err)
	}

	resp.Size = n
	f.fs.mtime = time.Now()
	return nil
}

func (f *Device) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	f.fs.mtx.Lock()
	defer f.fs.mtx.Unlock()

	c, err := f.fs.devfs.Lookup(f.name)
	if err != nil {
		return fuse.ENOENT
	}
	return toErrno(c.Flush())
}

func toErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, errs.ErrPermission):
		return fuse.Errno(syscall.EROFS)
	case errors.Is(err, errs.ErrOutOfSpace):
		return fuse.Errno(syscall.ENOSPC)
	case errors.Is(err, errs.ErrInvalid):
		return fuse.Errno(syscall.EINVAL)
	}
	return fuse.Errno(syscall.EIO)
}
