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
package cdev

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/ostafen/bbupdate/internal/errs"
)

const devPrefix = "/dev/"

// Devfs is the registry of all character devices of the system.
type Devfs struct {
	cdevs map[string]*Cdev
	log   *slog.Logger
}

func New(log *slog.Logger) *Devfs {
	if log == nil {
		log = slog.Default()
	}
	return &Devfs{
		cdevs: make(map[string]*Cdev),
		log:   log,
	}
}

func (d *Devfs) Logger() *slog.Logger { return d.log }

// Create registers a new device backed by ops.
func (d *Devfs) Create(name string, ops Ops, size int64, flags Flags) (*Cdev, error) {
	name = strings.TrimPrefix(name, devPrefix)
	if name == "" || strings.Contains(name, "/") || size < 0 {
		return nil, fmt.Errorf("create %q: %w", name, errs.ErrInvalid)
	}
	if _, exists := d.cdevs[name]; exists {
		return nil, fmt.Errorf("create %s: %w", name, errs.ErrExist)
	}

	c := &Cdev{
		Name:  name,
		Size:  size,
		Flags: flags,
		ops:   ops,
	}
	d.cdevs[name] = c

	d.log.Debug("device created", "name", name, "size", size)
	return c, nil
}

// Lookup returns the named device. A leading "/dev/" is ignored.
// Links are returned as such; reads and writes go to their target.
func (d *Devfs) Lookup(name string) (*Cdev, error) {
	c, ok := d.cdevs[strings.TrimPrefix(name, devPrefix)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, errs.ErrNotFound)
	}
	return c, nil
}

func (d *Devfs) LookupPartUUID(partuuid string) (*Cdev, error) {
	for _, c := range d.List() {
		if !c.IsLink() && c.PartUUID != "" && strings.EqualFold(c.PartUUID, partuuid) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("partuuid %s: %w", partuuid, errs.ErrNotFound)
}

// LookupDiskUUID returns the whole-disk device carrying diskuuid.
func (d *Devfs) LookupDiskUUID(diskuuid string) (*Cdev, error) {
	for _, c := range d.List() {
		if !c.IsLink() && !c.IsPartition() && c.DiskUUID != "" && strings.EqualFold(c.DiskUUID, diskuuid) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("diskuuid %s: %w", diskuuid, errs.ErrNotFound)
}

// List returns all devices sorted by name.
func (d *Devfs) List() []*Cdev {
	res := make([]*Cdev, 0, len(d.cdevs))
	for _, c := range d.cdevs {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name < res[j].Name
	})
	return res
}

// Open looks up a device and takes a reference on it, which prevents its removal.
func (d *Devfs) Open(name string, writable bool) (*Cdev, error) {
	c, err := d.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrDeviceOpenFailed, err)
	}

	t := c.Target()
	if writable && t.Flags&FlagReadOnly != 0 {
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrDeviceOpenFailed, name, errs.ErrPermission)
	}

	t.open++
	return c, nil
}

func (d *Devfs) CreateLink(c *Cdev, name string) (*Cdev, error) {
	name = strings.TrimPrefix(name, devPrefix)
	if _, exists := d.cdevs[name]; exists {
		return nil, fmt.Errorf("link %s: %w", name, errs.ErrExist)
	}

	t := c.Target()
	l := &Cdev{
		Name: name,
		link: t,
	}
	t.links = append(t.links, l)
	d.cdevs[name] = l
	return l, nil
}

// Remove unregisters a device, together with its partitions and links.
func (d *Devfs) Remove(name string) error {
	c, err := d.Lookup(name)
	if err != nil {
		return err
	}

	if c.IsLink() {
		t := c.link
		t.links = removeCdev(t.links, c)
		delete(d.cdevs, c.Name)
		return nil
	}

	if busy := openChild(c); busy != nil {
		return fmt.Errorf("remove %s: %s is open: %w", c.Name, busy.Name, errs.ErrBusy)
	}
	return d.remove(c)
}

func openChild(c *Cdev) *Cdev {
	if c.open > 0 {
		return c
	}
	for _, p := range c.parts {
		if busy := openChild(p); busy != nil {
			return busy
		}
	}
	return nil
}

func (d *Devfs) remove(c *Cdev) error {
	for len(c.parts) > 0 {
		if err := d.remove(c.parts[len(c.parts)-1]); err != nil {
			return err
		}
	}

	for _, l := range c.links {
		delete(d.cdevs, l.Name)
	}
	c.links = nil

	if c.master != nil {
		c.master.parts = removeCdev(c.master.parts, c)
	}
	delete(d.cdevs, c.Name)

	if closer, ok := c.ops.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("remove %s: %w", c.Name, err)
		}
	}

	d.log.Debug("device removed", "name", c.Name)
	return nil
}

func removeCdev(list []*Cdev, c *Cdev) []*Cdev {
	for i, e := range list {
		if e == c {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
