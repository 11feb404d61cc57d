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

// Package board turns a board description into a populated devfs, a
// partition parser registry and the set of update handlers.
package board

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ostafen/bbupdate/internal/bbu"
	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/mmap"
	"github.com/ostafen/bbupdate/internal/mtd"
	"github.com/ostafen/bbupdate/internal/partition"
	osutils "github.com/ostafen/bbupdate/pkg/util/os"
)

type System struct {
	Devfs  *cdev.Devfs
	Parts  *partition.Registry
	BBU    *bbu.Registry
	Tables map[string]*partition.Table

	// The simulated flashes, by device name.
	NAND map[string]*mtd.NAND
	NOR  map[string]*mtd.NOR

	log     *slog.Logger
	created []string
}

// NewSystem returns an empty system with the default partition parsers.
func NewSystem(log *slog.Logger) *System {
	if log == nil {
		log = slog.Default()
	}
	return &System{
		Devfs:  cdev.New(log),
		Parts:  partition.DefaultRegistry(log),
		BBU:    bbu.NewRegistry(log),
		Tables: make(map[string]*partition.Table),
		NAND:   make(map[string]*mtd.NAND),
		NOR:    make(map[string]*mtd.NOR),
		log:    log,
	}
}

// Setup creates everything cfg describes: devices first, then the fixed
// partitions, then the partition tables found on disks, then the handlers.
func Setup(cfg *Config, log *slog.Logger) (*System, error) {
	s := NewSystem(log)

	if err := s.setup(cfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) setup(cfg *Config) error {
	ramSize, err := parseSize(cfg.Memory.Size, defaultRAMSize)
	if err != nil {
		return fmt.Errorf("memory size: %w", err)
	}

	for _, d := range cfg.Devices {
		if err := s.addDevice(cfg, d, ramSize); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
	}

	for _, p := range cfg.Partitions {
		if err := s.addPartition(p); err != nil {
			return err
		}
	}

	for _, d := range cfg.Devices {
		if !d.Scan {
			continue
		}
		if _, err := s.Rescan(d.Name); err != nil && !errors.Is(err, errs.ErrNotFound) {
			return err
		}
	}

	for _, h := range cfg.Handlers {
		if err := s.addHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// AddDisk registers the image file or block device at path as a disk
// named name and reads its partition table, if any.
func (s *System) AddDisk(name, path string, flags cdev.Flags) error {
	if _, err := s.Devfs.CreateLoop(name, path, flags); err != nil {
		return err
	}
	s.created = append(s.created, name)

	if _, err := s.Rescan(name); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	return nil
}

// Rescan rereads the partition table of the named device.
func (s *System) Rescan(name string) (*partition.Table, error) {
	delete(s.Tables, name)

	t, err := s.Parts.Reparse(s.Devfs, name)
	if err != nil {
		return nil, err
	}
	s.Tables[name] = t

	s.log.Info("partition table found", "device", name, "type", t.Parser.Name(), "partitions", len(t.Parts))
	return t, nil
}

func (s *System) addDevice(cfg *Config, d DeviceConfig, ramSize int64) error {
	var flags cdev.Flags
	if d.ReadOnly {
		flags |= cdev.FlagReadOnly
	}

	def := int64(0)
	if d.Type == DeviceRAM {
		def = ramSize
	}
	size, err := parseSize(d.Size, def)
	if err != nil {
		return err
	}

	switch d.Type {
	case DeviceRAM:
		_, err = s.Devfs.Create(d.Name, cdev.NewMemDevice(size), size, flags)

	case DeviceFile:
		path := cfg.resolve(d.Path)
		if size > 0 {
			if _, err := osutils.EnsureFile(path, size); err != nil {
				return err
			}
		}
		_, err = s.Devfs.CreateLoop(d.Name, path, flags)

	case DeviceMmap:
		path := cfg.resolve(d.Path)
		if size > 0 {
			if _, err := osutils.EnsureFile(path, size); err != nil {
				return err
			}
		}

		m, merr := mmap.NewMmapFileRegion(path, 0, 0, !d.ReadOnly)
		if merr != nil {
			return merr
		}
		if _, err = s.Devfs.Create(d.Name, m, m.Size(), flags); err != nil {
			m.Close()
		}

	case DeviceNAND:
		err = s.addNAND(d, size, flags)

	case DeviceNOR:
		err = s.addNOR(d, size, flags)
	}
	if err != nil {
		return err
	}

	s.created = append(s.created, d.Name)
	return nil
}

func (s *System) addNAND(d DeviceConfig, size int64, flags cdev.Flags) error {
	page, err := parseSize(d.PageSize, defaultPageSize)
	if err != nil {
		return err
	}
	eb, err := parseSize(d.EraseSize, defaultEraseSize)
	if err != nil {
		return err
	}

	n, err := mtd.NewNAND(size, eb, page)
	if err != nil {
		return err
	}
	for _, b := range d.BadBlocks {
		if b < 0 || b >= n.NumBlocks() {
			return fmt.Errorf("bad block %d out of range: %w", b, errs.ErrInvalid)
		}
		if err := n.MarkBad(b * eb); err != nil {
			return err
		}
	}

	if _, err := s.Devfs.Create(d.Name, n, size, flags); err != nil {
		return err
	}
	s.NAND[d.Name] = n
	return nil
}

func (s *System) addNOR(d DeviceConfig, size int64, flags cdev.Flags) error {
	eb, err := parseSize(d.EraseSize, defaultEraseSize)
	if err != nil {
		return err
	}

	n, err := mtd.NewNOR(size, eb)
	if err != nil {
		return err
	}
	if _, err := s.Devfs.Create(d.Name, n, size, flags); err != nil {
		return err
	}
	s.NOR[d.Name] = n
	return nil
}

func partitionFlags(names []string) (cdev.Flags, error) {
	var flags cdev.Flags
	for _, name := range names {
		switch strings.ToLower(name) {
		case "ro", "readonly":
			flags |= cdev.FlagReadOnly
		case "fixed":
			flags |= cdev.FlagFixed
		case "overlap":
			flags |= cdev.FlagCanOverlap
		default:
			return 0, fmt.Errorf("unknown partition flag %q: %w", name, errs.ErrInvalid)
		}
	}
	return flags, nil
}

func (s *System) addPartition(p PartitionConfig) error {
	flags, err := partitionFlags(p.Flags)
	if err != nil {
		return err
	}
	offset, err := parseOffset(p.Offset)
	if err != nil {
		return fmt.Errorf("partition %s offset: %w", p.Name, err)
	}
	size, err := parseOffset(p.Size)
	if err != nil {
		return fmt.Errorf("partition %s size: %w", p.Name, err)
	}

	info := cdev.PartitionInfo{
		Name:   p.Name,
		Offset: offset,
		Size:   size,
		Flags:  flags,
		BBName: p.BBName,
		Append: strings.TrimSpace(p.Offset) == "",
	}
	if err := s.Devfs.CreatePartitions(p.Device, []cdev.PartitionInfo{info}); err != nil {
		return err
	}

	if p.BBName != "" {
		s.created = append(s.created, p.BBName)
	}
	return nil
}

func (s *System) addHandler(h HandlerConfig) error {
	var flags bbu.HandlerFlags
	if h.Default {
		flags |= bbu.FlagDefault
	}

	var handler bbu.Handler
	switch h.Type {
	case HandlerStd:
		handler = bbu.NewStdHandler(h.Name, h.Device, flags)
	case HandlerMMC:
		handler = bbu.NewInternalMMCHandler(h.Name, h.Device, flags)
	case HandlerNOR:
		handler = bbu.NewNORHandler(h.Name, h.Device, flags)
	case HandlerMLO:
		mlo := bbu.NewMLOHandler(h.Name, h.Device, flags)
		if strings.EqualFold(h.Restore, "always") {
			mlo.Restore = bbu.RestoreAlways
		}
		handler = mlo
	case HandlerNAND:
		nand := bbu.NewNANDHandler(h.Name, h.Device, flags)
		nand.Verify = h.Verify
		handler = nand
	case HandlerXload:
		handler = bbu.NewXloadSlotsHandler(h.Name, h.Slots, flags)
	default:
		return fmt.Errorf("handler %s: unknown type %q: %w", h.Name, h.Type, errs.ErrInvalid)
	}

	if err := s.BBU.Register(handler); err != nil {
		return fmt.Errorf("handler %s: %w", h.Name, err)
	}
	return nil
}

// Close removes every device the system created, releasing their backends.
func (s *System) Close() error {
	var errList []error
	for i := len(s.created) - 1; i >= 0; i-- {
		err := s.Devfs.Remove(s.created[i])
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			errList = append(errList, err)
		}
	}
	s.created = nil
	return errors.Join(errList...)
}
