package partition

import (
	"errors"
	"fmt"

	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/internal/errs"
)

func partitionCdevName(dev string, p *Partition) string {
	if p.Name != "" {
		return dev + "." + p.Name
	}
	return fmt.Sprintf("%s%d", dev, p.Num)
}

// RegisterPartitions creates a partition cdev for every entry of t on the
// device t was read from. Entries overlapping existing partitions are skipped.
func (t *Table) RegisterPartitions(d *cdev.Devfs) error {
	master := t.Blk.Cdev().Target()
	master.DiskUUID = t.DiskUUID

	for _, p := range t.Parts {
		info := cdev.PartitionInfo{
			Name:     partitionCdevName(master.Name, p),
			Offset:   int64(p.FirstSec) << block.SectorShift,
			Size:     int64(p.Size) << block.SectorShift,
			PartUUID: p.PartUUID,
		}
		if p.Flags&FlagReadOnly != 0 {
			info.Flags |= cdev.FlagReadOnly
		}

		if _, err := d.Lookup(info.Name); err == nil && p.Name != "" {
			info.Name = fmt.Sprintf("%s%d", master.Name, p.Num)
		}

		_, err := d.AddPartition(master.Name, info)
		switch {
		case errors.Is(err, errs.ErrOverlap), errors.Is(err, errs.ErrExist):
			t.log.Warn("skipping partition", "device", master.Name, "num", p.Num, "error", err)
		case err != nil:
			return err
		}
	}
	return nil
}

// Reparse drops the non fixed partitions of the named device and registers
// the ones found in its partition table. It returns ErrNotFound, with all
// previous partitions removed, when the device carries no table.
func (r *Registry) Reparse(d *cdev.Devfs, name string) (*Table, error) {
	c, err := d.Lookup(name)
	if err != nil {
		return nil, err
	}
	c = c.Target()

	parts := append([]*cdev.Cdev(nil), c.Partitions()...)
	for _, p := range parts {
		if p.Flags&cdev.FlagFixed != 0 {
			continue
		}
		if p.OpenCount() > 0 {
			return nil, fmt.Errorf("reparse %s: partition %s is open: %w", c.Name, p.Name, errs.ErrBusy)
		}
	}
	for _, p := range parts {
		if p.Flags&cdev.FlagFixed != 0 {
			continue
		}
		if err := d.DelPartition(p.Name); err != nil {
			return nil, err
		}
	}

	t, err := r.ReadTable(block.New(c))
	if err != nil {
		return nil, err
	}
	if err := t.RegisterPartitions(d); err != nil {
		return nil, err
	}
	return t, nil
}
