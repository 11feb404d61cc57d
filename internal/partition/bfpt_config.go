package partition

import (
	"fmt"

	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/pelletier/go-toml"
)

// BFPTEntryConfig describes one pt_entry of a flash partition config.
type BFPTEntryConfig struct {
	Type     uint8
	Name     string
	Device   uint8
	Address0 uint32
	Address1 uint32
	Size0    uint32
	Size1    uint32
	Len      uint32
	// Bin0 and Bin1 name the images to flash at Address0 and Address1.
	Bin0 string
	Bin1 string
}

// BFPTConfig is a flash partition config as used by the vendor flashing tools:
//
//	[pt_table]
//	address0 = 0x0
//	address1 = 0x1000
//
//	[[pt_entry]]
//	type = 0
//	name = "FW"
//	address0 = 0x10000
//	size0 = 0xC8000
//	...
type BFPTConfig struct {
	Address0 uint32
	Address1 uint32
	Entries  []BFPTEntryConfig
}

// LoadBFPTConfig parses the TOML partition config at path.
func LoadBFPTConfig(path string) (*BFPTConfig, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading partition config %s: %w", path, err)
	}
	return ParseBFPTConfig(tree)
}

func ParseBFPTConfig(tree *toml.Tree) (*BFPTConfig, error) {
	cfg := &BFPTConfig{Address1: BFPTCopySize}

	var err error
	if cfg.Address0, err = getUint32(tree, "pt_table.address0", cfg.Address0); err != nil {
		return nil, err
	}
	if cfg.Address1, err = getUint32(tree, "pt_table.address1", cfg.Address1); err != nil {
		return nil, err
	}
	if cfg.Address0 != 0 || cfg.Address1 != BFPTCopySize {
		return nil, fmt.Errorf("pt_table must be at 0x0 and 0x%x: %w", BFPTCopySize, errs.ErrUnsupportedFormat)
	}

	entries, ok := tree.Get("pt_entry").([]*toml.Tree)
	if !ok {
		return nil, fmt.Errorf("partition config has no pt_entry array: %w", errs.ErrInvalid)
	}

	for i, t := range entries {
		var e BFPTEntryConfig

		name, ok := t.Get("name").(string)
		if !ok {
			return nil, fmt.Errorf("pt_entry %d: missing name: %w", i, errs.ErrInvalid)
		}
		e.Name = name

		fields := []struct {
			key string
			dst *uint32
		}{
			{"address0", &e.Address0},
			{"address1", &e.Address1},
			{"size0", &e.Size0},
			{"size1", &e.Size1},
			{"len", &e.Len},
		}
		for _, f := range fields {
			if *f.dst, err = getUint32(t, f.key, 0); err != nil {
				return nil, fmt.Errorf("pt_entry %q: %w", name, err)
			}
		}

		typ, err := getUint32(t, "type", 0)
		if err != nil {
			return nil, fmt.Errorf("pt_entry %q: %w", name, err)
		}
		dev, err := getUint32(t, "device", 0)
		if err != nil {
			return nil, fmt.Errorf("pt_entry %q: %w", name, err)
		}
		if typ > 0xFF || dev > 0xFF {
			return nil, fmt.Errorf("pt_entry %q: type or device out of range: %w", name, errs.ErrInvalid)
		}
		e.Type, e.Device = uint8(typ), uint8(dev)

		e.Bin0, _ = t.Get("bin0").(string)
		e.Bin1, _ = t.Get("bin1").(string)

		cfg.Entries = append(cfg.Entries, e)
	}
	return cfg, nil
}

func getUint32(tree *toml.Tree, key string, def uint32) (uint32, error) {
	v := tree.Get(key)
	if v == nil {
		return def, nil
	}

	n, ok := v.(int64)
	if !ok || n < 0 || n > 0xFFFFFFFF {
		return 0, fmt.Errorf("%s: expected a 32-bit unsigned integer, got %v: %w", key, v, errs.ErrInvalid)
	}
	return uint32(n), nil
}

// Table builds a new BFPT table for blk holding the configured entries.
// Each entry must be sector aligned and fit the usable area.
func (c *BFPTConfig) Table(blk *block.Device) (*Table, error) {
	t, err := BFPTParser{}.Create(blk)
	if err != nil {
		return nil, err
	}

	f := t.format.(*bfptFormat)
	for _, e := range c.Entries {
		if e.Address0%block.SectorSize != 0 || e.Size0 == 0 {
			return nil, fmt.Errorf("pt_entry %q: address 0x%x size 0x%x: %w", e.Name, e.Address0, e.Size0, errs.ErrInvalid)
		}

		start := uint64(e.Address0) / block.SectorSize
		end := (uint64(e.Address0) + uint64(e.Size0) + block.SectorSize - 1) / block.SectorSize

		p, err := t.Create(e.Name, fmt.Sprint(e.Type), start, end)
		if err != nil {
			return nil, err
		}
		f.extra[p] = &bfptEntry{
			Device:   e.Device,
			Address0: e.Address0,
			Address1: e.Address1,
			Size0:    e.Size0,
			Size1:    e.Size1,
			Len:      e.Len,
		}
	}
	return t, nil
}
