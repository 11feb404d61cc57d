package board

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/pkg/util/format"
	"github.com/pelletier/go-toml"
)

// Device types.
const (
	DeviceRAM  = "ram"
	DeviceFile = "file"
	DeviceMmap = "mmap"
	DeviceNAND = "nand"
	DeviceNOR  = "nor"
)

// Handler types.
const (
	HandlerStd   = "std"
	HandlerMMC   = "mmc"
	HandlerNOR   = "nor"
	HandlerMLO   = "mlo"
	HandlerNAND  = "nand"
	HandlerXload = "xload"
)

const (
	defaultRAMSize   = 16 << 20
	defaultPageSize  = 2048
	defaultEraseSize = 128 << 10
)

// Config is the board description. Sizes and offsets are strings accepted by
// format.ParseBytes; offsets may be negative.
type Config struct {
	Memory     MemoryConfig      `toml:"memory"`
	Devices    []DeviceConfig    `toml:"device"`
	Partitions []PartitionConfig `toml:"partition"`
	Handlers   []HandlerConfig   `toml:"handler"`

	// directory relative device paths are resolved against
	dir string `toml:"-"`
}

type MemoryConfig struct {
	Size string `toml:"size"`
}

type DeviceConfig struct {
	Name      string  `toml:"name"`
	Type      string  `toml:"type"`
	Path      string  `toml:"path"`
	Size      string  `toml:"size"`
	PageSize  string  `toml:"page_size"`
	EraseSize string  `toml:"erase_size"`
	BadBlocks []int64 `toml:"bad_blocks"`
	ReadOnly  bool    `toml:"readonly"`
	// Scan reads the partition table of the device, if any.
	Scan bool `toml:"scan"`
}

type PartitionConfig struct {
	Device string `toml:"device"`
	Name   string `toml:"name"`
	// Offset left empty appends after the last partition of the device.
	Offset string   `toml:"offset"`
	Size   string   `toml:"size"`
	Flags  []string `toml:"flags"`
	BBName string   `toml:"bbname"`
}

type HandlerConfig struct {
	Name    string   `toml:"name"`
	Type    string   `toml:"type"`
	Device  string   `toml:"device"`
	Default bool     `toml:"default"`
	Slots   []string `toml:"slots"`
	Restore string   `toml:"restore"`
	Verify  bool     `toml:"verify"`
}

// Load reads the board description at path. Relative device paths are
// taken relative to the directory of the file.
func Load(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load board %q: %w", path, err)
	}

	cfg, err := fromTree(tree)
	if err != nil {
		return nil, fmt.Errorf("board %q: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse parses a board description held in memory.
func Parse(data []byte) (*Config, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, err
	}
	return fromTree(tree)
}

func fromTree(tree *toml.Tree) (*Config, error) {
	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields that do not need a device to be interpreted.
func (cfg *Config) Validate() error {
	names := make(map[string]bool)
	for i, d := range cfg.Devices {
		if d.Name == "" {
			return fmt.Errorf("device #%d has no name: %w", i, errs.ErrInvalid)
		}
		if names[d.Name] {
			return fmt.Errorf("device %s defined twice: %w", d.Name, errs.ErrExist)
		}
		names[d.Name] = true

		switch d.Type {
		case DeviceRAM, DeviceNAND, DeviceNOR:
		case DeviceFile, DeviceMmap:
			if d.Path == "" {
				return fmt.Errorf("%s device %s needs a path: %w", d.Type, d.Name, errs.ErrInvalid)
			}
		default:
			return fmt.Errorf("device %s: unknown type %q: %w", d.Name, d.Type, errs.ErrInvalid)
		}
	}

	for _, p := range cfg.Partitions {
		if p.Device == "" || p.Name == "" {
			return fmt.Errorf("partition %q needs a device and a name: %w", p.Name, errs.ErrInvalid)
		}
		if _, err := partitionFlags(p.Flags); err != nil {
			return fmt.Errorf("partition %s: %w", p.Name, err)
		}
	}

	for _, h := range cfg.Handlers {
		if h.Name == "" {
			return fmt.Errorf("handler has no name: %w", errs.ErrInvalid)
		}
		switch h.Type {
		case HandlerStd, HandlerMMC, HandlerNOR, HandlerMLO, HandlerNAND:
			if h.Device == "" {
				return fmt.Errorf("handler %s needs a device: %w", h.Name, errs.ErrInvalid)
			}
		case HandlerXload:
			if len(h.Slots) == 0 {
				return fmt.Errorf("handler %s needs slots: %w", h.Name, errs.ErrInvalid)
			}
		default:
			return fmt.Errorf("handler %s: unknown type %q: %w", h.Name, h.Type, errs.ErrInvalid)
		}

		switch strings.ToLower(h.Restore) {
		case "", "success", "always":
		default:
			return fmt.Errorf("handler %s: unknown restore policy %q: %w", h.Name, h.Restore, errs.ErrInvalid)
		}
	}
	return nil
}

func (cfg *Config) resolve(path string) string {
	if filepath.IsAbs(path) || cfg.dir == "" {
		return path
	}
	return filepath.Join(cfg.dir, path)
}

// parseSize parses s, returning def when s is empty.
func parseSize(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	v, err := format.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrInvalid, err)
	}
	if v > 1<<62 {
		return 0, fmt.Errorf("size %q too large: %w", s, errs.ErrInvalid)
	}
	return int64(v), nil
}

// parseOffset is parseSize accepting a leading minus sign.
func parseOffset(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	v, err := parseSize(strings.TrimPrefix(s, "-"), 0)
	if neg {
		v = -v
	}
	return v, err
}
