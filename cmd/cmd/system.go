package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/board"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/logger"
	"github.com/ostafen/bbupdate/internal/partition"
	"github.com/ostafen/bbupdate/pkg/util/format"
	"github.com/spf13/cobra"
)

func newLogger(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return logger.New(os.Stderr, logger.ParseLevel(level))
}

// loadSystem builds the devices described by --board and --disk.
// The caller must Close the returned system.
func loadSystem(cmd *cobra.Command) (*board.System, *slog.Logger, error) {
	log := newLogger(cmd)

	var s *board.System
	if path, _ := cmd.Flags().GetString("board"); path != "" {
		cfg, err := board.Load(path)
		if err != nil {
			return nil, nil, err
		}
		if s, err = board.Setup(cfg, log); err != nil {
			return nil, nil, err
		}
	} else {
		s = board.NewSystem(log)
	}

	disks, _ := cmd.Flags().GetStringSlice("disk")
	for i, d := range disks {
		name, path := fmt.Sprintf("disk%d", i), d
		if k, v, ok := strings.Cut(d, "="); ok {
			name, path = k, v
		}

		if err := s.AddDisk(name, path, 0); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("disk %s: %w", path, err)
		}
	}
	return s, log, nil
}

// loadTable returns the partition table of the named device.
func loadTable(s *board.System, device string) (*partition.Table, error) {
	device = strings.TrimPrefix(device, "/dev/")
	if t, ok := s.Tables[device]; ok {
		return t, nil
	}

	c, err := s.Devfs.Lookup(device)
	if err != nil {
		return nil, err
	}

	t, err := s.Parts.ReadTable(block.New(c))
	if err != nil {
		return nil, fmt.Errorf("no partition table on %s, create one with mklabel: %w", device, err)
	}
	t.SetLogger(s.Devfs.Logger())
	return t, nil
}

// writeTable writes t to disk and registers the resulting partitions.
func writeTable(s *board.System, device string, t *partition.Table) error {
	if err := t.Write(); err != nil {
		return err
	}
	_, err := s.Rescan(strings.TrimPrefix(device, "/dev/"))
	return err
}

// parseSectors parses a position on disk. Plain numbers are sectors,
// numbers with a unit suffix are bytes and must be sector aligned.
func parseSectors(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s != "" && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
		return format.ParseBytes(s)
	}

	v, err := format.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrInvalid, err)
	}
	if v%block.SectorSize != 0 {
		return 0, fmt.Errorf("%s is not a multiple of %d bytes: %w", s, block.SectorSize, errs.ErrInvalid)
	}
	return v / block.SectorSize, nil
}

func parseNum(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid partition number %q: %w", s, errs.ErrInvalid)
	}
	return n, nil
}
