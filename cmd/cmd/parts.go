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
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/partition"
	"github.com/ostafen/bbupdate/pkg/util/format"
	"github.com/spf13/cobra"
)

func DefinePartsCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "parts <device>",
		Short:        "Show the partition table of a device",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunParts,
	}
}

func RunParts(cmd *cobra.Command, args []string) error {
	s, _, err := loadSystem(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := loadTable(s, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s partition table, disk uuid %s, %d sectors\n",
		t.Blk.Name(), t.Parser.Name(), t.DiskUUID, t.Blk.NumBlocks())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NUM\tNAME\tSTART\tEND\tSIZE\tTYPE\tFLAGS\tPARTUUID")
	for _, p := range t.Parts {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			p.Num,
			p.Name,
			p.FirstSec,
			p.End()-1,
			format.FormatBytes(int64(p.Size)<<block.SectorShift),
			p.TypeString(),
			p.Flags,
			p.PartUUID,
		)
	}
	return w.Flush()
}

func DefineMklabelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mklabel <device> <gpt|msdos|bfpt>",
		Short: "Create an empty partition table",
		Long: `The 'mklabel' command writes a new, empty partition table to the device, discarding the existing one.
For bfpt, a TOML partition configuration may be given with --config to fill the table.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunMklabel,
	}

	cmd.Flags().StringP("config", "c", "", "BFPT partition configuration (TOML)")
	return cmd
}

func RunMklabel(cmd *cobra.Command, args []string) error {
	s, _, err := loadSystem(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.Devfs.Lookup(args[0])
	if err != nil {
		return err
	}
	blk := block.New(c.Target())

	var t *partition.Table
	if cfgPath, _ := cmd.Flags().GetString("config"); cfgPath != "" {
		if args[1] != "bfpt" {
			return fmt.Errorf("--config is only supported for bfpt tables")
		}

		cfg, err := partition.LoadBFPTConfig(cfgPath)
		if err != nil {
			return err
		}
		if t, err = cfg.Table(blk); err != nil {
			return err
		}
	} else if t, err = s.Parts.NewTable(blk, args[1]); err != nil {
		return err
	}
	return writeTable(s, c.Target().Name, t)
}

func DefineMkpartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkpart <device> <name> <fstype> [<start> <end>]",
		Short: "Add a partition to the partition table",
		Long: `The 'mkpart' command adds a partition spanning [start, end).
Positions are sectors, or bytes when written with a unit suffix (e.g. 1M).
With --auto, only a --size is needed and the partition is placed in the first free, aligned region.`,
		Args:         cobra.RangeArgs(3, 5),
		SilenceUsage: true,
		RunE:         RunMkpart,
	}

	cmd.Flags().Bool("auto", false, "place the partition in the first free region")
	cmd.Flags().String("size", "", "partition size, used with --auto")
	return cmd
}

func RunMkpart(cmd *cobra.Command, args []string) error {
	s, log, err := loadSystem(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := loadTable(s, args[0])
	if err != nil {
		return err
	}

	var start, end uint64
	if auto, _ := cmd.Flags().GetBool("auto"); auto {
		sizeStr, _ := cmd.Flags().GetString("size")
		size, err := parseSectors(sizeStr)
		if err != nil {
			return err
		}

		if start, err = t.FindFreeSpace(size, 0); err != nil {
			return err
		}
		end = start + size
	} else {
		if len(args) != 5 {
			return fmt.Errorf("mkpart needs <start> and <end> unless --auto is given")
		}
		if start, err = parseSectors(args[3]); err != nil {
			return err
		}
		if end, err = parseSectors(args[4]); err != nil {
			return err
		}
	}

	p, err := t.Create(args[1], args[2], start, end)
	if err != nil {
		return err
	}
	log.Info("partition created", "device", args[0], "partition", p)

	return writeTable(s, args[0], t)
}

func DefineRmpartCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "rmpart <device> <num>",
		Short:        "Remove a partition from the partition table",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return editTable(cmd, args[0], args[1], func(t *partition.Table, num int) error {
				return t.Remove(num)
			})
		},
	}
}

func DefineRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "rename <device> <num> <name>",
		Short:        "Rename a partition",
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return editTable(cmd, args[0], args[1], func(t *partition.Table, num int) error {
				return t.Rename(num, args[2])
			})
		},
	}
}

func DefineSetGUIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "setguid <device> <num> <guid>",
		Short:        "Set the unique GUID of a GPT partition",
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return editTable(cmd, args[0], args[1], func(t *partition.Table, num int) error {
				return t.SetGUID(num, args[2])
			})
		},
	}
}

func editTable(cmd *cobra.Command, device, numStr string, edit func(*partition.Table, int) error) error {
	num, err := parseNum(numStr)
	if err != nil {
		return err
	}

	s, _, err := loadSystem(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := loadTable(s, device)
	if err != nil {
		return err
	}
	if err := edit(t, num); err != nil {
		return err
	}
	return writeTable(s, device, t)
}
