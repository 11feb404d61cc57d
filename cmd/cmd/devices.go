package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ostafen/bbupdate/internal/bbu"
	"github.com/ostafen/bbupdate/internal/cdev"
	"github.com/ostafen/bbupdate/pkg/util/format"
	"github.com/spf13/cobra"
)

func DefineHandlersCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "handlers",
		Short:        "List the registered update handlers",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         RunHandlers,
	}
}

func RunHandlers(cmd *cobra.Command, args []string) error {
	s, _, err := loadSystem(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDEVICE\tFLAGS")
	for _, h := range s.BBU.Handlers() {
		flags := ""
		if h.Flags()&bbu.FlagDefault != 0 {
			flags = "default"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", h.Name(), h.DeviceFile(), flags)
	}
	return w.Flush()
}

func DefineDevicesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "devices",
		Short:        "List the devices and partitions",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         RunDevices,
	}
	cmd.Flags().Bool("bb", false, "also list the good blocks backing each bad block aware device")
	return cmd
}

func RunDevices(cmd *cobra.Command, args []string) error {
	s, _, err := loadSystem(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tOFFSET\tSIZE\tFLAGS\tPARTUUID\tMASTER")
	for _, c := range s.Devfs.List() {
		name, master := c.Name, ""
		if c.IsLink() {
			name += " -> " + c.Target().Name
		}
		if m := c.Master(); m != nil {
			master = m.Name
		}

		t := c.Target()
		fmt.Fprintf(w, "%s\t0x%x\t%s\t%s\t%s\t%s\n",
			name,
			t.Offset,
			format.FormatBytes(t.Size),
			t.Flags,
			t.PartUUID,
			master,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if showBB, _ := cmd.Flags().GetBool("bb"); showBB {
		printGoodBlocks(s.Devfs)
	}
	return nil
}

func printGoodBlocks(d *cdev.Devfs) {
	for _, c := range d.List() {
		if c.IsLink() {
			continue
		}
		bb, ok := c.Ops().(*cdev.BBDev)
		if !ok {
			continue
		}

		blocks := bb.GoodBlocks()
		offsets := make([]string, len(blocks))
		for i, off := range blocks {
			offsets[i] = fmt.Sprintf("0x%x", off)
		}
		fmt.Printf("%s: %d good blocks at %s\n", c.Name, len(blocks), strings.Join(offsets, " "))
	}
}

func DefineAddpartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addpart <device> <name>",
		Short: "Add a fixed partition to a device",
		Long: `The 'addpart' command creates a partition of a device without touching its partition table.
Without --offset the partition is placed after the last one; negative offsets count from the end of the device.
A size of 0 or less extends the partition up to that many bytes before the end.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunAddpart,
	}

	cmd.Flags().String("offset", "", "partition offset in bytes (default: after the last partition)")
	cmd.Flags().String("size", "0", "partition size in bytes")
	cmd.Flags().StringSlice("flags", nil, "partition flags (ro, fixed, overlap)")
	cmd.Flags().String("bbname", "", "also create a bad block aware device with this name")
	return cmd
}

func RunAddpart(cmd *cobra.Command, args []string) error {
	s, log, err := loadSystem(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var offset int64
	appendPart := !cmd.Flags().Changed("offset")
	if !appendPart {
		offset, err = parseSigned(cmd, "offset")
		if err != nil {
			return err
		}
	}
	size, err := parseSigned(cmd, "size")
	if err != nil {
		return err
	}

	var flags cdev.Flags
	names, _ := cmd.Flags().GetStringSlice("flags")
	for _, f := range names {
		switch strings.ToLower(f) {
		case "ro", "readonly":
			flags |= cdev.FlagReadOnly
		case "fixed":
			flags |= cdev.FlagFixed
		case "overlap":
			flags |= cdev.FlagCanOverlap
		default:
			return fmt.Errorf("unknown partition flag %q", f)
		}
	}
	bbname, _ := cmd.Flags().GetString("bbname")

	info := cdev.PartitionInfo{Name: args[1], Offset: offset, Size: size, Flags: flags, BBName: bbname, Append: appendPart}
	if err := s.Devfs.CreatePartitions(args[0], []cdev.PartitionInfo{info}); err != nil {
		return err
	}

	c, err := s.Devfs.Lookup(args[1])
	if err != nil {
		return err
	}
	log.Info("partition added", "device", args[0], "partition", c)
	return nil
}

func parseSigned(cmd *cobra.Command, name string) (int64, error) {
	str, _ := cmd.Flags().GetString(name)
	neg := strings.HasPrefix(str, "-")

	v, err := format.ParseBytes(strings.TrimPrefix(str, "-"))
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	if neg {
		return -int64(v), nil
	}
	return int64(v), nil
}

func DefineDelpartCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "delpart <partition>",
		Short:        "Remove a partition from its device",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadSystem(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			return s.Devfs.DelPartition(args[0])
		},
	}
}
