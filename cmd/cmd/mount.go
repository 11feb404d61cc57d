package cmd

import (
	"github.com/ostafen/bbupdate/internal/fuse"
	"github.com/spf13/cobra"
)

func DefineMountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mount <mountpoint>",
		Short: "Export the devices over FUSE",
		Long: `The 'mount' command exposes every device and partition as a file under the mountpoint,
until the process receives an interrupt. Writes go through the same checks as the other commands.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunMount,
	}
}

func RunMount(cmd *cobra.Command, args []string) error {
	s, log, err := loadSystem(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	return fuse.Mount(args[0], s.Devfs, log)
}
