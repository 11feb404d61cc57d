package cmd

import (
	"github.com/ostafen/bbupdate/internal/env"
	"github.com/spf13/cobra"
)

func Execute() error {
	rootCmd := &cobra.Command{
		Use:   env.AppName,
		Short: env.AppName + " - bootloader update and partition tool",
	}

	rootCmd.PersistentFlags().StringP("board", "b", "", "path of the TOML board description")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSlice("disk", nil, "register an image file or block device as a disk, as [name=]path")

	rootCmd.AddCommand(
		DefinePartsCommand(),
		DefineMklabelCommand(),
		DefineMkpartCommand(),
		DefineRmpartCommand(),
		DefineRenameCommand(),
		DefineSetGUIDCommand(),
		DefineUpdateCommand(),
		DefineHandlersCommand(),
		DefineDevicesCommand(),
		DefineAddpartCommand(),
		DefineDelpartCommand(),
		DefineFiletypeCommand(),
		DefineHexCommand(),
		DefineMountCommand(),
		DefineReportCommand(),
	)

	return rootCmd.Execute()
}
