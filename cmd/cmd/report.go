package cmd

import (
	"bufio"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func DefineReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "report <device>",
		Short:        "Write the partition layout of a device as DFXML",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunReport,
	}

	cmd.Flags().StringP("output", "o", "", "the path of the report file (default stdout)")
	return cmd
}

func RunReport(cmd *cobra.Command, args []string) error {
	s, _, err := loadSystem(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := loadTable(s, args[0])
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	bw := bufio.NewWriter(w)
	if err := t.WriteReport(bw); err != nil {
		return err
	}
	return bw.Flush()
}
