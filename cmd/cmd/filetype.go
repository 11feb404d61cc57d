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

	"github.com/ostafen/bbupdate/internal/filetype"
	"github.com/ostafen/bbupdate/internal/image"
	"github.com/spf13/cobra"
)

func DefineFiletypeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filetype [<file>...]",
		Short: "Detect the type of files or devices",
		Long: `The 'filetype' command prints the detected type of each given file or device, as used by the update handlers.
With --list, all known types are shown instead.`,
		SilenceUsage: true,
		RunE:         RunFiletype,
	}

	cmd.Flags().BoolP("list", "l", false, "list all known file types")
	return cmd
}

func RunFiletype(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if list, _ := cmd.Flags().GetBool("list"); list || len(args) == 0 {
		fmt.Fprintln(w, "NAME\tDESC")
		for _, t := range filetype.Types() {
			fmt.Fprintf(w, "%s\t%s\n", t.ShortName(), t)
		}
		return w.Flush()
	}

	fmt.Fprintln(w, "FILE\tTYPE\tDESC")
	for _, path := range args {
		t, err := filetype.DetectFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", path, t.ShortName(), t)
	}
	return w.Flush()
}

func DefineHexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "hex <image> <output>",
		Short:        "Convert an image to Intel HEX",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunHex,
	}

	cmd.Flags().Uint32("base", 0, "load address of the image")
	return cmd
}

func RunHex(cmd *cobra.Command, args []string) error {
	img, err := image.Load(args[0])
	if err != nil {
		return err
	}

	base, _ := cmd.Flags().GetUint32("base")
	if !cmd.Flags().Changed("base") {
		base = img.Base
	}

	f, err := os.Create(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	if err := img.WriteIntelHex(f, base); err != nil {
		return err
	}
	return f.Sync()
}
