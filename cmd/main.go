package main

import (
	"fmt"
	"os"

	"github.com/ostafen/bbupdate/cmd/cmd"
	"github.com/ostafen/bbupdate/internal/env"
)

func main() {
	PrintLogo()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func PrintLogo() {
	fmt.Fprintln(os.Stderr, " _     _                   _       _       ")
	fmt.Fprintln(os.Stderr, "| |__ | |__  _   _ _ __   __| | __ _| |_ ___ ")
	fmt.Fprintln(os.Stderr, "| '_ \\| '_ \\| | | | '_ \\ / _` |/ _` | __/ _ \\")
	fmt.Fprintln(os.Stderr, "| |_) | |_) | |_| | |_) | (_| | (_| | ||  __/")
	fmt.Fprintln(os.Stderr, "|_.__/|_.__/ \\__,_| .__/ \\__,_|\\__,_|\\__\\___|")
	fmt.Fprintln(os.Stderr, "                  |_|                        ")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Bootloader update and partition tool")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Version:   %s\n", env.Version)
	fmt.Fprintf(os.Stderr, "Commit:    %s\n", env.CommitHash)
	fmt.Fprintf(os.Stderr, "Build Time: %s\n", env.BuildTime)
	fmt.Fprintln(os.Stderr, " ")
}
