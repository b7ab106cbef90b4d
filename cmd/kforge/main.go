// Package main implements the kforge CLI.
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kforge/internal/linkimage"
	"kforge/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "kforge",
	Short: "Kernel cross-build pipeline",
	Long:  `kforge builds the freestanding core runtime library for a bare-metal kernel target and hands the objects to the link script that emits the bootable image.`,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(targetCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")

	if err := rootCmd.Execute(); err != nil {
		// The link script's exit status travels through unchanged.
		var linkErr *linkimage.LinkError
		if errors.As(err, &linkErr) && linkErr.ExitCode > 0 {
			os.Exit(linkErr.ExitCode)
		}
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
