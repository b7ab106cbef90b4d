package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kforge/internal/buildpipeline"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [path]",
	Short: "Reset the build state",
	Long:  "Remove all previously built artifacts and the builder's bootstrap stage cache. Runs implicitly before every build; this command exists for resetting without rebuilding.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClean,
}

func runClean(_ *cobra.Command, args []string) error {
	startDir := "."
	if len(args) > 0 && args[0] != "" {
		startDir = args[0]
	}
	manifest, found, err := loadProjectManifest(startDir)
	if err != nil {
		return err
	}
	if !found {
		return errors.New(noKforgeTomlMessage)
	}
	if err := buildpipeline.Reset(manifest.Root); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "removed %s and %s\n",
		buildpipeline.TargetDirName, buildpipeline.StageCacheDirName)
	return nil
}
