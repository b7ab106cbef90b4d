package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"kforge/internal/buildpipeline"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags] [path]",
	Short: "Run the full kernel build pipeline",
	Long:  "Reset the build state, compile the freestanding core library against the target descriptor, and hand the artifact set to the link script.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  buildExecution,
}

func buildExecution(cmd *cobra.Command, args []string) error {
	noLink, err := cmd.Flags().GetBool("no-link")
	if err != nil {
		return err
	}
	keepStaging, err := cmd.Flags().GetBool("keep-staging")
	if err != nil {
		return err
	}
	printCommands, err := cmd.Flags().GetBool("print-commands")
	if err != nil {
		return err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return err
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return err
	}

	uiModeValue, err := readUIMode(uiValue)
	if err != nil {
		return err
	}

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

	req := buildpipeline.Request{
		RootDir:       manifest.Root,
		TargetSpec:    manifest.Config.Target.Spec,
		Builder:       manifest.Config.Toolchain.Builder,
		Stage:         manifest.Config.Toolchain.Stage,
		CorelibDir:    filepath.Join(manifest.Root, manifest.Config.Corelib.Path),
		Packages:      manifest.Config.Corelib.Packages,
		LinkScript:    manifest.Config.Link.Script,
		SkipLink:      noLink,
		KeepStaging:   keepStaging,
		PrintCommands: printCommands,
		Quiet:         quiet,
	}

	title := fmt.Sprintf("kforge build %s", manifest.Config.Kernel.Name)
	var result buildpipeline.Result
	if shouldUseTUI(uiModeValue) && !printCommands {
		result, err = runPipelineWithUI(cmd.Context(), title, &req)
	} else {
		result, err = buildpipeline.Run(cmd.Context(), &req)
	}
	if showTimings {
		printStageTimings(os.Stdout, result.Timings)
	}
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Fprintf(os.Stdout, "built %d objects for %s -> %s\n",
			len(result.Artifacts.Objects), result.Descriptor.Triple,
			formatPathForOutput(manifest.Root, result.Artifacts.Dir))
		if noLink {
			fmt.Fprintln(os.Stdout, "link stage skipped (--no-link)")
		}
	}
	return nil
}

func formatPathForOutput(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	if strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func init() {
	buildCmd.Flags().Bool("no-link", false, "stop after compiling the core library")
	buildCmd.Flags().Bool("keep-staging", false, "preserve the staging directory of a failed compile")
	buildCmd.Flags().Bool("print-commands", false, "print external tool invocations")
	buildCmd.Flags().String("ui", "auto", "user interface (auto|on|off)")
}
