package main

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"kforge/internal/buildpipeline"
	"kforge/internal/codegen"
	"kforge/internal/linkimage"
	"kforge/internal/target"
)

var linkCmd = &cobra.Command{
	Use:   "link [flags] [path]",
	Short: "Link an existing artifact set into the bootable image",
	Long:  "Verify the artifact set against its build manifest and run the link script. Fails on stale, incomplete, or differently-configured sets; those require a full build.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLink,
}

func runLink(cmd *cobra.Command, args []string) error {
	printCommands, err := cmd.Flags().GetBool("print-commands")
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

	specPath := manifest.Config.Target.Spec
	if !filepath.IsAbs(specPath) {
		specPath = filepath.Join(manifest.Root, specPath)
	}
	desc, err := target.Load(specPath)
	if err != nil {
		return err
	}
	flags, err := codegen.Apply(codegen.KernelPolicy(), desc)
	if err != nil {
		return err
	}

	return linkimage.Link(cmd.Context(), linkimage.Request{
		RootDir:       manifest.Root,
		ArtifactDir:   buildpipeline.ArtifactDir(manifest.Root, desc.Triple),
		Script:        manifest.Config.Link.Script,
		Triple:        desc.Triple,
		Flags:         flags.String(),
		PrintCommands: printCommands,
	})
}

func init() {
	linkCmd.Flags().Bool("print-commands", false, "print external tool invocations")
}
