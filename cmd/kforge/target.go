package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kforge/internal/codegen"
	"kforge/internal/target"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Inspect and validate target descriptors",
}

var targetCheckCmd = &cobra.Command{
	Use:   "check <spec.json>",
	Short: "Validate a target descriptor and the kernel codegen policy against it",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetCheck,
}

var targetShowCmd = &cobra.Command{
	Use:   "show <spec.json>",
	Short: "Print a validated target descriptor",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetShow,
}

var targetShowFormat string

func runTargetCheck(cmd *cobra.Command, args []string) error {
	desc, err := target.Load(args[0])
	if err != nil {
		return err
	}
	flags, err := codegen.Apply(codegen.KernelPolicy(), desc)
	if err != nil {
		return err
	}
	ok := color.New(color.FgGreen).Sprint("ok")
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", desc.Triple, ok)
	fmt.Fprintf(cmd.OutOrStdout(), "effective flags: %s\n", flags)
	return nil
}

func runTargetShow(cmd *cobra.Command, args []string) error {
	desc, err := target.Load(args[0])
	if err != nil {
		return err
	}
	switch targetShowFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(desc)
	case "pretty":
		renderDescriptor(cmd.OutOrStdout(), desc)
		return nil
	default:
		return fmt.Errorf("unsupported format %q (must be pretty or json)", targetShowFormat)
	}
}

func renderDescriptor(out io.Writer, desc *target.Descriptor) {
	label := color.New(color.FgCyan).SprintfFunc()
	fmt.Fprintf(out, "%s %s\n", label("%-18s", "triple"), desc.Triple)
	fmt.Fprintf(out, "%s %s/%d-bit/%s\n", label("%-18s", "arch"), desc.Arch, desc.PointerWidth, desc.Endianness)
	fmt.Fprintf(out, "%s %s\n", label("%-18s", "panic strategy"), desc.PanicStrategy)
	fmt.Fprintf(out, "%s %s\n", label("%-18s", "code model"), desc.CodeModel)
	fmt.Fprintf(out, "%s %s\n", label("%-18s", "relocation model"), desc.RelocationModel)
	fmt.Fprintf(out, "%s %s\n", label("%-18s", "link address"), desc.LinkAddress)
	fmt.Fprintf(out, "%s %v\n", label("%-18s", "loader relocation"), desc.LoaderRelocation)
	if desc.Features != "" {
		fmt.Fprintf(out, "%s %s\n", label("%-18s", "features"), desc.Features)
	}
	if desc.LinkerFlavor != "" {
		fmt.Fprintf(out, "%s %s\n", label("%-18s", "linker flavor"), desc.LinkerFlavor)
	}
}

func init() {
	targetShowCmd.Flags().StringVar(&targetShowFormat, "format", "pretty", "output format (pretty|json)")
	targetCmd.AddCommand(targetCheckCmd)
	targetCmd.AddCommand(targetShowCmd)
}
