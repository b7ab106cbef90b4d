// Package linkimage hands a verified artifact set to the external link
// script that emits the bootable image. The pipeline's responsibility ends at
// the handoff: link diagnostics pass through untouched and the script's exit
// status is preserved, since diagnosing symbol and address conflicts is the
// link stage's domain, not the pipeline's.
package linkimage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"kforge/internal/artifact"
)

// Request describes one link handoff.
type Request struct {
	RootDir       string
	ArtifactDir   string // handed to the script by working-directory convention
	Script        string // relative to RootDir or absolute
	Triple        string
	Flags         string // effective flags fingerprint the set must match
	PrintCommands bool
}

// LinkError reports a failed link script run. The script's own diagnostic has
// already been streamed to stderr verbatim; ExitCode is propagated unchanged
// as the process exit status.
type LinkError struct {
	Script   string
	ExitCode int
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link script %s failed with exit code %d", e.Script, e.ExitCode)
}

// Link verifies the artifact set against its manifest and runs the link
// script inside the artifact directory. The set must be complete and freshly
// built under the current flags; anything else fails before the script runs.
func Link(ctx context.Context, req Request) error {
	set, err := artifact.Verify(ctx, req.ArtifactDir, req.Triple, req.Flags)
	if err != nil {
		return err
	}
	if set.Empty() {
		return &artifact.VerifyError{Dir: req.ArtifactDir, Reason: "empty artifact set"}
	}

	script := req.Script
	if !filepath.IsAbs(script) {
		script = filepath.Join(req.RootDir, script)
	}
	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("link script %q: %w", script, err)
	}

	if req.PrintCommands {
		fmt.Fprintf(os.Stdout, "cd %s && %s\n", req.ArtifactDir, script)
	}

	// #nosec G204 -- script path comes from the project manifest
	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = req.ArtifactDir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &LinkError{Script: req.Script, ExitCode: exitErr.ExitCode()}
		}
		return fmt.Errorf("failed to run link script %q: %w", script, err)
	}
	return nil
}
