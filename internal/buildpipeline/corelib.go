package buildpipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"kforge/internal/codegen"
)

// CompilationError carries the builder's own diagnostic verbatim. The
// pipeline never reinterprets or summarizes compiler output: for a
// from-scratch target a paraphrased diagnostic is how the real defect hides.
type CompilationError struct {
	Tool   string
	Output string
	Err    error
}

func (e *CompilationError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out != "" {
		return fmt.Sprintf("%s: core library build failed\n%s", e.Tool, out)
	}
	return fmt.Sprintf("%s: core library build failed: %v", e.Tool, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// compileCoreLibrary invokes the external staged builder with the effective
// flags exported through the single agreed environment key. The whole library
// compiles as one unit; any diagnostic is fatal.
func compileCoreLibrary(ctx context.Context, req *Request, flags codegen.EffectiveFlags, specPath, outDir string) error {
	args := []string{"build",
		"--target", specPath,
		"--stage", strconv.Itoa(req.Stage),
		"--out-dir", outDir,
	}
	for _, pkg := range req.Packages {
		args = append(args, "-p", pkg)
	}

	cmd := exec.Command(req.Builder, args...)
	cmd.Dir = req.CorelibDir
	cmd.Env = append(os.Environ(), flags.Env())
	if req.Quiet {
		cmd.Stdout = io.Discard
	} else {
		cmd.Stdout = os.Stdout
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if req.PrintCommands {
		fmt.Fprintf(os.Stdout, "%s=%s %s %s\n", codegen.FlagsEnvKey, flags.String(), req.Builder, strings.Join(args, " "))
	}

	if err := runToolProcess(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("core library build aborted: %w", ctx.Err())
		}
		return &CompilationError{Tool: req.Builder, Output: stderr.String(), Err: err}
	}
	return nil
}

// runToolProcess starts cmd in its own process group and kills the whole
// group when ctx is cancelled, so a cancelled run cannot leave builder
// children writing into the staging directory.
func runToolProcess(ctx context.Context, cmd *exec.Cmd) error {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	pgid := cmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		case <-done:
		}
	}()
	return cmd.Wait()
}

// promoteStaging atomically publishes a fully built staging directory as the
// artifact directory for triple. Nothing partial ever becomes visible.
func promoteStaging(stagingDir, artifactDir string) error {
	if err := os.MkdirAll(filepath.Dir(artifactDir), 0o750); err != nil {
		return fmt.Errorf("failed to create target dir: %w", err)
	}
	if err := os.Rename(stagingDir, artifactDir); err != nil {
		return fmt.Errorf("failed to promote artifact set: %w", err)
	}
	return nil
}
