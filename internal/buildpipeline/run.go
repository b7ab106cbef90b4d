// Package buildpipeline orchestrates the kernel core library build: reset,
// configure, compile, link. The pipeline is strictly linear and fails fast;
// every stage's postcondition is a hard precondition for the next, so there
// is no local recovery and no retry anywhere.
package buildpipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kforge/internal/artifact"
	"kforge/internal/codegen"
	"kforge/internal/linkimage"
	"kforge/internal/target"
)

// Request configures one pipeline run.
type Request struct {
	RootDir       string   // kernel project root (directory of kforge.toml)
	TargetSpec    string   // target descriptor path, relative to RootDir or absolute
	Builder       string   // external staged build tool
	Stage         int      // bootstrap stage the core library is compiled at
	CorelibDir    string   // source tree of the freestanding core library
	Packages      []string // library packages to compile
	LinkScript    string   // external link/image script, relative to RootDir
	SkipLink      bool
	KeepStaging   bool
	PrintCommands bool
	Quiet         bool
	Progress      ProgressSink
}

// Result captures the run outcome. State is terminal: Complete or Failed.
type Result struct {
	State      State
	Descriptor *target.Descriptor
	Flags      codegen.EffectiveFlags
	Artifacts  *artifact.Set
	Timings    Timings
}

// Run executes one pipeline run. Intermediate state lives only for the
// duration of the call; a failed or cancelled run leaves nothing behind that
// a later run could mistake for fresh artifacts, because every run begins
// with an unconditional reset.
func Run(ctx context.Context, req *Request) (Result, error) {
	result := Result{State: StateIdle}
	if req == nil {
		return result, fmt.Errorf("missing build request")
	}
	reqCopy := *req
	req = &reqCopy
	if req.Builder == "" {
		req.Builder = "xbuild"
	}
	if len(req.Packages) == 0 {
		req.Packages = []string{"core", "alloc"}
	}

	fail := func(stage Stage, start time.Time, err error) (Result, error) {
		result.State = StateFailed
		result.Timings.Set(stage, time.Since(start))
		emitStage(req.Progress, stage, StatusError, err, time.Since(start))
		return result, err
	}

	// Reset. Unconditional: stale stage-0 objects compiled under a different
	// relocation model are indistinguishable from fresh ones to the builder.
	resetStart := time.Now()
	emitStage(req.Progress, StageReset, StatusWorking, nil, 0)
	if err := Reset(req.RootDir); err != nil {
		return fail(StageReset, resetStart, err)
	}
	result.Timings.Set(StageReset, time.Since(resetStart))
	emitStage(req.Progress, StageReset, StatusDone, nil, result.Timings.Duration(StageReset))

	// Configure. A descriptor or policy defect must surface before the
	// compiler runs, not at link time as an unresolvable relocation.
	result.State = StateConfiguring
	configureStart := time.Now()
	emitStage(req.Progress, StageConfigure, StatusWorking, nil, 0)
	specPath := req.TargetSpec
	if !filepath.IsAbs(specPath) {
		specPath = filepath.Join(req.RootDir, specPath)
	}
	desc, err := target.Load(specPath)
	if err != nil {
		return fail(StageConfigure, configureStart, err)
	}
	flags, err := codegen.Apply(codegen.KernelPolicy(), desc)
	if err != nil {
		return fail(StageConfigure, configureStart, err)
	}
	result.Descriptor = desc
	result.Flags = flags
	result.Timings.Set(StageConfigure, time.Since(configureStart))
	emitStage(req.Progress, StageConfigure, StatusDone, nil, result.Timings.Duration(StageConfigure))

	// Compile into staging, then promote atomically. A failed compile leaves
	// no artifact set at all — there is no partial-success notion.
	result.State = StateCompiling
	compileStart := time.Now()
	emitStage(req.Progress, StageCompile, StatusWorking, nil, 0)
	set, err := runCompile(ctx, req, flags, specPath, desc.Triple)
	if err != nil {
		return fail(StageCompile, compileStart, err)
	}
	result.Artifacts = set
	result.Timings.Set(StageCompile, time.Since(compileStart))
	emitStage(req.Progress, StageCompile, StatusDone, nil, result.Timings.Duration(StageCompile))

	if req.SkipLink {
		emitStage(req.Progress, StageLink, StatusSkipped, nil, 0)
		result.State = StateComplete
		return result, nil
	}

	linkStart := time.Now()
	emitStage(req.Progress, StageLink, StatusWorking, nil, 0)
	linkReq := linkimage.Request{
		RootDir:       req.RootDir,
		ArtifactDir:   ArtifactDir(req.RootDir, desc.Triple),
		Script:        req.LinkScript,
		Triple:        desc.Triple,
		Flags:         flags.String(),
		PrintCommands: req.PrintCommands,
	}
	if err := linkimage.Link(ctx, linkReq); err != nil {
		return fail(StageLink, linkStart, err)
	}
	result.Timings.Set(StageLink, time.Since(linkStart))
	emitStage(req.Progress, StageLink, StatusDone, nil, result.Timings.Duration(StageLink))

	result.State = StateComplete
	return result, nil
}

func runCompile(ctx context.Context, req *Request, flags codegen.EffectiveFlags, specPath, triple string) (*artifact.Set, error) {
	stagingDir := filepath.Join(req.RootDir, TargetDirName, stagingDirName)
	if err := os.MkdirAll(stagingDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	keep := false
	defer func() {
		if !keep && !req.KeepStaging {
			_ = os.RemoveAll(stagingDir)
		}
	}()

	if err := compileCoreLibrary(ctx, req, flags, specPath, stagingDir); err != nil {
		return nil, err
	}

	set, err := artifact.Collect(ctx, stagingDir)
	if err != nil {
		return nil, err
	}
	if set.Empty() {
		return nil, &CompilationError{Tool: req.Builder,
			Output: fmt.Sprintf("builder exited successfully but produced no object files in %s", stagingDir)}
	}
	if err := artifact.WriteManifest(set, triple, flags.String()); err != nil {
		return nil, err
	}

	artifactDir := ArtifactDir(req.RootDir, triple)
	if err := promoteStaging(stagingDir, artifactDir); err != nil {
		return nil, err
	}
	keep = true
	set.Dir = artifactDir
	return set, nil
}
