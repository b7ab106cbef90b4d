package buildpipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"kforge/internal/artifact"
	"kforge/internal/codegen"
	"kforge/internal/target"
)

const kernelDescriptorJSON = `{
	"llvm-target": "x86_64-unknown-helios",
	"arch": "x86_64",
	"pointer-width": 64,
	"endianness": "little",
	"panic-strategy": "abort",
	"code-model": "large",
	"relocation-model": "static",
	"executables": false,
	"link-address": "0xFFFFFFFF80000000",
	"loader-relocation": false
}`

// A descriptor that validates on its own but cannot satisfy the kernel
// policy: the link address fits the small model.
const lowAddressDescriptorJSON = `{
	"llvm-target": "x86_64-unknown-helios",
	"arch": "x86_64",
	"pointer-width": 64,
	"endianness": "little",
	"panic-strategy": "abort",
	"code-model": "small",
	"relocation-model": "static",
	"executables": false,
	"link-address": "0x400000",
	"loader-relocation": false
}`

const fakeBuilderScript = `#!/bin/sh
set -e
if [ -n "$KFORGE_TEST_BUILDER_MARKER" ]; then
	: > "$KFORGE_TEST_BUILDER_MARKER"
fi
out=""
while [ "$#" -gt 0 ]; do
	case "$1" in
	--out-dir) out="$2"; shift 2 ;;
	*) shift ;;
	esac
done
printf '%s' "$XBUILD_FLAGS" > "$out/flags.log"
printf 'core code' > "$out/core.o"
printf 'alloc code' > "$out/alloc.o"
`

const failingBuilderScript = `#!/bin/sh
if [ -n "$KFORGE_TEST_BUILDER_MARKER" ]; then
	: > "$KFORGE_TEST_BUILDER_MARKER"
fi
echo "error[E0463]: can't find crate for core" >&2
exit 7
`

const fakeLinkScript = `#!/bin/sh
set -e
pwd > "$KFORGE_TEST_LINK_MARKER"
printf 'bootable' > kernel.bin
`

type testProject struct {
	root    string
	builder string
	marker  string
}

func setupProject(t *testing.T, descriptorJSON, builderScript string) testProject {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool scripts require a POSIX shell")
	}
	root := t.TempDir()
	for _, dir := range []string{"targets", "corelib", "scripts"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "targets", "x86_64-helios.json"), []byte(descriptorJSON), 0o600); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	builder := filepath.Join(root, "scripts", "xbuild")
	if err := os.WriteFile(builder, []byte(builderScript), 0o700); err != nil {
		t.Fatalf("write builder: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "scripts", "link.sh"), []byte(fakeLinkScript), 0o700); err != nil {
		t.Fatalf("write link script: %v", err)
	}
	marker := filepath.Join(t.TempDir(), "builder-invoked")
	t.Setenv("KFORGE_TEST_BUILDER_MARKER", marker)
	t.Setenv("KFORGE_TEST_LINK_MARKER", filepath.Join(t.TempDir(), "link-invoked"))
	return testProject{root: root, builder: builder, marker: marker}
}

func (p testProject) request() *Request {
	return &Request{
		RootDir:    p.root,
		TargetSpec: filepath.Join("targets", "x86_64-helios.json"),
		Builder:    p.builder,
		Stage:      0,
		CorelibDir: filepath.Join(p.root, "corelib"),
		Packages:   []string{"core", "alloc"},
		LinkScript: filepath.Join("scripts", "link.sh"),
		Quiet:      true,
	}
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) OnEvent(evt Event) {
	s.events = append(s.events, evt)
}

func TestRunCompletes(t *testing.T) {
	proj := setupProject(t, kernelDescriptorJSON, fakeBuilderScript)
	sink := &recordingSink{}
	req := proj.request()
	req.Progress = sink

	result, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateComplete {
		t.Fatalf("State = %s", result.State)
	}
	if result.Artifacts.Empty() {
		t.Fatalf("artifact set is empty")
	}
	if got := result.Artifacts.Names(); len(got) != 2 || got[0] != "alloc.o" || got[1] != "core.o" {
		t.Fatalf("Names = %v", got)
	}

	artifactDir := ArtifactDir(proj.root, "x86_64-unknown-helios")
	if _, err := os.Stat(filepath.Join(artifactDir, artifact.ManifestName)); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	// The builder saw exactly the policy's flags through the env channel.
	flagsLog, err := os.ReadFile(filepath.Join(artifactDir, "flags.log"))
	if err != nil {
		t.Fatalf("flags.log: %v", err)
	}
	if string(flagsLog) != "--emit=obj -C code-model=large -C relocation-model=static" {
		t.Fatalf("builder saw flags %q", flagsLog)
	}

	// Link ran inside the artifact directory and produced the image.
	linkCwd, err := os.ReadFile(os.Getenv("KFORGE_TEST_LINK_MARKER"))
	if err != nil {
		t.Fatalf("link marker: %v", err)
	}
	if strings.TrimSpace(string(linkCwd)) != artifactDir {
		t.Fatalf("link ran in %q, want %q", strings.TrimSpace(string(linkCwd)), artifactDir)
	}
	if _, err := os.Stat(filepath.Join(artifactDir, "kernel.bin")); err != nil {
		t.Fatalf("image missing: %v", err)
	}

	for _, stage := range []Stage{StageReset, StageConfigure, StageCompile, StageLink} {
		if !result.Timings.Has(stage) {
			t.Errorf("no timing recorded for %s", stage)
		}
	}
	last := sink.events[len(sink.events)-1]
	if last.Stage != StageLink || last.Status != StatusDone {
		t.Errorf("last event = %+v", last)
	}
}

func TestRunSkipLink(t *testing.T) {
	proj := setupProject(t, kernelDescriptorJSON, fakeBuilderScript)
	req := proj.request()
	req.SkipLink = true

	result, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateComplete {
		t.Fatalf("State = %s", result.State)
	}
	if _, err := os.Stat(os.Getenv("KFORGE_TEST_LINK_MARKER")); !os.IsNotExist(err) {
		t.Fatalf("link script ran despite SkipLink")
	}
}

func TestConfigureFailureNeverInvokesBuilder(t *testing.T) {
	bad := strings.Replace(kernelDescriptorJSON, `"abort"`, `"unwind"`, 1)
	proj := setupProject(t, bad, fakeBuilderScript)

	result, err := Run(context.Background(), proj.request())
	var cfgErr *target.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if result.State != StateFailed {
		t.Fatalf("State = %s", result.State)
	}
	if _, err := os.Stat(proj.marker); !os.IsNotExist(err) {
		t.Fatalf("builder was invoked despite configuration failure")
	}
}

func TestIncompatiblePolicyFailsBeforeCompile(t *testing.T) {
	proj := setupProject(t, lowAddressDescriptorJSON, fakeBuilderScript)

	result, err := Run(context.Background(), proj.request())
	var polErr *codegen.IncompatiblePolicyError
	if !errors.As(err, &polErr) {
		t.Fatalf("expected IncompatiblePolicyError, got %v", err)
	}
	if result.State != StateFailed {
		t.Fatalf("State = %s", result.State)
	}
	if _, err := os.Stat(proj.marker); !os.IsNotExist(err) {
		t.Fatalf("builder was invoked despite policy failure")
	}
}

func TestCompileFailureLeavesNoArtifacts(t *testing.T) {
	proj := setupProject(t, kernelDescriptorJSON, failingBuilderScript)

	result, err := Run(context.Background(), proj.request())
	var compErr *CompilationError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected CompilationError, got %v", err)
	}
	if !strings.Contains(compErr.Error(), "error[E0463]") {
		t.Fatalf("builder diagnostic lost: %q", compErr.Error())
	}
	if result.State != StateFailed {
		t.Fatalf("State = %s", result.State)
	}
	if _, err := os.Stat(ArtifactDir(proj.root, "x86_64-unknown-helios")); !os.IsNotExist(err) {
		t.Fatalf("artifact directory exists after failed compile")
	}
	if _, err := os.Stat(filepath.Join(proj.root, TargetDirName, stagingDirName)); !os.IsNotExist(err) {
		t.Fatalf("staging directory left behind")
	}
}

func TestRunPurgesStaleArtifacts(t *testing.T) {
	proj := setupProject(t, kernelDescriptorJSON, fakeBuilderScript)
	stale := filepath.Join(ArtifactDir(proj.root, "x86_64-unknown-helios"), "stale.o")
	if err := os.MkdirAll(filepath.Dir(stale), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("built under relocation-model=pic"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	req := proj.request()
	req.SkipLink = true
	result, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale object survived the reset")
	}
	for _, name := range result.Artifacts.Names() {
		if name == "stale.o" {
			t.Fatalf("stale object inside fresh artifact set")
		}
	}
}
