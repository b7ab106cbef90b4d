package buildpipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Directory layout under the project root. The artifact directory is handed
// to the link script by convention, never as an argument.
const (
	// TargetDirName holds per-triple artifact directories.
	TargetDirName = "target"
	// StageCacheDirName is the external builder's bootstrap sysroot cache.
	StageCacheDirName = ".xbuild"
	// stagingDirName is where a compile lands before atomic promotion.
	stagingDirName = ".staging"
)

// ArtifactDir returns the directory holding the artifact set for triple.
func ArtifactDir(rootDir, triple string) string {
	return filepath.Join(rootDir, TargetDirName, triple)
}

// Reset removes every artifact a previous run may have left behind: the whole
// target directory and the builder's stage cache. It runs unconditionally
// before each build — the builder would otherwise reuse stage-0 objects
// compiled under a different relocation model, and nothing downstream can
// diagnose that mix. Idempotent; a clean tree is not an error.
func Reset(rootDir string) error {
	for _, dir := range []string{
		filepath.Join(rootDir, TargetDirName),
		filepath.Join(rootDir, StageCacheDirName),
	} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %q: %w", dir, err)
		}
	}
	return nil
}
