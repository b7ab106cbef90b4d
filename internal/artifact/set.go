// Package artifact models the set of object files one build produces and the
// manifest that makes staleness detectable. The set is owned by a single
// pipeline run; the link stage only ever sees a complete, freshly verified
// set or an error.
package artifact

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Digest is a SHA-256 content hash of one object file.
type Digest [sha256.Size]byte

// Object is a single compiled unit inside the set.
type Object struct {
	Name   string // path relative to the artifact directory, slash-separated
	Size   int64
	Digest Digest
}

// Set is the ordered collection of object files in one artifact directory.
type Set struct {
	Dir     string
	Objects []Object
}

// Empty reports whether the set holds no objects. A successful core library
// build always yields a non-empty set.
func (s *Set) Empty() bool {
	return s == nil || len(s.Objects) == 0
}

// Names returns the relative object paths in set order.
func (s *Set) Names() []string {
	names := make([]string, len(s.Objects))
	for i, obj := range s.Objects {
		names[i] = obj.Name
	}
	return names
}

// Collect walks dir for object files and digests them. Hashing fans out over
// a bounded errgroup; the parallelism stays inside this call and is not
// observable as partial results.
func Collect(ctx context.Context, dir string) (*Set, error) {
	var names []string
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".o") {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to scan artifact directory %q: %w", dir, walkErr)
	}
	sort.Strings(names)

	objects := make([]Object, len(names))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())
	for i, name := range names {
		i, name := i, name
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, filepath.FromSlash(name))
			size, digest, err := digestFile(path)
			if err != nil {
				return err
			}
			objects[i] = Object{Name: name, Size: size, Digest: digest}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return &Set{Dir: dir, Objects: objects}, nil
}

func digestFile(path string) (int64, Digest, error) {
	var digest Digest
	// #nosec G304 -- path was discovered inside the artifact directory
	f, err := os.Open(path)
	if err != nil {
		return 0, digest, fmt.Errorf("failed to open object %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, digest, fmt.Errorf("failed to hash object %q: %w", path, err)
	}
	copy(digest[:], h.Sum(nil))
	return size, digest, nil
}
