package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
)

// ManifestName is the manifest file inside an artifact directory.
const ManifestName = "manifest.mp"

// Bump when the Manifest format changes so old manifests invalidate cleanly.
const manifestSchemaVersion uint16 = 1

// Manifest records what one build produced and under which effective flags.
// It is what lets a later stage distinguish a fresh artifact set from objects
// left behind by a run with a different code-generation policy — a mix the
// compiler and linker both accept without complaint.
type Manifest struct {
	Schema      uint16
	Triple      string
	Flags       string // effective flags fingerprint, exactly as exported
	CreatedUnix int64
	ObjectCount uint32
	Names       []string
	Sizes       []int64
	Digests     []Digest
}

// VerifyError reports an artifact set that does not match its manifest or was
// built under different flags. The link stage must never consume such a set.
type VerifyError struct {
	Dir    string
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("artifact set %s: %s", e.Dir, e.Reason)
}

// WriteManifest serializes the set's manifest into its directory, atomically.
func WriteManifest(set *Set, triple, flags string) error {
	if set == nil {
		return fmt.Errorf("missing artifact set")
	}
	count, err := safecast.Conv[uint32](len(set.Objects))
	if err != nil {
		return fmt.Errorf("artifact set too large: %w", err)
	}
	m := Manifest{
		Schema:      manifestSchemaVersion,
		Triple:      triple,
		Flags:       flags,
		CreatedUnix: time.Now().Unix(),
		ObjectCount: count,
		Names:       make([]string, len(set.Objects)),
		Sizes:       make([]int64, len(set.Objects)),
		Digests:     make([]Digest, len(set.Objects)),
	}
	for i, obj := range set.Objects {
		m.Names[i] = obj.Name
		m.Sizes[i] = obj.Size
		m.Digests[i] = obj.Digest
	}

	path := filepath.Join(set.Dir, ManifestName)
	f, err := os.CreateTemp(set.Dir, "manifest-*")
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()
	if err := msgpack.NewEncoder(f).Encode(&m); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return os.Rename(f.Name(), path)
}

// LoadManifest reads a manifest from dir. The boolean reports presence; a
// manifest with a stale schema counts as absent.
func LoadManifest(dir string) (*Manifest, bool, error) {
	path := filepath.Join(dir, ManifestName)
	// #nosec G304 -- path is inside the artifact directory
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	var m Manifest
	if err := msgpack.NewDecoder(f).Decode(&m); err != nil {
		return nil, false, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Schema != manifestSchemaVersion {
		return nil, false, nil
	}
	return &m, true, nil
}

// Verify re-collects the artifact directory and checks it against its
// manifest and the current triple and flags fingerprint. It returns the
// verified set only when every object is present, untouched, and was built
// under exactly the given flags.
func Verify(ctx context.Context, dir, triple, flags string) (*Set, error) {
	m, ok, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &VerifyError{Dir: dir, Reason: "no build manifest; run a full build first"}
	}
	if m.Triple != triple {
		return nil, &VerifyError{Dir: dir, Reason: fmt.Sprintf("built for %s, expected %s", m.Triple, triple)}
	}
	if m.Flags != flags {
		return nil, &VerifyError{Dir: dir,
			Reason: fmt.Sprintf("objects were compiled under %q, current policy is %q; a clean rebuild is required", m.Flags, flags)}
	}
	set, err := Collect(ctx, dir)
	if err != nil {
		return nil, err
	}
	if len(set.Objects) != len(m.Names) {
		return nil, &VerifyError{Dir: dir,
			Reason: fmt.Sprintf("manifest lists %d objects, directory holds %d", len(m.Names), len(set.Objects))}
	}
	for i, obj := range set.Objects {
		if obj.Name != m.Names[i] {
			return nil, &VerifyError{Dir: dir, Reason: fmt.Sprintf("unexpected object %s", obj.Name)}
		}
		if obj.Digest != m.Digests[i] {
			return nil, &VerifyError{Dir: dir, Reason: fmt.Sprintf("object %s was modified after the build", obj.Name)}
		}
	}
	return set, nil
}
