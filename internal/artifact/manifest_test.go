package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	testTriple = "x86_64-unknown-helios"
	testFlags  = "--emit=obj -C code-model=large -C relocation-model=static"
)

func writeObjects(t *testing.T, dir string, objects map[string]string) {
	t.Helper()
	for name, data := range objects {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestCollectOrdersAndDigests(t *testing.T) {
	dir := t.TempDir()
	writeObjects(t, dir, map[string]string{
		"core.o":       "core code",
		"alloc.o":      "alloc code",
		"deps/fmt.o":   "fmt code",
		"notes.txt":    "ignored",
		"manifest.mp":  "ignored too",
		"deps/read.me": "ignored as well",
	})
	set, err := Collect(context.Background(), dir)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []string{"alloc.o", "core.o", "deps/fmt.o"}
	got := set.Names()
	if len(got) != len(want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names = %v, want %v", got, want)
		}
	}
	for _, obj := range set.Objects {
		var zero Digest
		if obj.Digest == zero {
			t.Fatalf("object %s has zero digest", obj.Name)
		}
		if obj.Size == 0 {
			t.Fatalf("object %s has zero size", obj.Name)
		}
	}
}

func TestManifestRoundtripAndVerify(t *testing.T) {
	dir := t.TempDir()
	writeObjects(t, dir, map[string]string{"core.o": "core", "alloc.o": "alloc"})
	set, err := Collect(context.Background(), dir)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if err := WriteManifest(set, testTriple, testFlags); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	m, ok, err := LoadManifest(dir)
	if err != nil || !ok {
		t.Fatalf("LoadManifest: ok=%v err=%v", ok, err)
	}
	if m.Triple != testTriple || m.Flags != testFlags {
		t.Fatalf("manifest = %+v", m)
	}
	if m.ObjectCount != 2 {
		t.Fatalf("ObjectCount = %d", m.ObjectCount)
	}

	verified, err := Verify(context.Background(), dir, testTriple, testFlags)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.Empty() {
		t.Fatalf("verified set is empty")
	}
}

func TestVerifyFailures(t *testing.T) {
	build := func(t *testing.T) string {
		t.Helper()
		dir := t.TempDir()
		writeObjects(t, dir, map[string]string{"core.o": "core", "alloc.o": "alloc"})
		set, err := Collect(context.Background(), dir)
		if err != nil {
			t.Fatalf("Collect: %v", err)
		}
		if err := WriteManifest(set, testTriple, testFlags); err != nil {
			t.Fatalf("WriteManifest: %v", err)
		}
		return dir
	}

	t.Run("no manifest", func(t *testing.T) {
		dir := t.TempDir()
		writeObjects(t, dir, map[string]string{"core.o": "core"})
		_, err := Verify(context.Background(), dir, testTriple, testFlags)
		assertVerifyError(t, err, "no build manifest")
	})

	t.Run("stale flags", func(t *testing.T) {
		dir := build(t)
		stale := "--emit=obj -C code-model=large -C relocation-model=pic"
		_, err := Verify(context.Background(), dir, testTriple, stale)
		assertVerifyError(t, err, "clean rebuild")
	})

	t.Run("wrong triple", func(t *testing.T) {
		dir := build(t)
		_, err := Verify(context.Background(), dir, "aarch64-unknown-helios", testFlags)
		assertVerifyError(t, err, "built for")
	})

	t.Run("modified object", func(t *testing.T) {
		dir := build(t)
		if err := os.WriteFile(filepath.Join(dir, "core.o"), []byte("tampered"), 0o600); err != nil {
			t.Fatalf("tamper: %v", err)
		}
		_, err := Verify(context.Background(), dir, testTriple, testFlags)
		assertVerifyError(t, err, "modified after the build")
	})

	t.Run("missing object", func(t *testing.T) {
		dir := build(t)
		if err := os.Remove(filepath.Join(dir, "alloc.o")); err != nil {
			t.Fatalf("remove: %v", err)
		}
		_, err := Verify(context.Background(), dir, testTriple, testFlags)
		assertVerifyError(t, err, "directory holds")
	})

	t.Run("extra object", func(t *testing.T) {
		dir := build(t)
		writeObjects(t, dir, map[string]string{"stray.o": "stale leftover"})
		_, err := Verify(context.Background(), dir, testTriple, testFlags)
		assertVerifyError(t, err, "directory holds")
	})
}

func assertVerifyError(t *testing.T, err error, wantSub string) {
	t.Helper()
	var verr *VerifyError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VerifyError, got %v", err)
	}
	if !strings.Contains(verr.Reason, wantSub) {
		t.Fatalf("Reason = %q, want substring %q", verr.Reason, wantSub)
	}
}
