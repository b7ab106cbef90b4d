package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, data string) string {
	t.Helper()
	path := filepath.Join(dir, "kforge.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write kforge.toml: %v", err)
	}
	return path
}

func TestLoadProjectManifest(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `# helios kernel
[kernel]
name = "helios"

[target]
spec = "targets/x86_64-helios.json"

[toolchain]
builder = "xbuild"
stage = 0

[corelib]
path = "corelib"
packages = ["core", "alloc"]

[link]
script = "scripts/link.sh"
`)
	manifest, found, err := loadProjectManifest(root)
	if err != nil {
		t.Fatalf("loadProjectManifest: %v", err)
	}
	if !found {
		t.Fatalf("manifest not found")
	}
	if manifest.Root != root {
		t.Fatalf("Root = %q, want %q", manifest.Root, root)
	}
	if manifest.Config.Kernel.Name != "helios" {
		t.Fatalf("Kernel.Name = %q", manifest.Config.Kernel.Name)
	}
	if manifest.Config.Target.Spec != "targets/x86_64-helios.json" {
		t.Fatalf("Target.Spec = %q", manifest.Config.Target.Spec)
	}
	if manifest.Config.Toolchain.Builder != "xbuild" {
		t.Fatalf("Toolchain.Builder = %q", manifest.Config.Toolchain.Builder)
	}
}

func TestLoadProjectManifestDefaults(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `[kernel]
name = "helios"

[target]
spec = "targets/x86_64-helios.json"

[link]
script = "scripts/link.sh"
`)
	manifest, _, err := loadProjectManifest(root)
	if err != nil {
		t.Fatalf("loadProjectManifest: %v", err)
	}
	cfg := manifest.Config
	if cfg.Toolchain.Builder != "xbuild" {
		t.Fatalf("default builder = %q", cfg.Toolchain.Builder)
	}
	if cfg.Toolchain.Stage != 0 {
		t.Fatalf("default stage = %d", cfg.Toolchain.Stage)
	}
	if cfg.Corelib.Path != "corelib" {
		t.Fatalf("default corelib path = %q", cfg.Corelib.Path)
	}
	if len(cfg.Corelib.Packages) != 2 || cfg.Corelib.Packages[0] != "core" || cfg.Corelib.Packages[1] != "alloc" {
		t.Fatalf("default packages = %v", cfg.Corelib.Packages)
	}
}

func TestLoadProjectManifestWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `[kernel]
name = "helios"

[target]
spec = "targets/x86_64-helios.json"

[link]
script = "scripts/link.sh"
`)
	nested := filepath.Join(root, "corelib", "src")
	if err := os.MkdirAll(nested, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest, found, err := loadProjectManifest(nested)
	if err != nil || !found {
		t.Fatalf("loadProjectManifest: found=%v err=%v", found, err)
	}
	if manifest.Root != root {
		t.Fatalf("Root = %q, want %q", manifest.Root, root)
	}
}

func TestLoadProjectManifestRejects(t *testing.T) {
	cases := []struct {
		name    string
		data    string
		wantSub string
	}{
		{
			name:    "missing kernel section",
			data:    "[target]\nspec = \"t.json\"\n\n[link]\nscript = \"l.sh\"\n",
			wantSub: "missing [kernel]",
		},
		{
			name:    "missing target spec",
			data:    "[kernel]\nname = \"helios\"\n\n[target]\n\n[link]\nscript = \"l.sh\"\n",
			wantSub: "missing [target].spec",
		},
		{
			name:    "missing link script",
			data:    "[kernel]\nname = \"helios\"\n\n[target]\nspec = \"t.json\"\n",
			wantSub: "missing [link]",
		},
		{
			name:    "negative stage",
			data:    "[kernel]\nname = \"helios\"\n\n[target]\nspec = \"t.json\"\n\n[toolchain]\nstage = -1\n\n[link]\nscript = \"l.sh\"\n",
			wantSub: "stage",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			path := writeManifest(t, root, tc.data)
			_, err := loadProjectConfig(path)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error = %q, want substring %q", err, tc.wantSub)
			}
		})
	}
}
