package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const noKforgeTomlMessage = "no kforge.toml found\nrun kforge from inside a kernel project, or pass its path explicitly, e.g.:\n  kforge build path/to/kernel"

type projectManifest struct {
	Path   string
	Root   string
	Config projectConfig
}

type projectConfig struct {
	Kernel    kernelConfig    `toml:"kernel"`
	Target    targetConfig    `toml:"target"`
	Toolchain toolchainConfig `toml:"toolchain"`
	Corelib   corelibConfig   `toml:"corelib"`
	Link      linkConfig      `toml:"link"`
}

type kernelConfig struct {
	Name string `toml:"name"`
}

type targetConfig struct {
	Spec string `toml:"spec"`
}

type toolchainConfig struct {
	Builder string `toml:"builder"`
	Stage   int    `toml:"stage"`
}

type corelibConfig struct {
	Path     string   `toml:"path"`
	Packages []string `toml:"packages"`
}

type linkConfig struct {
	Script string `toml:"script"`
}

func findKforgeToml(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "kforge.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

func loadProjectManifest(startDir string) (*projectManifest, bool, error) {
	manifestPath, ok, err := findKforgeToml(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err := loadProjectConfig(manifestPath)
	if err != nil {
		return nil, true, err
	}
	return &projectManifest{
		Path:   manifestPath,
		Root:   filepath.Dir(manifestPath),
		Config: cfg,
	}, true, nil
}

func loadProjectConfig(path string) (projectConfig, error) {
	var cfg projectConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return projectConfig{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("kernel") {
		return projectConfig{}, fmt.Errorf("%s: missing [kernel]", path)
	}
	if !meta.IsDefined("kernel", "name") || strings.TrimSpace(cfg.Kernel.Name) == "" {
		return projectConfig{}, fmt.Errorf("%s: missing [kernel].name", path)
	}
	if !meta.IsDefined("target") {
		return projectConfig{}, fmt.Errorf("%s: missing [target]", path)
	}
	if !meta.IsDefined("target", "spec") || strings.TrimSpace(cfg.Target.Spec) == "" {
		return projectConfig{}, fmt.Errorf("%s: missing [target].spec", path)
	}
	if !meta.IsDefined("link") {
		return projectConfig{}, fmt.Errorf("%s: missing [link]", path)
	}
	if !meta.IsDefined("link", "script") || strings.TrimSpace(cfg.Link.Script) == "" {
		return projectConfig{}, fmt.Errorf("%s: missing [link].script", path)
	}
	if cfg.Toolchain.Stage < 0 {
		return projectConfig{}, fmt.Errorf("%s: [toolchain].stage must not be negative", path)
	}
	// Defaults for optional sections.
	if strings.TrimSpace(cfg.Toolchain.Builder) == "" {
		cfg.Toolchain.Builder = "xbuild"
	}
	if strings.TrimSpace(cfg.Corelib.Path) == "" {
		cfg.Corelib.Path = "corelib"
	}
	if len(cfg.Corelib.Packages) == 0 {
		cfg.Corelib.Packages = []string{"core", "alloc"}
	}
	return cfg, nil
}
