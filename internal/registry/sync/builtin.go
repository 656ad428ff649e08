package sync

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// builtinPkgFS embeds the platform's own action package: the "builtin"
// origin resolves against this instead of a clone or a local checkout
// (spec §4.3 phase 1, origin kind "builtin").
//
//go:embed builtin_pkg
var builtinPkgFS embed.FS

const builtinPkgRoot = "builtin_pkg"

// BuiltinVersion is the builtin package's own declared version,
// read once from its embedded VERSION file — the version string a
// sync of the "builtin" origin reports when no commit SHA applies
// (spec §4.3 "the package's declared version (builtin)").
var BuiltinVersion = mustReadBuiltinVersion()

func mustReadBuiltinVersion() string {
	b, err := builtinPkgFS.ReadFile(builtinPkgRoot + "/VERSION")
	if err != nil {
		panic(fmt.Sprintf("registry/sync: embedded builtin package missing VERSION: %v", err))
	}
	return strings.TrimSpace(string(b))
}

// resolveBuiltin materializes the embedded builtin package under
// workDir so the rest of the sync pipeline (Discover, BuildVenv,
// tarball) treats it exactly like a git clone or local checkout: a
// plain directory on disk.
func resolveBuiltin(workDir string) (string, error) {
	if err := os.RemoveAll(workDir); err != nil {
		return "", fmt.Errorf("registry/sync: clear builtin work dir %q: %w", workDir, err)
	}
	err := fs.WalkDir(builtinPkgFS, builtinPkgRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, builtinPkgRoot), "/")
		dst := filepath.Join(workDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		data, err := builtinPkgFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read embedded %q: %w", path, err)
		}
		return os.WriteFile(dst, data, 0o644)
	})
	if err != nil {
		return "", fmt.Errorf("registry/sync: materialize builtin package into %q: %w", workDir, err)
	}
	return workDir, nil
}
