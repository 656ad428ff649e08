package sync

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// BuildTarball packages packageDir (plus its built venv at
// <packageDir>/.venv) into a gzipped tar stream written to w. Symlinks
// — notably editable-install packages, which pip leaves as symlinks
// into the original source checkout — are resolved and copied as real
// directories/files, so the archive is self-contained and extractable
// on a node that never had the original checkout (spec §4.3 "[ADDED]
// editable-package rewrite at tarball-build time").
func BuildTarball(packageDir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(packageDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		resolved, info, err := resolveSymlink(path, info)
		if err != nil {
			return fmt.Errorf("registry/sync: resolve %q: %w", path, err)
		}

		rel, err := filepath.Rel(packageDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("registry/sync: build tar header for %q: %w", path, err)
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("registry/sync: write tar header for %q: %w", rel, err)
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(resolved)
		if err != nil {
			return fmt.Errorf("registry/sync: open %q: %w", resolved, err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("registry/sync: write tar entry %q: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		_ = tw.Close()
		_ = gz.Close()
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("registry/sync: close tar writer: %w", err)
	}
	return gz.Close()
}

// resolveSymlink resolves a symlink through every level of indirection
// (filepath.EvalSymlinks), returning the final target path and its
// FileInfo in place of the link's own
// (which os.Lstat would otherwise report as a symlink mode bit).
func resolveSymlink(path string, info fs.FileInfo) (string, fs.FileInfo, error) {
	if info.Mode()&os.ModeSymlink == 0 {
		return path, info, nil
	}
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", nil, err
	}
	real, err := os.Stat(target)
	if err != nil {
		return "", nil, err
	}
	return target, real, nil
}

// BuildVenv creates a virtualenv at <packageDir>/.venv and installs
// packageDir's own requirements into it, so the tarball ships a
// fully-resolved interpreter environment rather than relying on the
// extracting node's ambient Python (spec §4.3 phase 4 "build tarball
// venv").
func BuildVenv(ctx context.Context, pythonPath, packageDir string) error {
	if pythonPath == "" {
		pythonPath = "python3"
	}
	venvDir := filepath.Join(packageDir, ".venv")

	if out, err := exec.CommandContext(ctx, pythonPath, "-m", "venv", venvDir).CombinedOutput(); err != nil {
		return fmt.Errorf("registry/sync: create venv at %q: %w: %s", venvDir, err, out)
	}

	pip := filepath.Join(venvDir, "bin", "pip")
	reqFile := filepath.Join(packageDir, "requirements.txt")
	if _, err := os.Stat(reqFile); err != nil {
		return nil
	}
	if out, err := exec.CommandContext(ctx, pip, "install", "--no-input", "-r", reqFile).CombinedOutput(); err != nil {
		return fmt.Errorf("registry/sync: install requirements for %q: %w: %s", packageDir, err, out)
	}
	return nil
}
