// Package sync implements the Registry Sync pipeline (spec §4.3):
// resolve a registry origin's source, discover its actions, validate
// template actions, build and upload a tarball of the package plus its
// venv, and persist the resulting RegistryVersion — guarded by a
// Redis leader lock so only one node per origin runs the pipeline at a
// time.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flowcore/flowcore/internal/registry"
	"github.com/flowcore/flowcore/internal/registry/store"
)

// Uploader persists a built tarball to object storage and returns the
// URI the runner will later fetch it from.
type Uploader interface {
	Upload(ctx context.Context, key string, path string) (uri string, err error)
}

// Options configures one Sync invocation.
type Options struct {
	Origin     string
	SourceURI  string
	PythonPath string
	WorkDir    string // scratch directory for clone/venv/tarball build
	Validate   bool   // run ValidateTemplates before building the tarball
}

// Syncer runs the registry sync pipeline for a set of origins against
// a shared store, uploader, and leader-election Redis client.
type Syncer struct {
	store    store.Store
	uploader Uploader
	locks    func(origin string) *LeaderLock
}

// NewSyncer constructs a Syncer. newLock is a factory so callers can
// inject a fresh LeaderLock per origin (each needs its own Redis key).
func NewSyncer(s store.Store, uploader Uploader, newLock func(origin string) *LeaderLock) *Syncer {
	return &Syncer{store: s, uploader: uploader, locks: newLock}
}

// Sync runs the full pipeline for one origin, electing leadership
// first: if another node already holds the lock, Sync returns
// (false, nil) without performing any work.
func (s *Syncer) Sync(ctx context.Context, opts Options) (ran bool, version string, err error) {
	lock := s.locks(opts.Origin)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return false, "", fmt.Errorf("registry/sync: %w", err)
	}
	if !acquired {
		return false, "", nil
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	version, err = s.run(ctx, opts)
	if err != nil {
		return true, "", err
	}
	return true, version, nil
}

func (s *Syncer) run(ctx context.Context, opts Options) (string, error) {
	src, err := ParseSource(opts.SourceURI)
	if err != nil {
		return "", fmt.Errorf("registry/sync: parse source: %w", err)
	}

	packageDir, err := Resolve(ctx, src, filepath.Join(opts.WorkDir, opts.Origin))
	if err != nil {
		return "", fmt.Errorf("registry/sync: resolve source: %w", err)
	}

	hint, err := VersionHint(src, packageDir)
	if err != nil {
		return "", fmt.Errorf("registry/sync: derive version: %w", err)
	}
	version := nextVersion(hint)

	// A deterministic version (git SHA or builtin's declared version)
	// that is already saved means this origin hasn't changed since the
	// last sync: return it as-is rather than re-discovering, rebuilding
	// the venv, and re-uploading an identical tarball (spec §4.3).
	if hint != "" {
		if existing, err := s.store.GetVersion(ctx, opts.Origin, version); err == nil {
			return existing.Version, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("registry/sync: check existing version: %w", err)
		}
	}

	actions, err := Discover(ctx, opts.PythonPath, packageDir)
	if err != nil {
		return "", fmt.Errorf("registry/sync: discover: %w", err)
	}

	if opts.Validate {
		if problems := ValidateTemplates(actions); len(problems) > 0 {
			return "", fmt.Errorf("registry/sync: %d template validation error(s), first: %s: %s",
				len(problems), problems[0].ActionKey, problems[0].Message)
		}
	}

	if err := BuildVenv(ctx, opts.PythonPath, packageDir); err != nil {
		return "", fmt.Errorf("registry/sync: build venv: %w", err)
	}

	tarPath := filepath.Join(opts.WorkDir, opts.Origin+".tar.gz")
	if err := writeTarball(packageDir, tarPath); err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s.tar.gz", opts.Origin, version)
	uri, err := s.uploader.Upload(ctx, key, tarPath)
	if err != nil {
		return "", fmt.Errorf("registry/sync: upload tarball: %w", err)
	}

	manifest := make(map[string]registry.ManifestAction, len(actions))
	for _, a := range actions {
		if a.UDF != nil {
			a.UDF.TarballURI = uri
		}
		manifest[a.Key()] = a
	}

	rv := registry.RegistryVersion{Origin: opts.Origin, Version: version, Manifest: manifest}
	saved, err := s.saveVersion(ctx, rv, hint != "")
	if err != nil {
		return "", err
	}

	// Auto-promote: a successful sync becomes the origin's current
	// version immediately, subject to Promote's downgrade guard (spec
	// §4.3, §3.4).
	if err := registry.NewRepository(s.store, opts.Origin).Promote(ctx, saved); err != nil {
		return "", fmt.Errorf("registry/sync: %w", err)
	}
	return saved, nil
}

func writeTarball(packageDir, tarPath string) error {
	f, err := os.Create(tarPath)
	if err != nil {
		return fmt.Errorf("registry/sync: create tarball %q: %w", tarPath, err)
	}
	defer f.Close()
	if err := BuildTarball(packageDir, f); err != nil {
		return fmt.Errorf("registry/sync: build tarball: %w", err)
	}
	return nil
}

// nextVersion derives this sync's version string: hint is the short
// commit SHA (git) or declared package version (builtin) VersionHint
// computed, consulted first so an unchanged origin always produces the
// same version string; an empty hint (local source) falls back to a
// second-resolution UTC timestamp, which saveVersion suffixes on a
// collision (spec §4.3 "either the short commit SHA (git), the package's
// declared version (builtin), or a timestamp").
func nextVersion(hint string) string {
	if hint != "" {
		return hint
	}
	return time.Now().UTC().Format("20060102T150405")
}

// saveVersion persists rv. For a deterministic version (hint-derived:
// git SHA or builtin declared version), a collision means another sync
// already landed the identical version, so it is treated as success
// and that version is returned unchanged rather than suffixed —
// suffixing is reserved for the timestamp fallback, where two syncs
// landing in the same second are genuinely different content (spec
// §4.3 "[ADDED] Collision-suffix versioning").
func (s *Syncer) saveVersion(ctx context.Context, rv registry.RegistryVersion, deterministic bool) (string, error) {
	if deterministic {
		err := s.store.SaveVersion(ctx, rv)
		if err == nil || errors.Is(err, store.ErrVersionExists) {
			return rv.Version, nil
		}
		return "", fmt.Errorf("registry/sync: save version: %w", err)
	}

	base := rv.Version
	for attempt := 1; ; attempt++ {
		candidate := rv
		if attempt > 1 {
			candidate.Version = fmt.Sprintf("%s-%d", base, attempt)
		}
		err := s.store.SaveVersion(ctx, candidate)
		if err == nil {
			return candidate.Version, nil
		}
		if !errors.Is(err, store.ErrVersionExists) {
			return "", fmt.Errorf("registry/sync: save version: %w", err)
		}
	}
}
