// Package store defines the persistence layer for registry versions.
// Implementations must be safe for concurrent use and return
// ErrNotFound for a missing (origin, version) pair.
package store

import (
	"context"
	"errors"

	"github.com/flowcore/flowcore/internal/registry"
)

// ErrNotFound is returned when a requested RegistryVersion does not exist.
var ErrNotFound = errors.New("registry/store: version not found")

// ErrVersionExists is returned by SaveVersion when a version string
// already exists for an origin; SaveVersion never suffixes a version
// itself, the caller retries under a new name (spec §4.3
// "collision-suffix versioning").
var ErrVersionExists = errors.New("registry/store: version already exists")

// ErrVersionInUse is returned by DeleteVersion when the version is the
// origin's currently promoted version (spec §3.4, §6 "deletion
// refusal").
var ErrVersionInUse = errors.New("registry/store: version is the currently promoted version")

// Store is the persistence layer for registry versions and each
// origin's current-version pointer; it stores no workflow or lock rows
// (spec §6).
type Store interface {
	// SaveVersion persists a RegistryVersion, failing with
	// ErrVersionExists if (Origin, Version) is already present.
	SaveVersion(ctx context.Context, v registry.RegistryVersion) error

	// GetVersion retrieves the manifest pinned at (origin, version).
	GetVersion(ctx context.Context, origin, version string) (registry.RegistryVersion, error)

	// LatestVersion returns the most recently saved version string for
	// an origin, or ErrNotFound if the origin has never been synced.
	LatestVersion(ctx context.Context, origin string) (string, error)

	// ListVersions returns every version string ever saved for an
	// origin, oldest first.
	ListVersions(ctx context.Context, origin string) ([]string, error)

	// CurrentVersion returns the version string an origin is currently
	// promoted to — the one new workflow locks bind against — or
	// ErrNotFound if the origin has never been promoted (spec §3.4).
	// This is distinct from LatestVersion: a sync lands a new version
	// without necessarily promoting it.
	CurrentVersion(ctx context.Context, origin string) (string, error)

	// SetCurrentVersion promotes version to be origin's current
	// version. The caller is responsible for any downgrade guard; the
	// store itself only persists the pointer.
	SetCurrentVersion(ctx context.Context, origin, version string) error

	// DeleteVersion removes (origin, version), failing with
	// ErrVersionInUse if it is the origin's current version (spec §3.4,
	// §6 "deletion refusal").
	DeleteVersion(ctx context.Context, origin, version string) error
}
