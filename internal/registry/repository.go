package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/flowcore/flowcore/internal/registry/store"
)

// Repository is the promotion boundary for one registry origin: it
// tracks which synced RegistryVersion new workflow locks bind against,
// refuses to promote a downgrade, and refuses to delete the version
// currently promoted (spec §3.4, §6).
type Repository struct {
	store  store.Store
	Origin string
}

// NewRepository constructs a Repository for origin over s.
func NewRepository(s store.Store, origin string) *Repository {
	return &Repository{store: s, Origin: origin}
}

// Current returns the origin's currently promoted version, or
// store.ErrNotFound if it has never been promoted.
func (r *Repository) Current(ctx context.Context) (string, error) {
	return r.store.CurrentVersion(ctx, r.Origin)
}

// Promote makes version the origin's current version — the one new
// workflow locks bind against — refusing the promotion if version
// parses as a semver older than the currently promoted one. A sync
// that regresses functionality must be rolled back through an
// explicit Promote call naming an even-newer version, never silently
// accepted as "current" just because it ran most recently (spec §4.3
// "performs a downgrade/semver check against the current version").
//
// Versions that aren't valid semver (a git SHA, a timestamp) can't be
// ordered this way, so the check is skipped for them: the caller's
// intent to promote is trusted as-is.
func (r *Repository) Promote(ctx context.Context, version string) error {
	current, err := r.store.CurrentVersion(ctx, r.Origin)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("registry: read current version for %q: %w", r.Origin, err)
		}
		current = ""
	}

	if current != "" && current != version {
		next, nextErr := semver.NewVersion(version)
		prev, prevErr := semver.NewVersion(current)
		if nextErr == nil && prevErr == nil && next.LessThan(prev) {
			return fmt.Errorf("registry: refusing to promote %s@%s: it is a downgrade from the current promoted version %s", r.Origin, version, current)
		}
	}

	if err := r.store.SetCurrentVersion(ctx, r.Origin, version); err != nil {
		return fmt.Errorf("registry: promote %s@%s: %w", r.Origin, version, err)
	}
	return nil
}

// Delete removes version from the origin, refusing if it is the
// currently promoted version (spec §3.4, §6 "deletion refusal").
func (r *Repository) Delete(ctx context.Context, version string) error {
	if err := r.store.DeleteVersion(ctx, r.Origin, version); err != nil {
		if errors.Is(err, store.ErrVersionInUse) {
			return fmt.Errorf("registry: cannot delete %s@%s: it is the currently promoted version", r.Origin, version)
		}
		return fmt.Errorf("registry: delete %s@%s: %w", r.Origin, version, err)
	}
	return nil
}
