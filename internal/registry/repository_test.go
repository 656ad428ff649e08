package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/flowcore/internal/registry"
	"github.com/flowcore/flowcore/internal/registry/store"
	"github.com/flowcore/flowcore/internal/registry/store/memory"
)

func seedRepoVersion(t *testing.T, s *memory.Store, origin, version string) {
	t.Helper()
	err := s.SaveVersion(context.Background(), registry.RegistryVersion{
		Origin:   origin,
		Version:  version,
		Manifest: map[string]registry.ManifestAction{},
	})
	require.NoError(t, err)
}

func TestRepository_PromoteFirstVersionHasNoCurrentToCompareAgainst(t *testing.T) {
	s := memory.New()
	seedRepoVersion(t, s, "acme", "1.0.0")
	repo := registry.NewRepository(s, "acme")

	require.NoError(t, repo.Promote(context.Background(), "1.0.0"))

	current, err := repo.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.0.0", current)
}

func TestRepository_PromoteRefusesSemverDowngrade(t *testing.T) {
	s := memory.New()
	seedRepoVersion(t, s, "acme", "1.0.0")
	seedRepoVersion(t, s, "acme", "2.0.0")
	repo := registry.NewRepository(s, "acme")

	require.NoError(t, repo.Promote(context.Background(), "2.0.0"))

	err := repo.Promote(context.Background(), "1.0.0")
	require.ErrorContains(t, err, "downgrade")

	current, err := repo.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2.0.0", current, "a refused downgrade must not change the current version")
}

func TestRepository_PromoteAllowsNonSemverVersions(t *testing.T) {
	s := memory.New()
	seedRepoVersion(t, s, "acme", "abc1234")
	seedRepoVersion(t, s, "acme", "0000000")
	repo := registry.NewRepository(s, "acme")

	require.NoError(t, repo.Promote(context.Background(), "abc1234"))
	require.NoError(t, repo.Promote(context.Background(), "0000000"), "non-semver versions (git SHAs, timestamps) bypass the ordering check")
}

func TestRepository_DeleteRefusesCurrentVersion(t *testing.T) {
	s := memory.New()
	seedRepoVersion(t, s, "acme", "1.0.0")
	repo := registry.NewRepository(s, "acme")
	require.NoError(t, repo.Promote(context.Background(), "1.0.0"))

	err := repo.Delete(context.Background(), "1.0.0")
	require.ErrorContains(t, err, "currently promoted")
}

func TestRepository_DeleteAllowsNonCurrentVersion(t *testing.T) {
	s := memory.New()
	seedRepoVersion(t, s, "acme", "1.0.0")
	seedRepoVersion(t, s, "acme", "2.0.0")
	repo := registry.NewRepository(s, "acme")
	require.NoError(t, repo.Promote(context.Background(), "2.0.0"))

	require.NoError(t, repo.Delete(context.Background(), "1.0.0"))

	_, err := s.GetVersion(context.Background(), "acme", "1.0.0")
	require.ErrorIs(t, err, store.ErrNotFound)
}
