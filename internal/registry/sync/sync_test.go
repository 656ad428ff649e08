package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/flowcore/internal/registry"
	"github.com/flowcore/flowcore/internal/registry/store/memory"
)

func TestSyncer_SaveVersion_SuffixesTimestampCollisions(t *testing.T) {
	st := memory.New()
	s := &Syncer{store: st}
	ctx := context.Background()

	rv := registry.RegistryVersion{Origin: "acme", Version: "20260101T000000", Manifest: map[string]registry.ManifestAction{}}
	v1, err := s.saveVersion(ctx, rv, false)
	require.NoError(t, err)
	v2, err := s.saveVersion(ctx, rv, false)
	require.NoError(t, err)
	v3, err := s.saveVersion(ctx, rv, false)
	require.NoError(t, err)

	require.Equal(t, []string{"20260101T000000", "20260101T000000-2", "20260101T000000-3"}, []string{v1, v2, v3})

	versions, err := st.ListVersions(ctx, "acme")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"20260101T000000", "20260101T000000-2", "20260101T000000-3"}, versions)
}

func TestSyncer_SaveVersion_DeterministicCollisionIsANoOp(t *testing.T) {
	st := memory.New()
	s := &Syncer{store: st}
	ctx := context.Background()

	rv := registry.RegistryVersion{Origin: "acme", Version: "abc1234", Manifest: map[string]registry.ManifestAction{}}
	v1, err := s.saveVersion(ctx, rv, true)
	require.NoError(t, err)
	v2, err := s.saveVersion(ctx, rv, true)
	require.NoError(t, err)

	require.Equal(t, "abc1234", v1)
	require.Equal(t, "abc1234", v2)

	versions, err := st.ListVersions(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, []string{"abc1234"}, versions)
}

func TestNextVersion_FallsBackToTimestampWithoutAHint(t *testing.T) {
	v := nextVersion("")
	require.Len(t, v, len("20060102T150405"))
}

func TestNextVersion_PrefersDeterministicHint(t *testing.T) {
	require.Equal(t, "abc1234", nextVersion("abc1234"))
}
