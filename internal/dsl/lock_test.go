package dsl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryLock_InclusionInvariant(t *testing.T) {
	_, err := NewRegistryLock(
		map[string]string{"core": "v1"},
		map[string]string{"core.http_request": "core"},
	)
	require.NoError(t, err)

	_, err = NewRegistryLock(
		map[string]string{"core": "v1"},
		map[string]string{"core.http_request": "missing_origin"},
	)
	require.Error(t, err)
}

func TestRegistryLock_Version(t *testing.T) {
	lock, err := NewRegistryLock(
		map[string]string{"core": "v1"},
		map[string]string{"core.http_request": "core"},
	)
	require.NoError(t, err)

	origin, version, ok := lock.Version("core.http_request")
	require.True(t, ok)
	require.Equal(t, "core", origin)
	require.Equal(t, "v1", version)

	_, _, ok = lock.Version("unknown.action")
	require.False(t, ok)
}
