package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/registry"
	"github.com/flowcore/flowcore/internal/registry/store/memory"
)

func seedVersion(t *testing.T, s *memory.Store) {
	t.Helper()
	err := s.SaveVersion(context.Background(), registry.RegistryVersion{
		Origin:  "core",
		Version: "v1",
		Manifest: map[string]registry.ManifestAction{
			"core.http_request": {
				Namespace: "core",
				Name:      "http_request",
				Type:      registry.ActionTypeUDF,
				UDF:       &registry.UDFImplementation{Module: "core.http", Function: "request", TarballURI: "s3://bucket/core-v1.tar.gz"},
				Secrets:   []registry.SecretSpec{{Name: "http_basic_auth"}},
			},
			"core.script.run_python": {
				Namespace: "core",
				Name:      "script.run_python",
				Type:      registry.ActionTypeUDF,
				UDF:       &registry.UDFImplementation{Module: "core.script", Function: "run_python", TarballURI: "s3://bucket/core-v1.tar.gz"},
			},
			"core.send_alert": {
				Namespace: "core",
				Name:      "send_alert",
				Type:      registry.ActionTypeTemplate,
				Template: &registry.TemplateImplementation{
					Steps: []registry.TemplateStep{
						{Ref: "req", Action: "core.http_request"},
					},
					Returns: "ACTIONS.req.result",
				},
			},
		},
	})
	require.NoError(t, err)
}

func TestResolver_Resolve(t *testing.T) {
	s := memory.New()
	seedVersion(t, s)
	resolver, err := registry.New(s, 0)
	require.NoError(t, err)

	lock, err := dsl.NewRegistryLock(
		map[string]string{"core": "v1"},
		map[string]string{"core.http_request": "core"},
	)
	require.NoError(t, err)

	impl, err := resolver.Resolve(context.Background(), "core.http_request", lock)
	require.NoError(t, err)
	require.Equal(t, registry.ActionTypeUDF, impl.Action.Type)
	require.Equal(t, "core.http", impl.Action.UDF.Module)
}

func TestResolver_CollectSecrets_RecursesThroughTemplate(t *testing.T) {
	s := memory.New()
	seedVersion(t, s)
	resolver, err := registry.New(s, 0)
	require.NoError(t, err)

	lock, err := dsl.NewRegistryLock(
		map[string]string{"core": "v1"},
		map[string]string{
			"core.send_alert":   "core",
			"core.http_request": "core",
		},
	)
	require.NoError(t, err)

	secrets, err := resolver.CollectSecrets(context.Background(), "core.send_alert", lock)
	require.NoError(t, err)
	require.Len(t, secrets, 1)
	require.Equal(t, "http_basic_auth", secrets[0].Name)
}
